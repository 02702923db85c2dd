package session

import (
	"bytes"
	"testing"
	"time"
)

func TestManagerCreateSendInputAndKill(t *testing.T) {
	m := NewManager(t.TempDir())
	defer m.Stop()

	t.Run("CreateAndEcho", func(t *testing.T) {
		s, err := m.Create(CreateOptions{Command: []string{"/bin/sh", "-i"}, Cols: intPtr(80), Rows: intPtr(24)})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		sub := s.Subscribe()
		defer s.Unsubscribe(sub)

		if err := s.SendInput([]byte("echo from-session-test\n")); err != nil {
			t.Fatalf("SendInput: %v", err)
		}

		var got bytes.Buffer
		deadline := time.After(3 * time.Second)
	loop:
		for {
			select {
			case data := <-sub.Ch:
				got.Write(data)
				if bytes.Contains(got.Bytes(), []byte("from-session-test")) {
					break loop
				}
			case <-deadline:
				break loop
			}
		}
		if !bytes.Contains(got.Bytes(), []byte("from-session-test")) {
			t.Fatalf("expected echoed output, got %q", got.String())
		}

		if err := m.Kill(s.ID); err != nil {
			t.Fatalf("Kill: %v", err)
		}
		if _, err := m.Get(s.ID); err == nil {
			t.Fatal("expected session to be gone after Kill")
		}
	})
}

func TestResizeLocksColumnsAfterAttach(t *testing.T) {
	m := NewManager(t.TempDir())
	defer m.Stop()

	s, err := m.Create(CreateOptions{Command: []string{"/bin/sh", "-i"}, Cols: intPtr(80), Rows: intPtr(24)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Kill(s.ID)

	s.LockColumnResize()
	if err := s.Resize(120, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	cols, rows := s.Dimensions()
	if cols != 80 {
		t.Errorf("expected cols to stay pinned at 80, got %d", cols)
	}
	if rows != 40 {
		t.Errorf("expected rows to update to 40, got %d", rows)
	}
}

func TestGetUnknownSession(t *testing.T) {
	m := NewManager(t.TempDir())
	defer m.Stop()
	if _, err := m.Get("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestCreateRejectsExplicitZeroDimensions(t *testing.T) {
	m := NewManager(t.TempDir())
	defer m.Stop()

	if _, err := m.Create(CreateOptions{Command: []string{"/bin/sh", "-i"}, Cols: intPtr(0), Rows: intPtr(24)}); err == nil {
		t.Fatal("expected error for cols=0")
	}
	if _, err := m.Create(CreateOptions{Command: []string{"/bin/sh", "-i"}, Cols: intPtr(24), Rows: intPtr(0)}); err == nil {
		t.Fatal("expected error for rows=0")
	}
}

func TestCreateDefaultsOmittedDimensions(t *testing.T) {
	m := NewManager(t.TempDir())
	defer m.Stop()

	s, err := m.Create(CreateOptions{Command: []string{"/bin/sh", "-i"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Kill(s.ID)
	cols, rows := s.Dimensions()
	if cols != defaultCols || rows != defaultRows {
		t.Errorf("expected default dimensions %dx%d, got %dx%d", defaultCols, defaultRows, cols, rows)
	}
}

func TestCreateRejectsMissingWorkingDir(t *testing.T) {
	m := NewManager(t.TempDir())
	defer m.Stop()

	_, err := m.Create(CreateOptions{Command: []string{"/bin/sh", "-i"}, Cwd: "/no/such/directory"})
	if err == nil {
		t.Fatal("expected error for nonexistent workingDir")
	}
}

func TestCleanupExitedRemovesExitedSessions(t *testing.T) {
	m := NewManager(t.TempDir())
	defer m.Stop()

	s, err := m.Create(CreateOptions{Command: []string{"/bin/sh", "-c", "exit 0"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("expected process to exit")
	}

	if removed := m.CleanupExited(); removed != 1 {
		t.Fatalf("expected CleanupExited to remove 1 session, removed %d", removed)
	}
	if _, err := m.Get(s.ID); err == nil {
		t.Fatal("expected session to be gone after CleanupExited")
	}
	// Idempotent.
	if removed := m.CleanupExited(); removed != 0 {
		t.Errorf("expected second CleanupExited to remove nothing, removed %d", removed)
	}
}

func intPtr(v int) *int { return &v }
