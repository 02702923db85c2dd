package recording

import (
	"io"
	"path/filepath"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream-out")

	w, err := Create(path, Header{Width: 80, Height: 24, Command: []string{"/bin/bash"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Output([]byte("hello\r\n")); err != nil {
		t.Fatalf("Output: %v", err)
	}
	if err := w.Input([]byte("ls\n")); err != nil {
		t.Fatalf("Input: %v", err)
	}
	if err := w.Resize(100, 30); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if err := w.Exit(0, "sess-1"); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	if h := r.Header(); h.Width != 80 || h.Height != 24 {
		t.Fatalf("unexpected header: %+v", h)
	}

	var events []*Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		events = append(events, ev)
	}

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Kind != EventOutput || events[0].Data != "hello\r\n" {
		t.Errorf("unexpected output event: %+v", events[0])
	}
	if events[1].Kind != EventInput || events[1].Data != "ls\n" {
		t.Errorf("unexpected input event: %+v", events[1])
	}
	if events[2].Kind != EventResize || events[2].Data != "100x30" {
		t.Errorf("unexpected resize event: %+v", events[2])
	}
	if events[3].Kind != EventExit || events[3].ExitCode != 0 || events[3].SessionID != "sess-1" {
		t.Errorf("unexpected exit event: %+v", events[3])
	}
}

func TestWriterRejectsWriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream-out")
	w, err := Create(path, Header{Width: 80, Height: 24})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Output([]byte("too late")); err == nil {
		t.Fatal("expected error writing after close")
	}
	// Close is idempotent.
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
