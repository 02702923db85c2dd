package pty

import (
	"bytes"
	"testing"
	"time"
)

// TestSpawnEchoAndClose mirrors the teacher's real-process integration
// style (process_test.go): start a real PTY-backed process, read its
// output, then close the PTY master.
func TestSpawnEchoAndClose(t *testing.T) {
	p, err := Spawn([]string{"/bin/sh", "-c", "echo hello-pty"}, "", nil, Size{Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	buf := make([]byte, 4096)
	var out bytes.Buffer
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		n, err := p.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil || bytes.Contains(out.Bytes(), []byte("hello-pty")) {
			break
		}
	}
	if !bytes.Contains(out.Bytes(), []byte("hello-pty")) {
		t.Fatalf("expected output to contain hello-pty, got %q", out.String())
	}

	pid := p.PID()
	if !Alive(pid) {
		// The echo may have already exited; that's fine as long as we
		// observed its output above.
		t.Logf("process %d already exited before explicit kill", pid)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSpawnLongRunningKill(t *testing.T) {
	p, err := Spawn([]string{"/bin/sh", "-c", "sleep 30"}, "", nil, Size{Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	pid := p.PID()
	if !Alive(pid) {
		t.Fatal("expected sleep process to be alive immediately after spawn")
	}

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && Alive(pid) {
		time.Sleep(10 * time.Millisecond)
	}
	if Alive(pid) {
		t.Errorf("expected process %d to be dead after Kill", pid)
	}
}

func TestResolveShellFallsBackWhenUnset(t *testing.T) {
	t.Setenv("SHELL", "")
	shell := ResolveShell()
	if len(shell) == 0 {
		t.Fatal("expected a non-empty shell resolution")
	}
}
