package eventloop

import (
	"os"
	"testing"
	"time"
)

func TestAddReceivesReadableEvent(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	got := make(chan Event, 1)
	if err := l.Add(int(r.Fd()), false, func(ev Event) {
		select {
		case got <- ev:
		default:
		}
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	go l.Run()
	defer l.Stop()

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-got:
		if ev.FD != int(r.Fd()) {
			t.Errorf("expected event for read fd, got FD=%d", ev.FD)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for readability event")
	}
}

func TestStopUnblocksRun(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	l.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not unblock Run")
	}
}
