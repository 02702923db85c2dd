package control

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateLoadSaveDestroy(t *testing.T) {
	base := t.TempDir()
	d := New(base, "sess-1")

	info := Info{ID: "sess-1", Command: []string{"/bin/bash"}, Cols: 80, Rows: 24, Status: "running", Pid: 1234}
	if err := d.Create(info); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := os.Stat(d.StdinPath()); err != nil {
		t.Fatalf("stdin FIFO missing: %v", err)
	}
	if fi, err := os.Stat(d.StdinPath()); err == nil && fi.Mode()&os.ModeNamedPipe == 0 {
		t.Errorf("stdin path is not a FIFO: mode=%v", fi.Mode())
	}

	loaded, err := d.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != "sess-1" || loaded.Cols != 80 || loaded.Pid != 1234 {
		t.Errorf("unexpected loaded info: %+v", loaded)
	}

	loaded.Status = "exited"
	if err := d.Save(loaded); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reloaded, err := d.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != "exited" {
		t.Errorf("expected status exited, got %q", reloaded.Status)
	}

	if err := d.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(d.Path); !os.IsNotExist(err) {
		t.Errorf("expected control dir to be gone, got err=%v", err)
	}
	// Idempotent.
	if err := d.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	base := t.TempDir()
	d := New(base, "sess-2")
	if err := d.Create(Info{ID: "sess-2", Status: "running"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := d.Save(Info{ID: "sess-2", Status: "running"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(d.Path, "info.json.tmp")); !os.IsNotExist(err) {
		t.Errorf("expected temp file to be renamed away, err=%v", err)
	}
}
