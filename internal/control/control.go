// Package control manages each session's on-disk control directory: the
// info.json metadata file and the stdin FIFO a client can write to
// directly, grounded on the teacher's atomic-state-file idiom
// (src/handler/process/state.go) and the VibeTunnel port's
// saveSessionInfo/loadSessionInfo control-directory layout.
package control

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Info is the serialized session metadata persisted as info.json.
type Info struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Command    []string          `json:"command"`
	Cwd        string            `json:"cwd"`
	Cols       int               `json:"cols"`
	Rows       int               `json:"rows"`
	Env        map[string]string `json:"env,omitempty"`
	Pid        int               `json:"pid"`
	StartedAt  time.Time         `json:"startedAt"`
	Status     string            `json:"status"`
	ExitCode   *int              `json:"exitCode,omitempty"`
	ExitedAt   *time.Time        `json:"exitedAt,omitempty"`
	Title      string            `json:"title,omitempty"`
	LastInput  time.Time         `json:"lastInputAt,omitempty"`
}

// Dir is the control directory for one session.
type Dir struct {
	Path string
}

const (
	infoFileName    = "info.json"
	stdinFileName   = "stdin"
	controlFileName = "control"
	streamOutName   = "stream-out"
)

// New returns a handle for the control directory rooted at baseDir/id,
// without touching the filesystem.
func New(baseDir, id string) *Dir {
	return &Dir{Path: filepath.Join(baseDir, id)}
}

// InfoPath returns the path to info.json.
func (d *Dir) InfoPath() string { return filepath.Join(d.Path, infoFileName) }

// StdinPath returns the path to the stdin FIFO.
func (d *Dir) StdinPath() string { return filepath.Join(d.Path, stdinFileName) }

// StreamOutPath returns the path to the recorded output stream.
func (d *Dir) StreamOutPath() string { return filepath.Join(d.Path, streamOutName) }

// ControlPath returns the path to the control-command FIFO: newline-
// delimited JSON commands ({"cmd":"resize",...}, {"cmd":"kill",...},
// {"cmd":"rename",...}) a client can write without going through HTTP.
func (d *Dir) ControlPath() string { return filepath.Join(d.Path, controlFileName) }

// Create makes the control directory, the stdin and control FIFOs, and
// an initial info.json, in that order, so a watcher never observes a
// directory without metadata.
func (d *Dir) Create(info Info) error {
	if err := os.MkdirAll(d.Path, 0700); err != nil {
		return fmt.Errorf("control: mkdir %s: %w", d.Path, err)
	}
	if err := makeFIFO(d.StdinPath()); err != nil {
		return fmt.Errorf("control: mkfifo %s: %w", d.StdinPath(), err)
	}
	if err := makeFIFO(d.ControlPath()); err != nil {
		return fmt.Errorf("control: mkfifo %s: %w", d.ControlPath(), err)
	}
	return d.Save(info)
}

// Save atomically rewrites info.json via a temp file + fsync + rename,
// the same pattern the teacher's process manager uses for its state file.
func (d *Dir) Save(info Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	tmp := d.InfoPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("control: write %s: %w", tmp, err)
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("control: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, d.InfoPath()); err != nil {
		return fmt.Errorf("control: rename %s: %w", tmp, err)
	}
	return nil
}

// Load reads and decodes info.json. Callers should tolerate ENOENT as
// "not yet created" rather than treating it as a hard error.
func (d *Dir) Load() (Info, error) {
	var info Info
	data, err := os.ReadFile(d.InfoPath())
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("control: decode %s: %w", d.InfoPath(), err)
	}
	return info, nil
}

// Destroy removes the entire control directory. Idempotent.
func (d *Dir) Destroy() error {
	err := os.RemoveAll(d.Path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func makeFIFO(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return syscall.Mkfifo(path, 0600)
}
