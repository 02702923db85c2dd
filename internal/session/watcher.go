package session

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/vibetunnel/vtserver/internal/control"
	"github.com/vibetunnel/vtserver/internal/pty"
)

// Watcher reconciles externally-made changes to the control directory
// tree (component C6): another process removing a session's directory
// out from under the server, or a session directory appearing that no
// in-memory Manager ever created (spec §4.6's adoption). Only the base
// directory is watched, so changes inside a session's directory (such
// as writes to its FIFOs) are not seen. Grounded on
// the teacher's fsnotify.Watcher usage in src/handler/filesystem.go,
// generalized from a single-directory request-scoped watch into a
// long-lived debounced reconciler over the whole base directory.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	timers   map[string]*time.Timer
	debounce time.Duration

	stopCh chan struct{}
}

// NewWatcher creates a Watcher over m's base control directory.
func NewWatcher(m *Manager) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.baseDir, 0700); err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(m.baseDir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		manager:  m,
		watcher:  fw,
		timers:   make(map[string]*time.Timer),
		debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}, nil
}

// Run processes fsnotify events until Stop is called.
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("control directory watcher error")
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	id := filepath.Base(event.Name)
	if id == "" || id == "." {
		return
	}
	w.mu.Lock()
	if t, ok := w.timers[id]; ok {
		t.Stop()
	}
	w.timers[id] = time.AfterFunc(w.debounce, func() { w.reconcile(id) })
	w.mu.Unlock()
}

// reconcile brings the in-memory registry in line with what the
// filesystem says about session id: if the session's control
// directory no longer exists, a tracked session is dropped; if the
// directory exists but nothing tracks it, it's adopted (spec §4.6).
func (w *Watcher) reconcile(id string) {
	w.mu.Lock()
	delete(w.timers, id)
	w.mu.Unlock()

	w.manager.mu.RLock()
	s, tracked := w.manager.sessions[id]
	w.manager.mu.RUnlock()

	dirPath := filepath.Join(w.manager.baseDir, id)
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		if !tracked {
			return
		}
		logrus.WithField("session", id).Warn("control directory removed externally, dropping session")
		w.manager.mu.Lock()
		delete(w.manager.sessions, id)
		w.manager.mu.Unlock()
		s.terminate()
		return
	}

	if tracked {
		return
	}
	w.adopt(id)
}

// adopt inspects an externally-created session directory's info.json:
// a live pid is registered as an adopted Session (spec §4.6); a dead
// one just gets its status corrected on disk without ever entering
// the in-memory registry.
func (w *Watcher) adopt(id string) {
	cdir := control.New(w.manager.baseDir, id)
	info, err := cdir.Load()
	if err != nil {
		// info.json not written yet (directory creation is racing
		// ahead of Dir.Save), or this isn't a session directory at
		// all. Either way, there's nothing to adopt right now; a
		// later fsnotify event on the same id will retry.
		return
	}
	if info.Status == "exited" {
		return
	}
	if pty.Alive(info.Pid) {
		w.manager.adopt(id, info)
		return
	}
	logrus.WithFields(logrus.Fields{"session": id, "pid": info.Pid}).Info("adopted session's pid is gone, marking exited")
	now := time.Now()
	info.Status = "exited"
	info.ExitedAt = &now
	cdir.Save(info)
}

// Stop halts the watcher and releases its inotify/kqueue handle.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
}
