// Package session implements the session manager (component C5) and
// control-directory watcher (component C6). It ties together
// internal/pty, internal/control, internal/recording, internal/eventloop,
// and internal/termbuffer into the spec's session lifecycle.
//
// Grounded on the teacher's src/handler/terminal/session_manager.go:
// a registry of long-lived sessions that survive client disconnects,
// an output ring buffer per session, a read loop broadcasting to
// subscribers, and a periodic cleanup loop for idle sessions. The
// event-driven PTY/FIFO bridge is grounded on internal/eventloop's own
// epoll/kqueue/polling backends, wired here the way the teacher's
// terminal handler wires its own blocking read loop, generalized to a
// readiness-driven multi-fd bridge across the PTY master, stdin FIFO,
// and control FIFO described in the VibeTunnel ports' control
// directory layout.
package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/vibetunnel/vtserver/internal/apperr"
	"github.com/vibetunnel/vtserver/internal/control"
	"github.com/vibetunnel/vtserver/internal/eventloop"
	"github.com/vibetunnel/vtserver/internal/pty"
	"github.com/vibetunnel/vtserver/internal/recording"
	"github.com/vibetunnel/vtserver/internal/termbuffer"
)

const (
	cleanupInterval = 30 * time.Second
	idleTimeout     = 24 * time.Hour

	defaultCols = 80
	defaultRows = 24

	adoptedPollInterval = 1 * time.Second

	bridgeReadSize = 8192
)

// CreateOptions describes a new session request (spec §4.1). Cols and
// Rows are pointers so an omitted dimension (nil, defaulted to
// 80x24) can be told apart from one explicitly sent as 0 (rejected).
type CreateOptions struct {
	Name    string
	Command []string
	Cwd     string
	Env     map[string]string
	Cols    *int
	Rows    *int
}

// Subscriber receives raw PTY output bytes for a live session.
type Subscriber struct {
	Ch   chan []byte
	done chan struct{}
}

// Session is one managed PTY-backed session. Most sessions are owned:
// this process spawned proc directly and bridges its I/O. A session
// can also be adopted (see Watcher.reconcile): its control directory
// and a live pid were discovered on disk rather than created by this
// process's Manager.Create, so there is no proc, recorder, or bridge
// goroutine backing it — only pid liveness tracking and best-effort
// FIFO writes, since the PTY master fd lives (or lived) in a different
// process's file table and cannot be reclaimed here.
type Session struct {
	ID   string
	Name string

	adopted bool
	pid     int

	proc    *pty.Process
	control *control.Dir
	rec     *recording.Writer
	buf     *termbuffer.Engine

	mu              sync.RWMutex
	cols, rows      int
	colResizeLocked bool
	exited          bool
	exitCode        int
	startedAt       time.Time
	lastActivity    time.Time

	stdinW   *os.File
	controlW *os.File

	controlMu  sync.Mutex
	controlBuf []byte

	subMu       sync.RWMutex
	subscribers map[*Subscriber]struct{}

	doneCh    chan struct{}
	closeOnce sync.Once

	stopBridgeCh chan struct{}
	bridgeOnce   sync.Once

	changeMu        sync.RWMutex
	changeListeners map[int]func(id string)
	nextListenerID  int
}

// Manager is the registry of live sessions, grounded on the teacher's
// singleton SessionManager (here instantiated per-server rather than
// as a package-level singleton, since a server process only ever needs
// one and tests want isolated instances).
type Manager struct {
	baseDir string

	mu       sync.RWMutex
	sessions map[string]*Session

	stopCh chan struct{}
}

// NewManager creates a Manager rooted at baseDir for control directories.
func NewManager(baseDir string) *Manager {
	m := &Manager{
		baseDir:  baseDir,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Create spawns a new PTY-backed session and registers it.
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	cols, err := resolveDimension(opts.Cols, defaultCols)
	if err != nil {
		return nil, err
	}
	rows, err := resolveDimension(opts.Rows, defaultRows)
	if err != nil {
		return nil, err
	}

	if opts.Cwd != "" {
		fi, err := os.Stat(opts.Cwd)
		if err != nil || !fi.IsDir() {
			return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("workingDir %q does not exist", opts.Cwd))
		}
	}

	id := uuid.NewString()
	cdir := control.New(m.baseDir, id)

	proc, err := pty.Spawn(opts.Command, opts.Cwd, opts.Env, pty.Size{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "spawn pty", err)
	}

	info := control.Info{
		ID:        id,
		Name:      opts.Name,
		Command:   opts.Command,
		Cwd:       opts.Cwd,
		Cols:      cols,
		Rows:      rows,
		Env:       opts.Env,
		Pid:       proc.PID(),
		StartedAt: time.Now(),
		Status:    "running",
	}
	if err := cdir.Create(info); err != nil {
		proc.Close()
		return nil, apperr.Wrap(apperr.Internal, "create control directory", err)
	}

	rec, err := recording.Create(cdir.StreamOutPath(), recording.Header{
		Width:   cols,
		Height:  rows,
		Command: opts.Command,
		Title:   opts.Name,
	})
	if err != nil {
		proc.Close()
		cdir.Destroy()
		return nil, apperr.Wrap(apperr.Internal, "create recording", err)
	}

	s := &Session{
		ID:              id,
		Name:            opts.Name,
		proc:            proc,
		control:         cdir,
		rec:             rec,
		cols:            cols,
		rows:            rows,
		startedAt:       info.StartedAt,
		lastActivity:    info.StartedAt,
		subscribers:     make(map[*Subscriber]struct{}),
		doneCh:          make(chan struct{}),
		stopBridgeCh:    make(chan struct{}),
		changeListeners: make(map[int]func(id string)),
	}
	s.buf = termbuffer.New(cols, rows, func() { s.notifyBufferChange() })

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	go s.bridge()
	go s.watchExit()

	logrus.WithField("session", id).Info("session created")
	return s, nil
}

// resolveDimension returns def when dim is nil (omitted), dim's value
// when positive, and an InvalidArgument error when dim is exactly
// zero (spec §8: "cols=0 or rows=0 rejected"). A negative value is
// treated defensively the same as omitted.
func resolveDimension(dim *int, def int) (int, error) {
	if dim == nil {
		return def, nil
	}
	if *dim == 0 {
		return 0, apperr.New(apperr.InvalidArgument, "dimension must not be 0")
	}
	if *dim < 0 {
		return def, nil
	}
	return *dim, nil
}

// adopt registers an externally-created, still-live session discovered
// by the control-directory watcher (spec §4.6). It has no owned proc:
// the PTY master fd that info.pid's process inherited lives in whatever
// process originally spawned it, which may no longer exist, so the
// only operations this process can perform on it directly are pid
// liveness checks and signals. Input/resize still go through the
// session's FIFOs the same way any external writer would, in keeping
// with the control directory being the protocol's source of truth.
func (m *Manager) adopt(id string, info control.Info) *Session {
	cdir := control.New(m.baseDir, id)
	s := &Session{
		ID:              id,
		Name:            info.Name,
		adopted:         true,
		pid:             info.Pid,
		control:         cdir,
		cols:            info.Cols,
		rows:            info.Rows,
		startedAt:       info.StartedAt,
		lastActivity:    time.Now(),
		subscribers:     make(map[*Subscriber]struct{}),
		doneCh:          make(chan struct{}),
		stopBridgeCh:    make(chan struct{}),
		changeListeners: make(map[int]func(id string)),
	}
	if s.cols == 0 {
		s.cols = defaultCols
	}
	if s.rows == 0 {
		s.rows = defaultRows
	}
	s.buf = termbuffer.New(s.cols, s.rows, func() { s.notifyBufferChange() })

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	go s.watchAdoptedExit()

	logrus.WithFields(logrus.Fields{"session": id, "pid": info.Pid}).Info("session adopted")
	return s
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("session %s not found", id))
	}
	return s, nil
}

// List returns all live sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Kill terminates and unregisters a session.
func (m *Manager) Kill(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return apperr.New(apperr.NotFound, fmt.Sprintf("session %s not found", id))
	}
	s.terminate()
	return nil
}

// CleanupExited immediately removes every session whose status is
// exited (spec §4.5's C5 operation), unlike the time-gated background
// reaper in cleanup, which only reaps sessions that have been exited
// for longer than idleTimeout. It's safe to call on demand and is
// idempotent: a second call finds nothing left to remove.
func (m *Manager) CleanupExited() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.IsExited() {
			s.terminate()
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Stop halts the cleanup loop. Sessions remain running until individually killed.
func (m *Manager) Stop() {
	close(m.stopCh)
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.IsExited() && time.Since(s.exitedAt()) > idleTimeout {
			s.terminate()
			delete(m.sessions, id)
		}
	}
}

// bridge is the event-driven I/O path for an owned session (spec §4.3
// "Bridging (event-driven path)"): register the PTY master, the stdin
// FIFO, and the control FIFO with a readiness loop, draining each with
// non-blocking reads until EAGAIN whenever it becomes readable. If the
// platform event loop can't be created, it falls back to a blocking
// read of the PTY master alone; the stdin and control FIFOs are then
// not read.
func (s *Session) bridge() {
	masterFD := int(s.proc.PTY.Fd())
	if err := unix.SetNonblock(masterFD, true); err != nil {
		logrus.WithError(err).WithField("session", s.ID).Warn("set pty master nonblocking")
	}

	stdinFile, err := os.OpenFile(s.control.StdinPath(), os.O_RDWR, 0)
	if err != nil {
		logrus.WithError(err).WithField("session", s.ID).Warn("open stdin fifo for reading")
	} else {
		unix.SetNonblock(int(stdinFile.Fd()), true)
		defer stdinFile.Close()
	}

	controlFile, err := os.OpenFile(s.control.ControlPath(), os.O_RDWR, 0)
	if err != nil {
		logrus.WithError(err).WithField("session", s.ID).Warn("open control fifo for reading")
	} else {
		unix.SetNonblock(int(controlFile.Fd()), true)
		defer controlFile.Close()
	}

	loop, err := eventloop.New()
	if err != nil {
		logrus.WithError(err).WithField("session", s.ID).Warn("event loop unavailable, falling back to blocking pty reads")
		s.blockingBridge()
		return
	}
	defer loop.Close()

	loop.Add(masterFD, false, func(ev eventloop.Event) {
		if !s.drainMaster(masterFD) {
			loop.Stop()
		}
	})
	if stdinFile != nil {
		fd := int(stdinFile.Fd())
		loop.Add(fd, false, func(ev eventloop.Event) { s.drainStdin(fd) })
	}
	if controlFile != nil {
		fd := int(controlFile.Fd())
		loop.Add(fd, false, func(ev eventloop.Event) { s.drainControl(fd) })
	}

	go func() {
		select {
		case <-s.stopBridgeCh:
			loop.Stop()
		case <-s.doneCh:
			loop.Stop()
		}
	}()

	if err := loop.Run(); err != nil && err != eventloop.ErrClosed {
		logrus.WithError(err).WithField("session", s.ID).Warn("event loop exited with error")
	}
}

// blockingBridge is the fallback path when eventloop.New fails
// entirely (spec §4.3's polling fallback covers the New()-succeeds,
// select-backend case; this covers New() itself erroring out).
func (s *Session) blockingBridge() {
	buf := make([]byte, bridgeReadSize)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			s.handleOutput(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) drainMaster(fd int) (open bool) {
	buf := make([]byte, bridgeReadSize)
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			s.handleOutput(buf[:n])
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return true
		}
		if err != nil || n == 0 {
			return false
		}
	}
}

func (s *Session) handleOutput(p []byte) {
	data := make([]byte, len(p))
	copy(data, p)
	s.rec.Output(data)
	s.buf.Write(data)
	s.broadcast(data)
	s.TouchActivity()
}

func (s *Session) drainStdin(fd int) {
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.proc.Write(data)
			s.rec.Input(data)
			s.TouchActivity()
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || (n == 0 && err == nil) {
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) drainControl(fd int) {
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			s.controlMu.Lock()
			s.controlBuf = append(s.controlBuf, buf[:n]...)
			for {
				idx := bytes.IndexByte(s.controlBuf, '\n')
				if idx < 0 {
					break
				}
				line := append([]byte{}, s.controlBuf[:idx]...)
				s.controlBuf = s.controlBuf[idx+1:]
				s.handleControlLine(line)
			}
			s.controlMu.Unlock()
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || (n == 0 && err == nil) {
			return
		}
		if err != nil {
			return
		}
	}
}

// controlCommand is the control-FIFO command language (spec §6):
// newline-delimited JSON objects, unknown cmd values logged and
// ignored rather than treated as an error.
type controlCommand struct {
	Cmd    string `json:"cmd"`
	Cols   int    `json:"cols"`
	Rows   int    `json:"rows"`
	Signal string `json:"signal"`
	Name   string `json:"name"`
}

func (s *Session) handleControlLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var cmd controlCommand
	if err := json.Unmarshal(line, &cmd); err != nil {
		logrus.WithError(err).WithField("session", s.ID).Warn("control fifo: malformed command, ignoring")
		return
	}
	switch cmd.Cmd {
	case "resize":
		if cmd.Cols > 0 && cmd.Rows > 0 {
			s.Resize(cmd.Cols, cmd.Rows)
		}
	case "kill":
		if cmd.Signal != "" {
			if sig, ok := pty.ParseSignal(cmd.Signal); ok {
				s.proc.SendSignal(sig)
				return
			}
			logrus.WithField("session", s.ID).WithField("signal", cmd.Signal).Warn("control fifo: unknown signal, ignoring")
			return
		}
		s.proc.Kill()
	case "rename":
		if cmd.Name != "" {
			s.mu.Lock()
			s.Name = cmd.Name
			s.mu.Unlock()
			if info, err := s.control.Load(); err == nil {
				info.Name = cmd.Name
				s.control.Save(info)
			}
		}
	default:
		logrus.WithField("session", s.ID).WithField("cmd", cmd.Cmd).Warn("control fifo: unknown command, ignoring")
	}
}

func (s *Session) watchExit() {
	code, _ := s.proc.Wait()
	s.mu.Lock()
	s.exited = true
	s.exitCode = code
	s.mu.Unlock()
	s.rec.Exit(code, s.ID)
	if info, err := s.control.Load(); err == nil {
		now := time.Now()
		info.Status = "exited"
		info.ExitCode = &code
		info.ExitedAt = &now
		s.control.Save(info)
	}
	s.finish()
}

// watchAdoptedExit polls pid liveness, since an adopted session has no
// *exec.Cmd to Wait() on.
func (s *Session) watchAdoptedExit() {
	ticker := time.NewTicker(adoptedPollInterval)
	defer ticker.Stop()
	for range ticker.C {
		if pty.Alive(s.pid) {
			continue
		}
		s.mu.Lock()
		s.exited = true
		s.mu.Unlock()
		if info, err := s.control.Load(); err == nil {
			now := time.Now()
			info.Status = "exited"
			info.ExitedAt = &now
			s.control.Save(info)
		}
		s.finish()
		return
	}
}

func (s *Session) finish() {
	s.bridgeOnce.Do(func() { close(s.stopBridgeCh) })
	s.closeOnce.Do(func() { close(s.doneCh) })
}

func (s *Session) exitedAt() time.Time {
	info, err := s.control.Load()
	if err != nil || info.ExitedAt == nil {
		return time.Time{}
	}
	return *info.ExitedAt
}

func (s *Session) broadcast(data []byte) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for sub := range s.subscribers {
		select {
		case sub.Ch <- data:
		case <-sub.done:
		default:
		}
	}
}

// Subscribe registers a new output subscriber.
func (s *Session) Subscribe() *Subscriber {
	sub := &Subscriber{Ch: make(chan []byte, 64), done: make(chan struct{})}
	s.subMu.Lock()
	s.subscribers[sub] = struct{}{}
	s.subMu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.subMu.Lock()
	delete(s.subscribers, sub)
	s.subMu.Unlock()
	select {
	case <-sub.done:
	default:
		close(sub.done)
	}
}

// SendInput writes bytes to the session's stdin FIFO, exactly as any
// external writer would (spec §1/§3's "control directory is the
// source of truth"): the bridging goroutine (for owned sessions) or
// whatever process is genuinely attached (for adopted ones) is the
// reader, and is responsible for forwarding the bytes to the PTY and
// recording them.
func (s *Session) SendInput(data []byte) error {
	if s.IsExited() {
		return apperr.New(apperr.Conflict, "session has exited")
	}
	w, err := s.stdinWriter()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "open stdin fifo", err)
	}
	if _, err := w.Write(data); err != nil {
		return apperr.Wrap(apperr.Internal, "write input", err)
	}
	return nil
}

func (s *Session) stdinWriter() (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdinW != nil {
		return s.stdinW, nil
	}
	f, err := os.OpenFile(s.control.StdinPath(), os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	s.stdinW = f
	return s.stdinW, nil
}

func (s *Session) controlWriter() (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.controlW != nil {
		return s.controlW, nil
	}
	f, err := os.OpenFile(s.control.ControlPath(), os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	s.controlW = f
	return s.controlW, nil
}

func (s *Session) sendControlCommand(cmd controlCommand) error {
	w, err := s.controlWriter()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "open control fifo", err)
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "encode control command", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return apperr.Wrap(apperr.Internal, "write control command", err)
	}
	return nil
}

// Resize changes the PTY size, unless column resize has been locked by a
// prior client attach at a different width (spec §4.5's "first client
// attach pins the columns" policy, grounded on the VibeTunnel port's
// doNotAllowColumnSet flag). Adopted sessions have no local PTY fd to
// resize directly, so the request goes out over the control FIFO
// instead, same as any external writer would send it.
func (s *Session) Resize(cols, rows int) error {
	s.mu.Lock()
	if s.colResizeLocked {
		cols = s.cols
	}
	s.cols, s.rows = cols, rows
	adopted := s.adopted
	s.mu.Unlock()

	if adopted {
		return s.sendControlCommand(controlCommand{Cmd: "resize", Cols: cols, Rows: rows})
	}

	if err := s.proc.Resize(pty.Size{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return apperr.Wrap(apperr.Internal, "resize pty", err)
	}
	s.buf.Resize(cols, rows)
	s.rec.Resize(cols, rows)
	if info, err := s.control.Load(); err == nil {
		info.Cols, info.Rows = cols, rows
		s.control.Save(info)
	}
	s.TouchActivity()
	return nil
}

// LockColumnResize disables further column-dimension resizes, called
// once a client attaches at a size the server should stop negotiating
// away from.
func (s *Session) LockColumnResize() {
	s.mu.Lock()
	s.colResizeLocked = true
	s.mu.Unlock()
}

// Buffer returns the session's terminal buffer engine (C7).
func (s *Session) Buffer() *termbuffer.Engine { return s.buf }

// Dimensions returns the current cols/rows.
func (s *Session) Dimensions() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cols, s.rows
}

// IsExited reports whether the underlying process has exited.
func (s *Session) IsExited() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exited
}

// ExitCode returns the process exit code; valid only once IsExited is true.
func (s *Session) ExitCode() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitCode
}

// Done returns a channel closed when the session's process exits.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// ControlPath returns the session's control directory path.
func (s *Session) ControlPath() string { return s.control.Path }

// TouchActivity records that input or output just flowed through the
// session, for GET .../activity's idle-vs-active accounting.
func (s *Session) TouchActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time input or output was last observed.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *Session) notifyBufferChange() {
	s.changeMu.RLock()
	defer s.changeMu.RUnlock()
	for _, fn := range s.changeListeners {
		fn(s.ID)
	}
}

// OnBufferChange registers a callback invoked on every debounced
// terminal buffer change (wired by internal/wsbuffer so each
// subscribed client gets pushed a fresh snapshot). Multiple callbacks
// may be registered concurrently, one per subscribed client. The
// returned function deregisters this particular callback.
func (s *Session) OnBufferChange(fn func(id string)) (unregister func()) {
	s.changeMu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.changeListeners[id] = fn
	s.changeMu.Unlock()

	return func() {
		s.changeMu.Lock()
		delete(s.changeListeners, id)
		s.changeMu.Unlock()
	}
}

func (s *Session) terminate() {
	if s.adopted {
		if s.pid > 0 {
			syscall.Kill(s.pid, syscall.SIGTERM)
		}
	} else {
		s.proc.Kill()
	}
	s.finish()
	if s.rec != nil {
		s.rec.Close()
	}
	if s.buf != nil {
		s.buf.Close()
	}
	s.mu.Lock()
	if s.stdinW != nil {
		s.stdinW.Close()
	}
	if s.controlW != nil {
		s.controlW.Close()
	}
	s.mu.Unlock()
	s.control.Destroy()
}
