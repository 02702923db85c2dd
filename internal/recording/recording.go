// Package recording implements the asciinema-compatible stream format
// described in spec §4.2/§6: a header line followed by one JSON array
// per timed event. It is the Stream Writer component (C2).
package recording

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventKind distinguishes the recorded event types.
type EventKind string

const (
	EventOutput EventKind = "o"
	EventInput  EventKind = "i"
	EventResize EventKind = "r"
	EventExit   EventKind = "exit"
)

// Header is the first line written to a stream file.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Command   []string          `json:"command,omitempty"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is a decoded record from the stream body (anything after the header).
// Exit records carry ExitCode/SessionID instead of Time/Data.
type Event struct {
	Time      float64
	Kind      EventKind
	Data      string
	ExitCode  int
	SessionID string
}

// Writer appends records to a single session's stream-out file. Only the
// owning PTY bridging goroutine may call its methods (see spec §4.3
// "Concurrency model"); the internal mutex is there to make concurrent
// Close-while-writing safe, not to support multiple writers.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	start   time.Time
	closed  bool
}

// Create opens path for writing and emits the header line.
func Create(path string, h Header) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("recording: create %s: %w", path, err)
	}
	if h.Version == 0 {
		h.Version = 2
	}
	if h.Timestamp == 0 {
		h.Timestamp = time.Now().Unix()
	}
	w := &Writer{
		file:  f,
		buf:   bufio.NewWriter(f),
		start: time.Now(),
	}
	line, err := json.Marshal(h)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := w.writeLineLocked(line); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeLineLocked(line []byte) error {
	if _, err := w.buf.Write(line); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *Writer) elapsed() float64 {
	ms := time.Since(w.start).Milliseconds()
	return float64(ms) / 1000.0
}

// Output appends an output record.
func (w *Writer) Output(data []byte) error { return w.timed(EventOutput, data) }

// Input appends an input record.
func (w *Writer) Input(data []byte) error { return w.timed(EventInput, data) }

func (w *Writer) timed(kind EventKind, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("recording: write after close")
	}
	rec := []interface{}{w.elapsed(), string(kind), string(data)}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return w.writeLineLocked(line)
}

// Resize appends a resize record in the "{cols}x{rows}" form.
func (w *Writer) Resize(cols, rows int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("recording: write after close")
	}
	rec := []interface{}{w.elapsed(), string(EventResize), fmt.Sprintf("%dx%d", cols, rows)}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return w.writeLineLocked(line)
}

// Exit appends the terminal exit record. It does not close the Writer:
// later writes still succeed until Close is called.
func (w *Writer) Exit(code int, sessionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	rec := []interface{}{"exit", code, sessionID}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return w.writeLineLocked(line)
}

// Close flushes and closes the underlying file. Idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Reader replays a stream file record by record. The SSE handler and the
// terminal buffer engine do not use it; they consume live output only.
type Reader struct {
	s *bufio.Scanner
	h *Header
}

// OpenReader opens path and decodes its header line.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 8*1024*1024)
	var h Header
	if s.Scan() {
		if err := json.Unmarshal(s.Bytes(), &h); err != nil {
			f.Close()
			return nil, fmt.Errorf("recording: bad header in %s: %w", path, err)
		}
	}
	return &Reader{s: s, h: &h}, nil
}

// Header returns the decoded header.
func (r *Reader) Header() Header { return *r.h }

// Next decodes the next event, returning io.EOF when the file is exhausted.
func (r *Reader) Next() (*Event, error) {
	if !r.s.Scan() {
		if err := r.s.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var raw []interface{}
	if err := json.Unmarshal(r.s.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("recording: malformed event line: %w", err)
	}
	if len(raw) < 3 {
		return nil, fmt.Errorf("recording: malformed event line: too few fields")
	}
	if kind, ok := raw[1].(string); ok {
		t, _ := raw[0].(float64)
		data, _ := raw[2].(string)
		return &Event{Time: t, Kind: EventKind(kind), Data: data}, nil
	}
	if tag, ok := raw[0].(string); ok && tag == "exit" {
		code, _ := raw[1].(float64)
		sid, _ := raw[2].(string)
		return &Event{Kind: EventExit, ExitCode: int(code), SessionID: sid}, nil
	}
	return nil, fmt.Errorf("recording: unrecognized event shape")
}
