// Package termbuffer maintains a headless terminal emulation of each
// session's screen (component C7), producing the binary snapshot format
// from spec §6 and a debounced change-notification signal.
//
// Grounded on ehrlich-b-wingthing/internal/egg/vterm.go's VTerm wrapper
// around vt.Emulator (scrollback capture via the ScrollOut callback,
// Render()/CursorPosition() for reconnect payloads) and on the
// VibeTunnel Go ports' debounced buffer-change notification idiom
// (scheduleBufferNotification) and binary-snapshot encoding shape.
package termbuffer

import (
	"bytes"
	"encoding/binary"
	"strings"
	"sync"
	"time"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

const maxScrollbackLines = 10000

// snapshot wire format constants (spec §6's binary buffer protocol).
const (
	magicByte0 = 'V'
	magicByte1 = 'T'
	version    = 1

	flagAltScreen    = 1 << 0
	flagCursorHidden = 1 << 1

	rowMarkerBlank   = 0xFE
	rowMarkerContent = 0xFD
)

// DebounceInterval bounds how often change notifications fire, per
// spec §4.6's ≤16ms coalescing requirement.
const DebounceInterval = 16 * time.Millisecond

// Engine is one session's headless terminal emulator plus
// change-notification plumbing.
type Engine struct {
	emu *vt.Emulator

	mu           sync.Mutex
	cols, rows   int
	altScreen    bool
	cursorHidden bool
	scrollback   []string
	sbHead       int
	sbLen        int
	seq          uint64

	onChange func()
	debounce *time.Timer
}

// New creates an Engine sized cols x rows. onChange, if non-nil, is
// invoked (debounced to DebounceInterval) after writes that alter the
// screen.
func New(cols, rows int, onChange func()) *Engine {
	e := &Engine{
		emu:        vt.NewEmulator(cols, rows),
		cols:       cols,
		rows:       rows,
		scrollback: make([]string, maxScrollbackLines),
		onChange:   onChange,
	}
	e.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if e.altScreen {
				return
			}
			for _, line := range lines {
				e.pushScrollback(line.Render())
			}
		},
		ScrollbackClear: func() {
			for i := range e.scrollback {
				e.scrollback[i] = ""
			}
			e.sbLen, e.sbHead = 0, 0
		},
		AltScreen: func(on bool) { e.altScreen = on },
		CursorVisibility: func(visible bool) { e.cursorHidden = !visible },
	})
	return e
}

func (e *Engine) pushScrollback(line string) {
	if e.sbLen == len(e.scrollback) {
		e.scrollback[e.sbHead] = ""
	}
	e.scrollback[e.sbHead] = line
	e.sbHead = (e.sbHead + 1) % len(e.scrollback)
	if e.sbLen < len(e.scrollback) {
		e.sbLen++
	}
}

// Write feeds PTY output into the emulator and schedules a debounced
// change notification.
func (e *Engine) Write(p []byte) (int, error) {
	e.mu.Lock()
	n, err := e.emu.Write(p)
	e.seq++
	e.scheduleNotifyLocked()
	e.mu.Unlock()
	return n, err
}

func (e *Engine) scheduleNotifyLocked() {
	if e.onChange == nil {
		return
	}
	if e.debounce != nil {
		return
	}
	e.debounce = time.AfterFunc(DebounceInterval, func() {
		e.mu.Lock()
		e.debounce = nil
		e.mu.Unlock()
		e.onChange()
	})
}

// Resize changes the emulator's dimensions.
func (e *Engine) Resize(cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emu.Resize(cols, rows)
	e.cols, e.rows = cols, rows
	e.seq++
}

// Sequence returns a monotonically increasing counter bumped on every
// write or resize, used by clients to detect they've missed updates.
func (e *Engine) Sequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Close releases the emulator's resources and stops any pending debounce.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.debounce != nil {
		e.debounce.Stop()
	}
	return e.emu.Close()
}

// Snapshot renders the current screen into the binary buffer-protocol
// payload: the "VT" magic, a version byte, a flags byte (alt screen,
// cursor hidden), little-endian uint32 cols and rows, int32 cursor X
// and Y, an int32 viewport offset (always 0), then one entry per
// visible row. A row whose text is empty or only spaces is written as
// rowMarkerBlank plus a uint32 rune count; any other row is written as
// rowMarkerContent plus a uint32 byte length and the row's text as
// emu.Render() returns it. Rows carry no per-cell width, color or
// attribute bytes.
func (e *Engine) Snapshot() []byte {
	e.mu.Lock()
	rendered := e.emu.Render()
	pos := e.emu.CursorPosition()
	cols, rows := e.cols, e.rows
	altScreen, cursorHidden := e.altScreen, e.cursorHidden
	e.mu.Unlock()

	var buf bytes.Buffer
	buf.WriteByte(magicByte0)
	buf.WriteByte(magicByte1)
	buf.WriteByte(version)

	var flags byte
	if altScreen {
		flags |= flagAltScreen
	}
	if cursorHidden {
		flags |= flagCursorHidden
	}
	buf.WriteByte(flags)

	writeU32(&buf, uint32(cols))
	writeU32(&buf, uint32(rows))
	writeI32(&buf, int32(pos.X))
	writeI32(&buf, int32(pos.Y))
	writeI32(&buf, 0) // viewport offset: 0 == scrolled to live tail

	lines := strings.Split(rendered, "\n")
	for i := 0; i < rows; i++ {
		var line string
		if i < len(lines) {
			line = lines[i]
		}
		writeRow(&buf, line)
	}
	return buf.Bytes()
}

func writeRow(buf *bytes.Buffer, line string) {
	if strings.TrimRight(line, " ") == "" {
		buf.WriteByte(rowMarkerBlank)
		writeU32(buf, uint32(len([]rune(line))))
		return
	}
	buf.WriteByte(rowMarkerContent)
	content := []byte(line)
	writeU32(buf, uint32(len(content)))
	buf.Write(content)
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeI32(buf *bytes.Buffer, v int32) {
	writeU32(buf, uint32(v))
}

// ScrollbackLines returns all captured scrollback lines, oldest first.
func (e *Engine) ScrollbackLines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sbLen == 0 {
		return nil
	}
	out := make([]string, e.sbLen)
	start := (e.sbHead - e.sbLen + len(e.scrollback)) % len(e.scrollback)
	for i := 0; i < e.sbLen; i++ {
		out[i] = e.scrollback[(start+i)%len(e.scrollback)]
	}
	return out
}
