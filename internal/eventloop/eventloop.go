// Package eventloop implements the single-threaded readiness loop that
// drives PTY I/O bridging (component C1 of the session substrate). Each
// Loop owns exactly one OS-level readiness mechanism, chosen at build
// time: epoll on Linux, kqueue on BSD/Darwin, and everywhere else a
// polling fallback that reports every registered descriptor as readable
// every 100 ms without checking its readiness.
package eventloop

import "fmt"

// Event describes which directions became ready on a watched descriptor.
type Event struct {
	FD       int
	Readable bool
	Writable bool
	Err      error
}

// Handler is invoked from the loop's single goroutine whenever FD has an
// Event ready. Handlers must not block: the loop serves one FD at a time.
type Handler func(ev Event)

// Loop is the minimal readiness-multiplexer interface every backend
// implements. All methods except Run and Close are safe to call
// concurrently with a running loop; Run must only be called once.
type Loop interface {
	// Add registers fd for readability (and, if writable, writability)
	// notifications, invoking h on each readiness event.
	Add(fd int, writable bool, h Handler) error
	// Remove stops watching fd. Safe to call even if fd was never added.
	Remove(fd int) error
	// Run blocks, dispatching events to handlers, until Stop is called
	// or an unrecoverable error occurs.
	Run() error
	// Stop unblocks a running Run call. Safe to call from any goroutine,
	// any number of times.
	Stop()
	// Close releases the backend's OS resources. The loop must not be
	// running when Close is called.
	Close() error
}

// ErrClosed is returned by operations on a closed Loop.
var ErrClosed = fmt.Errorf("eventloop: loop is closed")
