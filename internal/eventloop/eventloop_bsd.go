//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package eventloop

import (
	"sync"

	"golang.org/x/sys/unix"
)

type kqueueLoop struct {
	kq int

	mu       sync.Mutex
	handlers map[int]Handler
	closed   bool

	wakeR int
	wakeW int
}

// New returns the kqueue-backed Loop for BSD-family kernels (including Darwin).
func New() (Loop, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	fds := make([]int, 2)
	if err := syscallPipe(fds); err != nil {
		unix.Close(kq)
		return nil, err
	}
	l := &kqueueLoop{
		kq:       kq,
		handlers: make(map[int]Handler),
		wakeR:    fds[0],
		wakeW:    fds[1],
	}
	changes := []unix.Kevent_t{{
		Ident:  uint64(l.wakeR),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		unix.Close(kq)
		unix.Close(l.wakeR)
		unix.Close(l.wakeW)
		return nil, err
	}
	return l, nil
}

func syscallPipe(fds []int) error {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return err
	}
	unix.SetNonblock(p[0], true)
	unix.CloseOnExec(p[0])
	unix.CloseOnExec(p[1])
	fds[0], fds[1] = p[0], p[1]
	return nil
}

func (l *kqueueLoop) Add(fd int, writable bool, h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	changes := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}}
	if writable {
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  unix.EV_ADD | unix.EV_ENABLE,
		})
	}
	if _, err := unix.Kevent(l.kq, changes, nil, nil); err != nil {
		return err
	}
	l.handlers[fd] = h
	return nil
}

func (l *kqueueLoop) Remove(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.handlers[fd]; !ok {
		return nil
	}
	delete(l.handlers, fd)
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	unix.Kevent(l.kq, changes, nil, nil)
	return nil
}

func (l *kqueueLoop) Run() error {
	events := make([]unix.Kevent_t, 128)
	for {
		n, err := unix.Kevent(l.kq, nil, events, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Ident)
			if fd == l.wakeR {
				var buf [64]byte
				for {
					if _, err := unix.Read(l.wakeR, buf[:]); err != nil {
						break
					}
				}
				l.mu.Lock()
				closed := l.closed
				l.mu.Unlock()
				if closed {
					return nil
				}
				continue
			}
			l.mu.Lock()
			h, ok := l.handlers[fd]
			l.mu.Unlock()
			if !ok {
				continue
			}
			h(Event{
				FD:       fd,
				Readable: ev.Filter == unix.EVFILT_READ,
				Writable: ev.Filter == unix.EVFILT_WRITE,
				Err:      nil,
			})
		}
	}
}

func (l *kqueueLoop) Stop() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	unix.Write(l.wakeW, []byte{1})
}

func (l *kqueueLoop) Close() error {
	unix.Close(l.wakeR)
	unix.Close(l.wakeW)
	return unix.Close(l.kq)
}
