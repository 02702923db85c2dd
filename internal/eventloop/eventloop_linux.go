//go:build linux

package eventloop

import (
	"sync"

	"golang.org/x/sys/unix"
)

type epollLoop struct {
	epfd int

	mu       sync.Mutex
	handlers map[int]Handler
	writable map[int]bool
	closed   bool

	wakeR int
	wakeW int
}

// New returns the epoll-backed Loop for Linux.
func New() (Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(epfd)
		return nil, err
	}
	l := &epollLoop{
		epfd:     epfd,
		handlers: make(map[int]Handler),
		writable: make(map[int]bool),
		wakeR:    fds[0],
		wakeW:    fds[1],
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, l.wakeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(l.wakeR),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(l.wakeR)
		unix.Close(l.wakeW)
		return nil, err
	}
	return l, nil
}

func (l *epollLoop) Add(fd int, writable bool, h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	events := uint32(unix.EPOLLIN)
	if writable {
		events |= unix.EPOLLOUT
	}
	op := unix.EPOLL_CTL_ADD
	if _, exists := l.handlers[fd]; exists {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(l.epfd, op, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)}); err != nil {
		return err
	}
	l.handlers[fd] = h
	l.writable[fd] = writable
	return nil
}

func (l *epollLoop) Remove(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.handlers[fd]; !ok {
		return nil
	}
	delete(l.handlers, fd)
	delete(l.writable, fd)
	_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	return nil
}

func (l *epollLoop) Run() error {
	events := make([]unix.EpollEvent, 128)
	for {
		n, err := unix.EpollWait(l.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)
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
				Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
				Writable: ev.Events&unix.EPOLLOUT != 0,
			})
		}
	}
}

func (l *epollLoop) Stop() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	unix.Write(l.wakeW, []byte{1})
}

func (l *epollLoop) Close() error {
	unix.Close(l.wakeR)
	unix.Close(l.wakeW)
	return unix.Close(l.epfd)
}
