package server

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const readEvents = unix.EPOLLIN | unix.EPOLLRDHUP

type epoll struct {
	fd     int
	raw    []unix.EpollEvent
	events []event
}

func newPoller(maxEvents int) (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoll: %w", err)
	}
	return &epoll{
		fd:     fd,
		raw:    make([]unix.EpollEvent, maxEvents),
		events: make([]event, 0, maxEvents),
	}, nil
}

func (p *epoll) add(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: readEvents, Fd: int32(fd)})
}

func (p *epoll) setWrite(fd int, on bool) error {
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(fd)}
	if on {
		ev.Events |= unix.EPOLLOUT
	}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epoll) remove(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
}

func (p *epoll) wait(timeout time.Duration) ([]event, error) {
	n, err := unix.EpollWait(p.fd, p.raw, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return p.events[:0], nil
		}
		return nil, err
	}

	p.events = p.events[:0]
	for _, ev := range p.raw[:n] {
		p.events = append(p.events, event{
			fd:       int(ev.Fd),
			readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			writable: ev.Events&unix.EPOLLOUT != 0,
		})
	}
	return p.events, nil
}

func (p *epoll) close() error {
	return unix.Close(p.fd)
}
