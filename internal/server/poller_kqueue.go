//go:build darwin || freebsd

package server

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

type kqueue struct {
	fd     int
	raw    []unix.Kevent_t
	events []event
}

func newPoller(maxEvents int) (poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("failed to create kqueue: %w", err)
	}
	unix.CloseOnExec(fd)
	return &kqueue{
		fd:     fd,
		raw:    make([]unix.Kevent_t, maxEvents),
		events: make([]event, 0, maxEvents),
	}, nil
}

func (p *kqueue) change(fd, filter, flags int) error {
	changes := make([]unix.Kevent_t, 1)
	unix.SetKevent(&changes[0], fd, filter, flags)
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	return err
}

func (p *kqueue) add(fd int) error {
	return p.change(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
}

func (p *kqueue) setWrite(fd int, on bool) error {
	if on {
		return p.change(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE)
	}
	err := p.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	if errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

func (p *kqueue) remove(fd int) error {
	err := p.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
	if errors.Is(err, unix.ENOENT) {
		err = nil
	}
	if werr := p.setWrite(fd, false); err == nil {
		err = werr
	}
	return err
}

func (p *kqueue) wait(timeout time.Duration) ([]event, error) {
	ts := unix.NsecToTimespec(int64(timeout))
	n, err := unix.Kevent(p.fd, nil, p.raw, &ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return p.events[:0], nil
		}
		return nil, err
	}

	p.events = p.events[:0]
	for _, kev := range p.raw[:n] {
		ev := event{fd: int(kev.Ident)}
		switch kev.Filter {
		case unix.EVFILT_READ:
			ev.readable = true
		case unix.EVFILT_WRITE:
			ev.writable = true
		}
		if kev.Flags&unix.EV_EOF != 0 {
			ev.readable = true
		}
		p.events = append(p.events, ev)
	}
	return p.events, nil
}

func (p *kqueue) close() error {
	return unix.Close(p.fd)
}
