package server

import (
	"errors"
	"time"

	"github.com/omochice/library-chat/pkg/frame"
)

// ErrConnClosed is returned when writing to a connection that is no longer
// open.
var ErrConnClosed = errors.New("connection closed")

var errWouldBlock = errors.New("operation would block")

type phase int

const (
	phaseHandshaking phase = iota
	phaseOpen
	phaseClosing
	phaseClosed
)

func (p phase) String() string {
	switch p {
	case phaseHandshaking:
		return "handshaking"
	case phaseOpen:
		return "open"
	case phaseClosing:
		return "closing"
	case phaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// conn is the loop-owned state of one accepted socket. It implements
// chat.Conn; its methods must only be called from the loop goroutine.
type conn struct {
	srv    *Server
	fd     int
	remote string
	phase  phase

	rbuf []byte
	wbuf []byte
	// writing is set while write readiness is armed for fd.
	writing bool

	lastActive time.Time
}

func newConn(srv *Server, fd int, remote string, now time.Time) *conn {
	return &conn{
		srv:        srv,
		fd:         fd,
		remote:     remote,
		phase:      phaseHandshaking,
		lastActive: now,
	}
}

// WriteText queues payload as one text frame and tries to send it right away.
func (c *conn) WriteText(payload []byte) error {
	if c.phase != phaseOpen {
		return ErrConnClosed
	}
	return c.queue(frame.EncodeText(payload))
}

// Close schedules the connection to be closed once the current dispatch
// returns.
func (c *conn) Close() error {
	if c.phase == phaseClosed {
		return nil
	}
	c.srv.scheduleClose(c)
	return nil
}

func (c *conn) RemoteAddr() string {
	return c.remote
}

// queue appends data to the write buffer and flushes. Bytes the socket does
// not take now stay queued in order behind earlier ones.
func (c *conn) queue(data []byte) error {
	if c.phase == phaseClosed {
		return ErrConnClosed
	}
	c.wbuf = append(c.wbuf, data...)
	if c.writing {
		return nil
	}
	return c.flush()
}

// flush writes as much of the write buffer as the socket accepts and arms or
// disarms write readiness accordingly.
func (c *conn) flush() error {
	for len(c.wbuf) > 0 {
		n, err := sysWrite(c.fd, c.wbuf)
		if errors.Is(err, errWouldBlock) || (err == nil && n == 0) {
			break
		}
		if err != nil {
			c.srv.scheduleClose(c)
			return err
		}
		c.wbuf = c.wbuf[n:]
	}

	pending := len(c.wbuf) > 0
	if !pending {
		c.wbuf = nil
	}
	if pending != c.writing {
		if err := c.srv.poller.setWrite(c.fd, pending); err != nil {
			c.srv.scheduleClose(c)
			return err
		}
		c.writing = pending
	}
	return nil
}
