// Package server runs the chat WebSocket endpoint on a single-threaded
// readiness loop. One goroutine owns the listening socket, every client
// socket and the OS poller; all chat dispatch happens on that goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/pool/pbytes"

	"github.com/omochice/library-chat/internal/chat"
	"github.com/omochice/library-chat/internal/handshake"
	"github.com/omochice/library-chat/pkg/frame"
)

// ErrNotListening is returned by Serve when Listen has not succeeded.
var ErrNotListening = errors.New("server is not listening")

const listenBacklog = 128

var _ chat.Conn = (*conn)(nil)

// Config holds the tunables of a Server. Zero values select the defaults.
type Config struct {
	// Addr is the TCP address to listen on.
	Addr string
	// PollTimeout bounds each wait on the poller, so Stop is observed at
	// least this often.
	PollTimeout time.Duration
	// IdleTimeout closes connections that sent nothing for this long.
	// Zero disables the reaper.
	IdleTimeout time.Duration
	// ReadBufferSize is the size of a single socket read.
	ReadBufferSize int
	// MaxEvents caps the readiness events handled per wake-up.
	MaxEvents int
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8081"
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = 128
	}
	return c
}

// Server represents the WebSocket chat server
type Server struct {
	cfg    Config
	router *chat.Router

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	addr      string
	listening bool
	serving   bool

	running  atomic.Bool
	count    atomic.Int64
	stopOnce sync.Once
	done     chan struct{}

	// Loop-owned state.
	listenFD int
	poller   poller
	conns    map[int]*conn
	closing  []*conn
	// acceptPaused is set while the listener is unwatched because the
	// process ran out of descriptors.
	acceptPaused bool
}

// New creates a new Server that hands decoded text payloads to router.
func New(cfg Config, router *chat.Router) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg.withDefaults(),
		router:   router,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		listenFD: -1,
		conns:    make(map[int]*conn),
	}
}

// Listen binds the listening socket and prepares the poller. It does not
// accept connections until Serve runs.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		return errors.New("server is already listening")
	}

	p, err := newPoller(s.cfg.MaxEvents)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	fd, addr, err := listenTCP(s.cfg.Addr, listenBacklog)
	if err != nil {
		p.close()
		return fmt.Errorf("failed to start server: %w", err)
	}
	if err := p.add(fd); err != nil {
		sysClose(fd)
		p.close()
		return fmt.Errorf("failed to watch listener: %w", err)
	}

	s.poller = p
	s.listenFD = fd
	s.addr = addr
	s.listening = true
	s.running.Store(true)

	log.Printf("Server started on %s", addr)
	return nil
}

// Serve runs the event loop until Stop is called. It returns nil after a
// clean stop and an error if the poller fails.
func (s *Server) Serve() error {
	s.mu.Lock()
	if !s.listening || !s.running.Load() {
		s.mu.Unlock()
		return ErrNotListening
	}
	if s.serving {
		s.mu.Unlock()
		return errors.New("server is already serving")
	}
	s.serving = true
	s.mu.Unlock()

	defer close(s.done)
	defer s.shutdown()

	for s.running.Load() {
		events, err := s.poller.wait(s.cfg.PollTimeout)
		if err != nil {
			log.Printf("Failed to poll: %v", err)
			return fmt.Errorf("poll: %w", err)
		}

		for _, ev := range events {
			if ev.fd == s.listenFD {
				s.acceptAll()
				continue
			}
			c, ok := s.conns[ev.fd]
			if !ok {
				continue
			}
			s.dispatch(c, ev)
			s.closePending()
		}

		s.closePending()
		s.reapIdle(time.Now())
	}
	return nil
}

// Start listens and serves in the calling goroutine.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop stops the loop, closes every connection and the listener, and waits
// for Serve to return.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)

		s.mu.Lock()
		serving := s.serving
		listening := s.listening
		s.mu.Unlock()

		switch {
		case serving:
			<-s.done
		case listening:
			s.shutdown()
		}
		s.cancel()
	})
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ConnCount returns the number of connected sockets, including those still
// handshaking.
func (s *Server) ConnCount() int {
	return int(s.count.Load())
}

func (s *Server) acceptAll() {
	for {
		fd, remote, err := acceptTCP(s.listenFD)
		if errors.Is(err, errWouldBlock) {
			return
		}
		if isFDExhausted(err) {
			log.Printf("Pausing accept until a connection closes: %v", err)
			s.pauseAccept()
			return
		}
		if err != nil {
			log.Printf("Failed to accept connection: %v", err)
			return
		}
		if err := s.poller.add(fd); err != nil {
			log.Printf("Failed to watch connection %s: %v", remote, err)
			sysClose(fd)
			continue
		}
		s.conns[fd] = newConn(s, fd, remote, time.Now())
		s.count.Add(1)
	}
}

// pauseAccept stops watching the listener. A level-triggered poller would
// otherwise report it readable on every wait while accept keeps failing.
func (s *Server) pauseAccept() {
	if s.acceptPaused || s.listenFD < 0 {
		return
	}
	if err := s.poller.remove(s.listenFD); err != nil {
		log.Printf("Failed to unwatch listener: %v", err)
		return
	}
	s.acceptPaused = true
}

func (s *Server) resumeAccept() {
	if !s.acceptPaused || s.listenFD < 0 || !s.running.Load() {
		return
	}
	if err := s.poller.add(s.listenFD); err != nil {
		log.Printf("Failed to watch listener: %v", err)
		return
	}
	s.acceptPaused = false
	log.Printf("Resuming accept")
}

func (s *Server) dispatch(c *conn, ev event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic on connection %s: %v", c.remote, r)
			s.closeConn(c)
		}
	}()

	if ev.writable {
		if err := c.flush(); err != nil {
			log.Printf("Failed to write to %s: %v", c.remote, err)
			return
		}
	}
	if ev.readable && c.phase != phaseClosed {
		s.read(c)
	}
}

func (s *Server) read(c *conn) {
	buf := pbytes.GetLen(s.cfg.ReadBufferSize)
	defer pbytes.Put(buf)

	n, err := sysRead(c.fd, buf)
	switch {
	case errors.Is(err, errWouldBlock):
		return
	case err != nil:
		log.Printf("Error reading from %s: %v", c.remote, err)
		s.closeConn(c)
		return
	case n == 0:
		s.closeConn(c)
		return
	}

	c.lastActive = time.Now()
	c.rbuf = append(c.rbuf, buf[:n]...)

	switch c.phase {
	case phaseHandshaking:
		s.negotiate(c)
	case phaseOpen:
		s.readFrames(c)
	}
}

func (s *Server) negotiate(c *conn) {
	res, err := handshake.Negotiate(c.rbuf)
	if errors.Is(err, handshake.ErrIncomplete) {
		return
	}
	if err != nil {
		log.Printf("Failed handshake from %s: %v", c.remote, err)
		s.closeConn(c)
		return
	}

	c.rbuf = append(c.rbuf[:0], c.rbuf[res.Consumed:]...)
	c.phase = phaseOpen
	if err := c.queue(res.Response); err != nil {
		log.Printf("Failed to send handshake response to %s: %v", c.remote, err)
		return
	}
	log.Printf("Client connected: %s %s", c.remote, res.URI)

	if len(c.rbuf) > 0 {
		s.readFrames(c)
	}
}

// readFrames decodes every complete frame in the read buffer and keeps the
// trailing partial frame for the next read.
func (s *Server) readFrames(c *conn) {
	off := 0
	for c.phase == phaseOpen {
		f, n, err := frame.Decode(c.rbuf[off:])
		if errors.Is(err, frame.ErrIncomplete) {
			break
		}
		if err != nil {
			log.Printf("Failed to decode frame from %s: %v", c.remote, err)
			s.closeConn(c)
			return
		}
		off += n
		s.handleFrame(c, f)
	}
	if c.phase == phaseClosed {
		return
	}
	c.rbuf = c.rbuf[:copy(c.rbuf, c.rbuf[off:])]
}

func (s *Server) handleFrame(c *conn, f frame.Frame) {
	if err := frame.CheckUnfragmented(f); err != nil {
		log.Printf("Closing %s: %v", c.remote, err)
		s.closeConn(c)
		return
	}

	switch f.OpCode {
	case frame.OpText:
		s.router.Handle(s.ctx, c, f.Payload)
	case frame.OpClose:
		c.phase = phaseClosing
		if err := c.queue(frame.EncodeClose(frame.CloseCode(f.Payload), "")); err != nil {
			log.Printf("Failed to echo close to %s: %v", c.remote, err)
		}
		s.closeConn(c)
	case frame.OpPing:
		if err := c.queue(frame.Encode(frame.OpPong, f.Payload)); err != nil {
			log.Printf("Failed to send pong to %s: %v", c.remote, err)
		}
	default:
		// Binary, pong and reserved opcodes carry nothing for chat.
	}
}

func (s *Server) scheduleClose(c *conn) {
	if c.phase == phaseClosed {
		return
	}
	for _, pending := range s.closing {
		if pending == c {
			return
		}
	}
	s.closing = append(s.closing, c)
}

func (s *Server) closePending() {
	for len(s.closing) > 0 {
		c := s.closing[0]
		s.closing = s.closing[1:]
		s.closeConn(c)
	}
	s.closing = nil
}

// closeConn releases c. Registrations are dropped before the descriptor is
// closed so no route ever points at a reused descriptor.
func (s *Server) closeConn(c *conn) {
	if c.phase == phaseClosed {
		return
	}
	if len(c.wbuf) > 0 && c.phase != phaseHandshaking {
		// Best effort: whatever the socket takes now.
		sysWrite(c.fd, c.wbuf)
	}
	log.Printf("Closing connection %s (%s)", c.remote, c.phase)
	c.phase = phaseClosed

	s.router.Disconnect(c)
	if err := s.poller.remove(c.fd); err != nil {
		log.Printf("Failed to unwatch %s: %v", c.remote, err)
	}
	if err := sysClose(c.fd); err != nil {
		log.Printf("Failed to close %s: %v", c.remote, err)
	}
	if s.conns[c.fd] == c {
		delete(s.conns, c.fd)
	}
	c.rbuf, c.wbuf = nil, nil
	s.count.Add(-1)
	s.resumeAccept()
}

func (s *Server) reapIdle(now time.Time) {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	for _, c := range s.conns {
		if now.Sub(c.lastActive) > s.cfg.IdleTimeout {
			log.Printf("Closing idle connection %s", c.remote)
			s.closeConn(c)
		}
	}
}

func (s *Server) shutdown() {
	for _, c := range s.conns {
		s.closeConn(c)
	}
	s.closing = nil
	if s.listenFD >= 0 {
		if !s.acceptPaused {
			s.poller.remove(s.listenFD)
		}
		if err := sysClose(s.listenFD); err != nil {
			log.Printf("Failed to close listener: %v", err)
		}
		s.listenFD = -1
	}
	if s.poller != nil {
		s.poller.close()
	}
	log.Printf("Server stopped")
}
