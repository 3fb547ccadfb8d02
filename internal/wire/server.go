package wire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
)

// Conn is one live AudioSocket call leg. Reads are owned by a single pump
// goroutine; writes are serialised internally so playback and hangup may race
// safely.
type Conn struct {
	id   uuid.UUID
	conn net.Conn

	writeMu sync.Mutex
	closed  bool
}

// ID returns the call UUID Asterisk announced in the first frame.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// ReadMessage reads the next inbound frame. Not safe for concurrent use.
func (c *Conn) ReadMessage() (Message, error) {
	return ReadMessage(c.conn)
}

// WriteAudio sends one linear PCM chunk to Asterisk. It implements the
// playback sink contract.
func (c *Conn) WriteAudio(chunk []byte) error {
	return c.write(Message{Kind: KindAudio, Payload: chunk})
}

// Hangup asks Asterisk to terminate the call.
func (c *Conn) Hangup() error {
	return c.write(Message{Kind: KindHangup})
}

func (c *Conn) write(m Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	return WriteMessage(c.conn, m)
}

// Close tears the TCP connection down. Safe to call more than once.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Handler receives each accepted call once its UUID preamble has been read.
// The call leg is closed when the handler returns.
type Handler interface {
	HandleCall(ctx context.Context, conn *Conn)
}

// Server accepts AudioSocket connections from Asterisk and dispatches each
// call to a [Handler].
type Server struct {
	handler Handler
	log     *slog.Logger

	mu sync.Mutex
	ln net.Listener
}

// NewServer creates a Server. log may be nil.
func NewServer(handler Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{handler: handler, log: log}
}

// Serve listens on addr and accepts calls until ctx is cancelled. Each call
// runs in its own goroutine; Serve returns once the listener is closed, it
// does not wait for in-flight calls (the session manager owns that).
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("wire: listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("media server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wire: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// Addr returns the bound listen address, or "" before Serve starts.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// handleConn reads the UUID preamble and hands the call to the handler.
func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	first, err := ReadMessage(nc)
	if err != nil {
		s.log.Warn("dropping connection without readable preamble",
			"remote", nc.RemoteAddr().String(), "error", err)
		nc.Close()
		return
	}
	id, err := ParseID(first)
	if err != nil {
		s.log.Warn("dropping connection with bad preamble",
			"remote", nc.RemoteAddr().String(), "error", err)
		nc.Close()
		return
	}

	c := &Conn{id: id, conn: nc}
	defer c.Close()
	s.handler.HandleCall(ctx, c)
}

// Healthy reports whether the listener is accepting connections, for the
// readiness probe.
func (s *Server) Healthy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return errors.New("wire: media server not started")
	}
	return nil
}
