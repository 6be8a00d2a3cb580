package audiosocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session receives decoded inbound traffic for one bound connection. All
// callbacks run on the connection's read goroutine; implementations must not
// block.
type Session interface {
	// OnAudio delivers one inbound PCM16 frame. The slice is reused after
	// the call returns.
	OnAudio(pcm []byte)

	// OnSilence delivers a silence indication. The payload is a timing
	// hint and may be empty.
	OnSilence(payload []byte)

	// OnHangup signals that the far end hung up. The connection closes
	// after this call.
	OnHangup()

	// OnError signals a protocol-level error frame. The connection closes
	// after this call.
	OnError(code byte)
}

// Binder resolves the session for a newly identified connection. Returning
// an error rejects the connection.
type Binder func(id uuid.UUID, conn *Conn) (Session, error)

// idFrameTimeout bounds how long a fresh connection may stall before
// sending its ID frame.
const idFrameTimeout = 5 * time.Second

// Server accepts AudioSocket connections and binds each one to a session by
// the UUID in its first frame.
type Server struct {
	bind Binder

	mu sync.Mutex
	ln net.Listener
}

// NewServer creates an AudioSocket server. bind is called once per accepted
// connection after the ID frame arrives.
func NewServer(bind Binder) *Server {
	return &Server{bind: bind}
}

// Listen binds the TCP listener. Returned errors include address-in-use,
// which callers treat as a fatal startup condition.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("audiosocket: listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound listener address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener fails.
// Listen must have been called first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("audiosocket: serve before listen")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("audiosocket: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn reads the ID frame, binds the session and pumps inbound frames
// until hangup, error or disconnect.
func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()

	buf := make([]byte, 3+MaxPayload)

	nc.SetReadDeadline(time.Now().Add(idFrameTimeout))
	first, err := ReadFrame(nc, buf)
	if err != nil {
		slog.Warn("audiosocket: dropping connection before id frame",
			"remote", nc.RemoteAddr(), "error", err)
		return
	}
	if first.Type != TypeID {
		slog.Warn("audiosocket: first frame is not an id frame",
			"remote", nc.RemoteAddr(), "type", fmt.Sprintf("0x%02x", first.Type))
		return
	}
	id, err := ParseID(first.Payload)
	if err != nil {
		slog.Warn("audiosocket: bad id frame", "remote", nc.RemoteAddr(), "error", err)
		return
	}
	nc.SetReadDeadline(time.Time{})

	conn := &Conn{nc: nc, id: id}
	sess, err := s.bind(id, conn)
	if err != nil {
		slog.Warn("audiosocket: no session for connection",
			"id", id, "remote", nc.RemoteAddr(), "error", err)
		return
	}

	slog.Debug("audiosocket: connection bound", "id", id, "remote", nc.RemoteAddr())

	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := ReadFrame(nc, buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("audiosocket: read ended", "id", id, "error", err)
			}
			sess.OnHangup()
			return
		}

		switch frame.Type {
		case TypeAudio:
			sess.OnAudio(frame.Payload)
		case TypeSilence:
			sess.OnSilence(frame.Payload)
		case TypeHangup:
			sess.OnHangup()
			return
		case TypeError:
			var code byte
			if len(frame.Payload) > 0 {
				code = frame.Payload[0]
			}
			slog.Error("audiosocket: error frame", "id", id, "code", code)
			sess.OnError(code)
			return
		default:
			// Unknown frame types are skipped to stay forward compatible.
		}
	}
}

// Conn is the write side of one bound AudioSocket connection. Writes are
// serialized; the playback scheduler calls WriteAudio on its pacing tick.
type Conn struct {
	nc net.Conn
	id uuid.UUID

	mu     sync.Mutex
	closed bool
}

// ID returns the call UUID the connection bound with.
func (c *Conn) ID() uuid.UUID { return c.id }

// WriteAudio sends one PCM16 frame to the caller.
func (c *Conn) WriteAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	return WriteFrame(c.nc, TypeAudio, pcm)
}

// Hangup sends a hangup frame and closes the connection.
func (c *Conn) Hangup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := WriteFrame(c.nc, TypeHangup, nil)
	return errors.Join(err, c.nc.Close())
}

// Close closes the connection without sending a hangup frame.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.nc.Close()
}
