// Package session implements the per-connection state of spec.md §3/§4.5:
// a non-blocking socket paired with bounded read and write IOBuffers, a
// stable identifier, and (client side only) the source hostname the
// connection belongs to.
package session

import (
	"net"

	"go.uber.org/atomic"

	"github.com/edwiny/rstream/cmn"
	"github.com/edwiny/rstream/iobuf"
)

// BufferSize is the per-direction buffer capacity of §5's resource
// bounds.
const BufferSize = 4 * cmn.MiB

// Session owns one TCP connection and its framing buffers. The engine
// that owns it is the only goroutine allowed to touch it - reads and
// writes happen inline in the cooperative loop's readiness-driven ticks,
// never concurrently.
type Session struct {
	ID   cmn.SessionID
	Conn net.Conn

	Read  *iobuf.IOBuffer
	Write *iobuf.IOBuffer

	// Source is set on client-side sessions only: the hostname (as given
	// on the command line, post brace-expansion) this connection talks to.
	Source string

	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	closed bool
}

var nextID = atomic.NewInt64(0)

// NewID hands out a process-unique, monotonically increasing session
// identifier. Exported so server.Engine and client.Engine - which own the
// session table - can mint IDs without this package tracking a table of
// its own.
func NewID() cmn.SessionID {
	return cmn.SessionID(nextID.Inc())
}

func New(id cmn.SessionID, conn net.Conn) *Session {
	return &Session{
		ID:    id,
		Conn:  conn,
		Read:  iobuf.New(BufferSize),
		Write: iobuf.New(BufferSize),
	}
}

// Drain reads whatever is available from the socket into the read
// buffer without blocking past the caller's readiness wait; it is a thin
// wrapper so the engine loop doesn't reach into net.Conn directly.
func (s *Session) Drain() (int, error) {
	buf := make([]byte, 64*1024)
	n, err := s.Conn.Read(buf)
	if n > 0 {
		s.Read.Add(buf[:n])
		s.bytesIn.Add(int64(n))
	}
	return n, err
}

// Flush writes as much of the pending write buffer as the socket accepts
// right now, consuming only what was actually written.
func (s *Session) Flush() (int, error) {
	pending := s.Write.Peek()
	if len(pending) == 0 {
		return 0, nil
	}
	n, err := s.Conn.Write(pending)
	if n > 0 {
		s.Write.Get(n)
		s.bytesOut.Add(int64(n))
	}
	return n, err
}

// Enqueue appends framed bytes to the write buffer for the next Flush.
func (s *Session) Enqueue(b []byte) {
	s.Write.Add(b)
}

// ReadSpace reports free space in the read buffer - used by the engine to
// decide whether this session may participate in the next readiness read
// (§5: "read buffer lacks room (< 10x network-block) is temporarily
// excluded from readiness reads").
func (s *Session) ReadSpace() int { return s.Read.Space() }

// WriteSpace reports free space in the write buffer - used for
// back-pressure decisions in fan-out and download feeding (§4.4/§4.5).
func (s *Session) WriteSpace() int { return s.Write.Space() }

func (s *Session) BytesIn() int64  { return s.bytesIn.Load() }
func (s *Session) BytesOut() int64 { return s.bytesOut.Load() }

// Close tears down the underlying connection. Idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.Conn.Close()
}

func (s *Session) Closed() bool { return s.closed }
