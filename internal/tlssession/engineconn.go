package tlssession

import (
	"io"
	"net"
	"time"
)

// engineConn is the net.Conn used by the crypto/tls engine.
type engineConn struct {
	s *Session
}

type engineAddr struct{}

func (engineAddr) Network() string { return "tlssession" }
func (engineAddr) String() string  { return "tlssession" }

// Read parks the engine until there is ciphertext to read.
func (c engineConn) Read(p []byte) (int, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.incoming.Len() == 0 {
		switch {
		case s.closed:
			return 0, net.ErrClosed
		case s.eof:
			return 0, io.EOF
		}
		s.waitingInput = true
		s.parkLocked()
		s.waitingInput = false
	}
	return s.incoming.Read(p)
}

// Write queues ciphertext to be emitted.
func (c engineConn) Write(p []byte) (int, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, net.ErrClosed
	}
	return s.outgoing.Write(p)
}

func (c engineConn) Close() error                       { return nil }
func (c engineConn) LocalAddr() net.Addr                { return engineAddr{} }
func (c engineConn) RemoteAddr() net.Addr               { return engineAddr{} }
func (c engineConn) SetDeadline(t time.Time) error      { return nil }
func (c engineConn) SetReadDeadline(t time.Time) error  { return nil }
func (c engineConn) SetWriteDeadline(t time.Time) error { return nil }
