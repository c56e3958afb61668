// Package tlssession contains a model.Session backed by crypto/tls.
//
// The crypto/tls engine performs blocking I/O on a net.Conn. We hand it
// an in-memory net.Conn and run it in a goroutine that we treat as a
// coroutine: a method that gives the engine something to do resumes it
// and then waits for it to park again, that is, to block reading from
// the empty in-memory input. The engine and its caller therefore never
// run at the same time, and every method is non-blocking from the point
// of view of the caller. Close makes the goroutine exit.
package tlssession

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/ooni/maybetls/model"
)

const (
	// maxPlaintext is the amount of decrypted bytes we buffer
	// before we stop running the engine read loop.
	maxPlaintext = 1 << 16

	// maxCiphertext is the amount of encrypted bytes we buffer
	// before WritePlaintext starts accepting less than asked.
	maxCiphertext = 1 << 16

	// readBufferSize fits a full TLS record plus overhead.
	readBufferSize = 1<<14 + 2048
)

// ErrWriteAfterCloseNotify is returned by WritePlaintext after
// SendCloseNotify has been called.
var ErrWriteAfterCloseNotify = errors.New("tlssession: write after close_notify")

// Session is a model.Session backed by crypto/tls.
type Session struct {
	conn *tls.Conn

	closeNotify   bool
	closed        bool
	cond          *sync.Cond
	early         []byte
	eof           bool
	err           error
	exited        bool
	handshakeDone bool
	incoming      bytes.Buffer
	mu            sync.Mutex
	outgoing      bytes.Buffer
	plaintext     bytes.Buffer
	rbuf          []byte
	readErr       error
	running       bool
	started       bool
	waitingInput  bool
	waitingSpace  bool
}

// NewClient creates a client session. The config is shared and we
// never modify it: we clone it to assert the given server name.
func NewClient(config *tls.Config, name model.ServerName) *Session {
	config = config.Clone()
	config.ServerName = string(name)
	return newSession(func(conn net.Conn) *tls.Conn {
		return tls.Client(conn, config)
	})
}

// NewServer creates a server session using the shared config.
func NewServer(config *tls.Config) *Session {
	return newSession(func(conn net.Conn) *tls.Conn {
		return tls.Server(conn, config)
	})
}

func newSession(newConn func(net.Conn) *tls.Conn) *Session {
	s := &Session{}
	s.cond = sync.NewCond(&s.mu)
	s.conn = newConn(engineConn{s})
	return s
}

// startLocked lazily starts the engine. Nothing is emitted on the
// wire until the first method call that needs the engine.
func (s *Session) startLocked() {
	if s.started || s.closed {
		return
	}
	s.started, s.running = true, true
	go s.loop()
	s.settleLocked()
}

// settleLocked waits for the engine to park or exit.
func (s *Session) settleLocked() {
	for s.running {
		s.cond.Wait()
	}
}

// wakeLocked resumes a parked engine. It must always be followed
// by settleLocked before the caller returns.
func (s *Session) wakeLocked() {
	if s.started && !s.exited && !s.running {
		s.running = true
		s.cond.Broadcast()
	}
}

// parkLocked is called by the engine to yield to its caller.
func (s *Session) parkLocked() {
	s.running = false
	s.cond.Broadcast()
	for !s.running {
		s.cond.Wait()
	}
}

func (s *Session) exitLocked() {
	s.exited, s.running = true, false
	s.cond.Broadcast()
}

func (s *Session) loop() {
	err := s.conn.Handshake()
	s.mu.Lock()
	if err != nil {
		s.err = err
		s.exitLocked()
		s.mu.Unlock()
		return
	}
	s.handshakeDone = true
	early := s.early
	s.early = nil
	s.mu.Unlock()
	if len(early) > 0 {
		if _, err := s.conn.Write(early); err != nil {
			s.mu.Lock()
			s.err = err
			s.exitLocked()
			s.mu.Unlock()
			return
		}
	}
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		s.mu.Lock()
		s.plaintext.Write(buf[:n])
		if err != nil {
			s.readErr = err
			s.exitLocked()
			s.mu.Unlock()
			return
		}
		for s.plaintext.Len() >= maxPlaintext && !s.closed {
			s.waitingSpace = true
			s.parkLocked()
			s.waitingSpace = false
		}
		if s.closed {
			s.readErr = net.ErrClosed
			s.exitLocked()
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// WantsRead implements model.Session.WantsRead.
func (s *Session) WantsRead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
	return s.waitingInput && !s.eof && !s.closed
}

// WantsWrite implements model.Session.WantsWrite.
func (s *Session) WantsWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
	return s.outgoing.Len() > 0
}

// IsHandshaking implements model.Session.IsHandshaking.
func (s *Session) IsHandshaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
	return !s.handshakeDone && !s.exited && !s.closed
}

// Err implements model.Session.Err.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.readErr != nil && s.readErr != io.EOF && !s.closed {
		return s.readErr
	}
	return nil
}

// ReadPlaintext implements model.Session.ReadPlaintext.
func (s *Session) ReadPlaintext(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
	if s.plaintext.Len() > 0 {
		n, _ := s.plaintext.Read(p)
		if s.waitingSpace && s.plaintext.Len() < maxPlaintext {
			s.wakeLocked()
			s.settleLocked()
		}
		return n, nil
	}
	switch {
	case s.readErr != nil:
		return 0, s.readErr
	case s.err != nil:
		return 0, s.err
	case s.closed:
		return 0, net.ErrClosed
	}
	return 0, model.WouldBlock(model.Readable)
}

// WritePlaintext implements model.Session.WritePlaintext. Bytes written
// before the handshake completes are sent right after it.
func (s *Session) WritePlaintext(p []byte) (int, error) {
	s.mu.Lock()
	s.startLocked()
	switch {
	case s.closed:
		s.mu.Unlock()
		return 0, net.ErrClosed
	case s.err != nil:
		err := s.err
		s.mu.Unlock()
		return 0, err
	case s.closeNotify:
		s.mu.Unlock()
		return 0, ErrWriteAfterCloseNotify
	}
	room := maxCiphertext - s.outgoing.Len() - len(s.early)
	if room <= 0 {
		s.mu.Unlock()
		return 0, nil
	}
	if len(p) > room {
		p = p[:room]
	}
	if !s.handshakeDone {
		s.early = append(s.early, p...)
		s.mu.Unlock()
		return len(p), nil
	}
	s.mu.Unlock()
	// The engine is parked, so we can drive tls.Conn.Write from
	// here: the records end up in s.outgoing synchronously.
	n, err := s.conn.Write(p)
	if err != nil {
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
	}
	return n, err
}

// ReadCiphertextFrom implements model.Session.ReadCiphertextFrom.
func (s *Session) ReadCiphertextFrom(r io.Reader) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
	if s.eof {
		return 0, io.EOF
	}
	if s.rbuf == nil {
		s.rbuf = make([]byte, readBufferSize)
	}
	n, err := r.Read(s.rbuf)
	if n > 0 {
		s.incoming.Write(s.rbuf[:n])
	}
	if err == io.EOF {
		s.eof = true
	}
	if n > 0 || s.eof {
		s.wakeLocked()
		s.settleLocked()
	}
	if err == io.EOF {
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	return n, err
}

// WriteCiphertextTo implements model.Session.WriteCiphertextTo.
func (s *Session) WriteCiphertextTo(w io.Writer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
	if s.outgoing.Len() == 0 {
		return 0, nil
	}
	n, err := w.Write(s.outgoing.Bytes())
	if n > 0 {
		s.outgoing.Next(n)
	}
	return n, err
}

// SendCloseNotify implements model.Session.SendCloseNotify.
func (s *Session) SendCloseNotify() {
	s.mu.Lock()
	if !s.handshakeDone || s.closeNotify || s.closed {
		s.mu.Unlock()
		return
	}
	s.closeNotify = true
	s.mu.Unlock()
	s.conn.CloseWrite()
}

// ConnectionState implements model.Session.ConnectionState.
func (s *Session) ConnectionState() tls.ConnectionState {
	s.mu.Lock()
	done := s.handshakeDone
	s.mu.Unlock()
	if !done {
		return tls.ConnectionState{}
	}
	return s.conn.ConnectionState()
}

// Close implements model.Session.Close. It stops the engine without
// emitting anything else on the wire.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.wakeLocked()
	s.settleLocked()
	return nil
}
