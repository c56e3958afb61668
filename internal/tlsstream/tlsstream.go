// Package tlsstream contains the adapter that presents an underlying
// non-blocking connection, together with the TLS session driving it, as
// a non-blocking plaintext connection.
//
// The adapter is a pump. Read, Write and Flush move ciphertext between
// the session and the underlying connection until they either make
// progress, fail, or find the underlying connection not ready. In the
// latter case they return a pending result and the caller is expected
// to Wait on the returned interest and retry. The handshake is driven
// lazily by the first operation that needs it.
package tlsstream

import (
	"context"
	"io"
	"net"
	"runtime"
	"time"

	"github.com/ooni/maybetls/internal/errwrapper"
	"github.com/ooni/maybetls/internal/nohandler"
	"github.com/ooni/maybetls/model"
)

// State is the handshake state of a Conn.
type State int

const (
	// Handshaking means the handshake has not completed yet.
	Handshaking = State(iota)

	// Established means the handshake completed.
	Established
)

// String returns a string representation of the state.
func (s State) String() string {
	if s == Established {
		return "established"
	}
	return "handshaking"
}

// Config contains the Conn configuration.
type Config struct {
	// Beginning is the zero time of the emitted events. When zero, we
	// use the time in which the Conn was created.
	Beginning time.Time

	// ConnID is the ID of the underlying connection.
	ConnID int64

	// Handler receives the TLS handshake events.
	Handler model.Handler

	// NextProtos are the ALPN protocols we are offering.
	NextProtos []string

	// Role is either "client" or "server".
	Role string

	// ServerName is the name we are asserting (client) or serving.
	ServerName string
}

// Conn is a TLS stream. It implements model.Conn. Like the underlying
// connection, it is owned by a single connection task.
type Conn struct {
	closeNotify bool
	config      Config
	conn        model.Conn
	err         error
	handshakes  int64
	session     model.Session
	startedAt   time.Time
	state       State
}

// New wraps conn and session. This function does not perform any I/O. The
// Conn takes ownership of both conn and session. A Conn that becomes
// unreachable without Close stops its session when collected.
func New(conn model.Conn, session model.Session, config Config) *Conn {
	if config.Beginning.IsZero() {
		config.Beginning = time.Now()
	}
	config.Handler = nohandler.OrNoHandler(config.Handler)
	c := &Conn{config: config, conn: conn, session: session}
	runtime.SetFinalizer(c, func(c *Conn) {
		c.session.Close()
	})
	return c
}

// State returns the handshake state.
func (c *Conn) State() State {
	return c.state
}

// Handshakes returns how many times the Conn switched from Handshaking
// to Established. This is zero or one.
func (c *Conn) Handshakes() int64 {
	return c.handshakes
}

// Handshake drives the handshake. It returns nil once the handshake is
// complete, a pending result if it cannot progress, or the error that
// caused the handshake to fail.
func (c *Conn) Handshake() error {
	if c.err != nil {
		return c.err
	}
	if c.state == Established {
		return nil
	}
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
		c.emitStart()
	}
	err := c.handshake()
	if model.IsWouldBlock(err) {
		return err
	}
	if err != nil {
		c.emitDone(err)
		return err
	}
	c.state = Established
	c.handshakes++
	c.emitDone(nil)
	return nil
}

func (c *Conn) handshake() error {
	for {
		blocked, err := c.flush()
		if err != nil {
			return err
		}
		if !c.session.IsHandshaking() {
			if err := c.session.Err(); err != nil {
				return c.abort("tls_handshake", err)
			}
			if blocked {
				// Our last flight must reach the peer before we can
				// claim the handshake is complete.
				return model.WouldBlock(model.Writable)
			}
			return nil
		}
		if !c.session.WantsRead() {
			if blocked {
				return model.WouldBlock(model.Writable)
			}
			if err := c.session.Err(); err != nil {
				return c.abort("tls_handshake", err)
			}
			return c.abort("tls_handshake", io.ErrNoProgress)
		}
		n, err := c.session.ReadCiphertextFrom(c.conn)
		switch {
		case err == io.EOF:
			return c.abort("tls_handshake", io.ErrUnexpectedEOF)
		case err != nil && !model.IsWouldBlock(err):
			return c.fail(err)
		case err != nil || n == 0:
			// The peer is unlikely to speak before receiving what
			// we still have to send, so we wait for writability.
			if blocked {
				return model.WouldBlock(model.Writable)
			}
			return model.WouldBlock(model.Readable)
		}
	}
}

// Read reads plaintext. It returns io.EOF once the peer has closed
// its side of the TLS session or of the underlying connection.
func (c *Conn) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := c.Handshake(); err != nil {
		return 0, err
	}
	var eof bool
	for {
		n, err := c.session.ReadPlaintext(p)
		switch {
		case err == nil:
			return n, nil
		case err == io.EOF:
			return 0, io.EOF
		case !model.IsWouldBlock(err):
			return 0, c.abort("read", err)
		case eof:
			return 0, io.EOF
		}
		// The engine may also have records to emit while reading, so we
		// do not let them starve. A full wire is not a reason to stop.
		if _, err := c.flush(); err != nil {
			return 0, err
		}
		n, err = c.session.ReadCiphertextFrom(c.conn)
		switch {
		case err == io.EOF:
			eof = true
		case model.IsWouldBlock(err):
			return 0, err
		case err != nil:
			return 0, c.fail(err)
		case n == 0:
			return 0, model.WouldBlock(model.Readable)
		}
	}
}

// Write encrypts p. It returns the number of bytes accepted by the
// session, which may be less than len(p). The bytes that have been
// accepted are eventually written by Write, Read or Flush. When no
// byte can be accepted, Write returns a pending result.
func (c *Conn) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := c.Handshake(); err != nil {
		return 0, err
	}
	var written int
	for {
		blocked, err := c.flush()
		if err != nil {
			return written, err
		}
		if blocked || written == len(p) {
			if written <= 0 {
				return 0, model.WouldBlock(model.Writable)
			}
			return written, nil
		}
		n, err := c.session.WritePlaintext(p[written:])
		if err != nil {
			return written, c.abort("write", err)
		}
		if n <= 0 && !c.session.WantsWrite() {
			if written <= 0 {
				return 0, model.WouldBlock(model.Writable)
			}
			return written, nil
		}
		written += n
	}
}

// Flush writes the pending ciphertext. While Handshaking it does nothing
// because the handshake is driven by Read and Write.
func (c *Conn) Flush() error {
	if c.err != nil {
		return c.err
	}
	if c.state == Handshaking {
		return nil
	}
	blocked, err := c.flush()
	if err != nil {
		return err
	}
	if blocked {
		return model.WouldBlock(model.Writable)
	}
	if err := c.conn.Flush(); err != nil && !model.IsWouldBlock(err) {
		return c.fail(err)
	} else if err != nil {
		return err
	}
	return nil
}

// Shutdown sends close_notify, flushes, and shuts down the sending side
// of the underlying connection. While Handshaking it does nothing.
func (c *Conn) Shutdown() error {
	if c.err != nil {
		return c.err
	}
	if c.state == Handshaking {
		return nil
	}
	if !c.closeNotify {
		c.closeNotify = true
		c.session.SendCloseNotify()
	}
	if err := c.Flush(); err != nil {
		return err
	}
	if err := c.conn.CloseWrite(); err != nil {
		if !model.IsWouldBlock(err) {
			return c.fail(err)
		}
		return err
	}
	return nil
}

// CloseWrite is like Shutdown.
func (c *Conn) CloseWrite() error {
	return c.Shutdown()
}

// Close stops the session and closes the underlying connection. It
// does not attempt to flush pending ciphertext.
func (c *Conn) Close() error {
	runtime.SetFinalizer(c, nil)
	c.session.Close()
	err := c.conn.Close()
	if c.err == nil {
		c.err = net.ErrClosed
	}
	return err
}

// Wait waits for the underlying connection to become ready.
func (c *Conn) Wait(ctx context.Context, interest model.Interest) error {
	return c.conn.Wait(ctx, interest)
}

// LocalAddr returns the local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// flush writes pending ciphertext until the session has no more of it or
// the underlying connection is not ready, in which case it returns true.
func (c *Conn) flush() (bool, error) {
	for c.session.WantsWrite() {
		n, err := c.session.WriteCiphertextTo(c.conn)
		if model.IsWouldBlock(err) || (err == nil && n <= 0) {
			return true, nil
		}
		if err != nil {
			return false, c.fail(err)
		}
	}
	return false, nil
}

// fail records a transport error, which we return verbatim.
func (c *Conn) fail(err error) error {
	c.err = err
	return err
}

// abort records a protocol error.
func (c *Conn) abort(operation string, err error) error {
	c.err = errwrapper.Aborted(c.config.ConnID, operation, err)
	return c.err
}
