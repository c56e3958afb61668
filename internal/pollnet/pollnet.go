// Package pollnet contains non-blocking TCP connections. A Conn reads and
// writes the socket directly and never waits inside Read or Write: when
// the socket is not ready, it returns a pending result. Wait uses the Go
// runtime poller to block until the socket is ready.
package pollnet

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"os"
	"syscall"
	"time"

	"github.com/ooni/maybetls/model"
)

// ErrUnsupported indicates that this platform lacks non-blocking sockets.
var ErrUnsupported = errors.New("pollnet: unsupported platform")

// aLongTimeAgo is a deadline in the past that interrupts a wait.
var aLongTimeAgo = time.Unix(1, 0)

// tcpConn is the subset of *net.TCPConn we use.
type tcpConn interface {
	net.Conn
	syscall.Conn
	CloseWrite() error
}

// Conn is a non-blocking TCP connection.
type Conn struct {
	conn tcpConn
	raw  syscall.RawConn
}

// New creates a Conn owning conn, which must be a *net.TCPConn or
// another net.Conn having a file descriptor and CloseWrite.
func New(conn net.Conn) (*Conn, error) {
	if !supported {
		return nil, ErrUnsupported
	}
	tc, ok := conn.(tcpConn)
	if !ok {
		return nil, errors.New("pollnet: not a TCP connection")
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return nil, err
	}
	return &Conn{conn: tc, raw: raw}, nil
}

// Read implements model.Conn.Read.
func (c *Conn) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	var (
		n     int
		errno error
	)
	err := c.raw.Control(func(fd uintptr) {
		n, errno = sysRead(fd, b)
	})
	switch {
	case err != nil:
		return 0, c.opError("read", err)
	case isEAGAIN(errno):
		return 0, model.WouldBlock(model.Readable)
	case errno != nil:
		return 0, c.opError("read", os.NewSyscallError("read", errno))
	case n <= 0:
		return 0, io.EOF
	}
	return n, nil
}

// Write implements model.Conn.Write.
func (c *Conn) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	var (
		n     int
		errno error
	)
	err := c.raw.Control(func(fd uintptr) {
		n, errno = sysWrite(fd, b)
	})
	switch {
	case err != nil:
		return 0, c.opError("write", err)
	case isEAGAIN(errno):
		return 0, model.WouldBlock(model.Writable)
	case errno != nil:
		return 0, c.opError("write", os.NewSyscallError("write", errno))
	case n <= 0:
		return 0, model.WouldBlock(model.Writable)
	}
	return n, nil
}

// Flush implements model.Conn.Flush. The kernel does the buffering.
func (c *Conn) Flush() error {
	return nil
}

// CloseWrite implements model.Conn.CloseWrite.
func (c *Conn) CloseWrite() error {
	return c.conn.CloseWrite()
}

// Close implements model.Conn.Close.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Wait implements model.Conn.Wait. Read and Write use Control rather than
// the RawConn Read and Write methods, so they do not contend for the locks
// held by a goroutine blocked here.
func (c *Conn) Wait(ctx context.Context, interest model.Interest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ready, err := c.ready(interest)
	if err != nil || ready {
		return err
	}
	setDeadline := c.conn.SetReadDeadline
	wait := c.raw.Read
	if interest == model.Writable {
		setDeadline = c.conn.SetWriteDeadline
		wait = c.raw.Write
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		setDeadline(aLongTimeAgo)
		close(fired)
	})
	var again bool
	err = wait(func(fd uintptr) bool {
		// Returning false the first time tells the runtime to wait.
		defer func() { again = true }()
		return again
	})
	if !stop() {
		<-fired
	}
	setDeadline(time.Time{})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return c.opError("wait", err)
	}
	return nil
}

// ready checks for readiness without blocking.
func (c *Conn) ready(interest model.Interest) (ready bool, err error) {
	cerr := c.raw.Control(func(fd uintptr) {
		ready, err = sysPoll(fd, interest)
	})
	if cerr != nil {
		return false, c.opError("wait", cerr)
	}
	return
}

// LocalAddr implements model.Conn.LocalAddr.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr implements model.Conn.RemoteAddr.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) opError(op string, err error) error {
	var operr *net.OpError
	if errors.As(err, &operr) {
		return err
	}
	return &net.OpError{
		Op:     op,
		Net:    "tcp",
		Source: c.conn.LocalAddr(),
		Addr:   c.conn.RemoteAddr(),
		Err:    err,
	}
}

// Dialer is a model.Transport creating non-blocking TCP connections.
type Dialer struct {
	// Dialer is the optional dialer to use.
	Dialer *net.Dialer
}

// Ready implements model.Transport.Ready.
func (d *Dialer) Ready(ctx context.Context) error {
	if !supported {
		return ErrUnsupported
	}
	return ctx.Err()
}

// Establish implements model.Transport.Establish. The target host must
// contain the port.
func (d *Dialer) Establish(ctx context.Context, target *url.URL) (model.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	conn, err := dialer.DialContext(ctx, "tcp", target.Host)
	if err != nil {
		return nil, err
	}
	pc, err := New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return pc, nil
}

// Listener is a model.Incoming accepting non-blocking TCP connections.
type Listener struct {
	listener *net.TCPListener
}

// Listen creates a new Listener listening on the given TCP address.
func Listen(ctx context.Context, address string) (*Listener, error) {
	if !supported {
		return nil, ErrUnsupported
	}
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &Listener{listener: listener.(*net.TCPListener)}, nil
}

// Accept implements model.Incoming.Accept.
func (l *Listener) Accept(ctx context.Context) (model.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		l.listener.SetDeadline(aLongTimeAgo)
		close(fired)
	})
	conn, err := l.listener.AcceptTCP()
	if !stop() {
		<-fired
		l.listener.SetDeadline(time.Time{})
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	pc, err := New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return pc, nil
}

// Addr implements model.Incoming.Addr.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close implements model.Incoming.Close.
func (l *Listener) Close() error {
	return l.listener.Close()
}
