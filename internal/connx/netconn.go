package connx

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ooni/maybetls/model"
)

// NetConn adapts a non-blocking model.Conn to the blocking net.Conn
// interface so that it can be used by net/http and x/net/http2, which
// read and write from distinct goroutines. A mutex serializes the
// non-blocking operations. Each blocked goroutine waits on the readiness
// of the underlying connection, and also wakes up when another goroutine
// made progress, since such progress may have consumed the bytes it was
// waiting for (e.g., while the handshake is completing).
type NetConn struct {
	closeOnce sync.Once
	closed    chan struct{}
	conn      model.Conn

	// mu serializes the operations on conn.
	mu sync.Mutex

	// pmu protects the fields below.
	pmu           sync.Mutex
	progress      chan struct{}
	readDeadline  time.Time
	writeDeadline time.Time
}

// NewNetConn creates a new NetConn owning conn.
func NewNetConn(conn model.Conn) *NetConn {
	return &NetConn{
		closed:   make(chan struct{}),
		conn:     conn,
		progress: make(chan struct{}),
	}
}

// Underlying returns the wrapped connection.
func (c *NetConn) Underlying() model.Conn {
	return c.conn
}

// Read implements net.Conn.Read.
func (c *NetConn) Read(b []byte) (int, error) {
	return c.do(context.Background(), c.getReadDeadline, func() (int, error) {
		return c.conn.Read(b)
	})
}

// Write implements net.Conn.Write. It returns after all the bytes have
// been written and flushed, or on error.
func (c *NetConn) Write(b []byte) (int, error) {
	var written int
	for written < len(b) {
		n, err := c.do(context.Background(), c.getWriteDeadline, func() (int, error) {
			return c.conn.Write(b[written:])
		})
		written += n
		if err != nil {
			return written, err
		}
	}
	_, err := c.do(context.Background(), c.getWriteDeadline, func() (int, error) {
		return 0, c.conn.Flush()
	})
	return written, err
}

// CloseWrite shuts down the sending side of the connection.
func (c *NetConn) CloseWrite() error {
	_, err := c.do(context.Background(), c.getWriteDeadline, func() (int, error) {
		return 0, c.conn.CloseWrite()
	})
	return err
}

type handshaker interface {
	Handshake() error
}

// HandshakeContext drives the handshake of the underlying connection, if
// it has one, until completion, failure, or until ctx is done.
func (c *NetConn) HandshakeContext(ctx context.Context) error {
	h, ok := c.conn.(handshaker)
	if !ok {
		return nil
	}
	_, err := c.do(ctx, c.getWriteDeadline, func() (int, error) {
		return 0, h.Handshake()
	})
	return err
}

type connectionStater interface {
	ConnectionState() tls.ConnectionState
}

// ConnectionState returns the TLS connection state of the underlying
// connection, if any. This allows http2 to inspect the TLS state.
func (c *NetConn) ConnectionState() tls.ConnectionState {
	cs, ok := c.conn.(connectionStater)
	if !ok {
		return tls.ConnectionState{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return cs.ConnectionState()
}

// Close implements net.Conn.Close.
func (c *NetConn) Close() error {
	err := net.ErrClosed
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		err = c.conn.Close()
		c.mu.Unlock()
	})
	return err
}

// LocalAddr implements net.Conn.LocalAddr.
func (c *NetConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr implements net.Conn.RemoteAddr.
func (c *NetConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline implements net.Conn.SetDeadline.
func (c *NetConn) SetDeadline(t time.Time) error {
	c.pmu.Lock()
	c.readDeadline, c.writeDeadline = t, t
	c.pmu.Unlock()
	c.signal()
	return nil
}

// SetReadDeadline implements net.Conn.SetReadDeadline.
func (c *NetConn) SetReadDeadline(t time.Time) error {
	c.pmu.Lock()
	c.readDeadline = t
	c.pmu.Unlock()
	c.signal()
	return nil
}

// SetWriteDeadline implements net.Conn.SetWriteDeadline.
func (c *NetConn) SetWriteDeadline(t time.Time) error {
	c.pmu.Lock()
	c.writeDeadline = t
	c.pmu.Unlock()
	c.signal()
	return nil
}

func (c *NetConn) getReadDeadline() time.Time {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	return c.readDeadline
}

func (c *NetConn) getWriteDeadline() time.Time {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	return c.writeDeadline
}

func (c *NetConn) snapshot() <-chan struct{} {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	return c.progress
}

// signal wakes up all the goroutines that are waiting.
func (c *NetConn) signal() {
	c.pmu.Lock()
	close(c.progress)
	c.progress = make(chan struct{})
	c.pmu.Unlock()
}

// do calls op until it stops returning a pending result.
func (c *NetConn) do(ctx context.Context, deadline func() time.Time, op func() (int, error)) (int, error) {
	for {
		if err := c.check(ctx, deadline()); err != nil {
			return 0, err
		}
		progress := c.snapshot()
		c.mu.Lock()
		n, err := op()
		c.mu.Unlock()
		interest, pending := model.WouldBlockInterest(err)
		if !pending {
			c.signal()
			return n, err
		}
		if err := c.wait(ctx, deadline(), interest, progress); err != nil {
			return 0, err
		}
	}
}

func (c *NetConn) check(ctx context.Context, deadline time.Time) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return os.ErrDeadlineExceeded
	}
	return nil
}

// wait returns nil when the caller should retry.
func (c *NetConn) wait(ctx context.Context, deadline time.Time,
	interest model.Interest, progress <-chan struct{}) error {
	waitctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !deadline.IsZero() {
		var cancelDeadline context.CancelFunc
		waitctx, cancelDeadline = context.WithDeadline(waitctx, deadline)
		defer cancelDeadline()
	}
	go func() {
		select {
		case <-progress:
		case <-c.closed:
		case <-waitctx.Done():
		}
		cancel()
	}()
	err := c.conn.Wait(waitctx, interest)
	if err != nil && waitctx.Err() == nil {
		return err
	}
	return c.check(ctx, deadline)
}
