// Package memconn contains in-memory non-blocking connections. They
// implement model.Conn, model.Incoming and model.Transport and we use
// them to exercise the pump logic without touching the network.
package memconn

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/ooni/maybetls/model"
)

// DefaultCapacity is the default number of bytes buffered in
// each direction of a pipe.
const DefaultCapacity = 1 << 16

// ErrWriteAfterCloseWrite is returned when writing after CloseWrite.
var ErrWriteAfterCloseWrite = errors.New("memconn: write after CloseWrite")

type addr string

func (a addr) Network() string { return "memconn" }
func (a addr) String() string  { return string(a) }

type direction struct {
	buf bytes.Buffer
	eof bool
}

type pipe struct {
	capacity int
	changed  chan struct{}
	mu       sync.Mutex
}

func (p *pipe) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// Conn is one end of an in-memory pipe.
type Conn struct {
	bytesRead    int64
	bytesWritten int64
	closed       bool
	local        net.Addr
	peer         *Conn
	pipe         *pipe
	remote       net.Addr
	rx           *direction
	tx           *direction
	writes       int64
}

// Pipe creates a pipe buffering at most capacity bytes in each
// direction. A non-positive capacity selects DefaultCapacity.
func Pipe(capacity int) (client, server *Conn) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &pipe{capacity: capacity, changed: make(chan struct{})}
	up, down := &direction{}, &direction{}
	client = &Conn{local: addr("client"), pipe: p, remote: addr("server"), rx: down, tx: up}
	server = &Conn{local: addr("server"), pipe: p, remote: addr("client"), rx: up, tx: down}
	client.peer, server.peer = server, client
	return
}

// Read implements model.Conn.Read.
func (c *Conn) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.rx.buf.Len() > 0 {
		n, _ := c.rx.buf.Read(b)
		c.bytesRead += int64(n)
		c.pipe.notifyLocked()
		return n, nil
	}
	if c.rx.eof {
		return 0, io.EOF
	}
	return 0, model.WouldBlock(model.Readable)
}

// Write implements model.Conn.Write.
func (c *Conn) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()
	switch {
	case c.closed:
		return 0, net.ErrClosed
	case c.tx.eof:
		return 0, ErrWriteAfterCloseWrite
	case c.peer.closed:
		return 0, io.ErrClosedPipe
	}
	room := c.pipe.capacity - c.tx.buf.Len()
	if room <= 0 {
		return 0, model.WouldBlock(model.Writable)
	}
	if len(b) > room {
		b = b[:room]
	}
	c.tx.buf.Write(b)
	c.bytesWritten += int64(len(b))
	c.writes++
	c.pipe.notifyLocked()
	return len(b), nil
}

// Flush implements model.Conn.Flush.
func (c *Conn) Flush() error {
	return nil
}

// CloseWrite implements model.Conn.CloseWrite.
func (c *Conn) CloseWrite() error {
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.tx.eof = true
	c.pipe.notifyLocked()
	return nil
}

// Close implements model.Conn.Close.
func (c *Conn) Close() error {
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.closed = true
	c.tx.eof = true
	c.pipe.notifyLocked()
	return nil
}

func (c *Conn) readyLocked(interest model.Interest) bool {
	if c.closed {
		return true
	}
	if interest == model.Writable {
		return c.tx.eof || c.peer.closed || c.tx.buf.Len() < c.pipe.capacity
	}
	return c.rx.eof || c.rx.buf.Len() > 0
}

// Wait implements model.Conn.Wait.
func (c *Conn) Wait(ctx context.Context, interest model.Interest) error {
	for {
		c.pipe.mu.Lock()
		ready, changed := c.readyLocked(interest), c.pipe.changed
		c.pipe.mu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// LocalAddr implements model.Conn.LocalAddr.
func (c *Conn) LocalAddr() net.Addr {
	return c.local
}

// RemoteAddr implements model.Conn.RemoteAddr.
func (c *Conn) RemoteAddr() net.Addr {
	return c.remote
}

// BytesRead returns the number of bytes read so far.
func (c *Conn) BytesRead() int64 {
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()
	return c.bytesRead
}

// BytesWritten returns the number of bytes written so far.
func (c *Conn) BytesWritten() int64 {
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()
	return c.bytesWritten
}

// Buffered returns the number of bytes waiting to be read.
func (c *Conn) Buffered() int {
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()
	return c.rx.buf.Len()
}

// Writes returns the number of successful writes so far.
func (c *Conn) Writes() int64 {
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()
	return c.writes
}
