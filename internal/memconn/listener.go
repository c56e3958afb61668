package memconn

import (
	"context"
	"net"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/ooni/maybetls/model"
)

// Listener is an in-memory model.Incoming.
type Listener struct {
	capacity  int
	closeOnce sync.Once
	closed    chan struct{}
	conns     chan *Conn
}

// NewListener creates a new Listener whose pipes buffer at most
// capacity bytes in each direction (see Pipe).
func NewListener(capacity int) *Listener {
	return &Listener{
		capacity: capacity,
		closed:   make(chan struct{}),
		conns:    make(chan *Conn, 128),
	}
}

// Dial creates a new pipe, queues the server end to be accepted
// and returns the client end.
func (l *Listener) Dial(ctx context.Context) (*Conn, error) {
	client, server := Pipe(l.capacity)
	select {
	case <-l.closed:
		return nil, net.ErrClosed
	default:
	}
	select {
	case l.conns <- server:
		return client, nil
	case <-l.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Accept implements model.Incoming.Accept.
func (l *Listener) Accept(ctx context.Context) (model.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr implements model.Incoming.Addr.
func (l *Listener) Addr() net.Addr {
	return addr("server")
}

// Close implements model.Incoming.Close.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
	return nil
}

// Transport is a model.Transport dialing a Listener regardless of
// the target. It records the targets it has been asked for.
type Transport struct {
	Listener *Listener

	calls   int64
	mu      sync.Mutex
	targets []string
}

// Ready implements model.Transport.Ready.
func (t *Transport) Ready(ctx context.Context) error {
	return nil
}

// Establish implements model.Transport.Establish.
func (t *Transport) Establish(ctx context.Context, target *url.URL) (model.Conn, error) {
	atomic.AddInt64(&t.calls, 1)
	t.mu.Lock()
	t.targets = append(t.targets, target.String())
	t.mu.Unlock()
	conn, err := t.Listener.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Calls returns the number of Establish calls.
func (t *Transport) Calls() int64 {
	return atomic.LoadInt64(&t.calls)
}

// Targets returns the targets passed to Establish.
func (t *Transport) Targets() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.targets...)
}
