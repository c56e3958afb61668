package httpx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/ooni/maybetls/internal/acceptor"
	"github.com/ooni/maybetls/internal/connx"
	"golang.org/x/net/http2"
)

// DefaultHandshakeTimeout is the default Server.HandshakeTimeout.
const DefaultHandshakeTimeout = 10 * time.Second

// Server serves HTTP over the streams returned by an acceptor.
type Server struct {
	// Handler is the HTTP handler.
	Handler http.Handler

	// HandshakeTimeout bounds the TLS handshake of each stream.
	HandshakeTimeout time.Duration

	// Logger is the logger to use.
	Logger log.Interface
}

// Serve accepts streams from a until ctx is done or the acceptor fails.
// Each stream is handshaked in its own goroutine and then dispatched to
// HTTP/2 when the client negotiated "h2" and to HTTP/1.1 otherwise.
// Serve closes the acceptor before returning.
func (s *Server) Serve(ctx context.Context, a *acceptor.Acceptor) error {
	logger := s.Logger
	if logger == nil {
		logger = log.Log
	}
	timeout := s.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h1 := &http.Server{Handler: s.Handler, ReadHeaderTimeout: timeout}
	h2 := &http2.Server{}
	conns := newChanListener(a.Addr())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h1.Serve(conns)
	}()
	defer func() {
		cancel()
		a.Close()
		conns.Close()
		h1.Close()
		wg.Wait()
	}()
	for {
		st, err := a.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		conn := connx.NewNetConn(st)
		wg.Add(1)
		go func() {
			defer wg.Done()
			hctx, hcancel := context.WithTimeout(ctx, timeout)
			err := conn.HandshakeContext(hctx)
			hcancel()
			if err != nil {
				logger.WithError(err).Debug("httpx: handshake failed")
				conn.Close()
				return
			}
			if conn.ConnectionState().NegotiatedProtocol == http2.NextProtoTLS {
				stop := context.AfterFunc(ctx, func() { conn.Close() })
				defer stop()
				h2.ServeConn(conn, &http2.ServeConnOpts{
					BaseConfig: h1,
					Context:    ctx,
					Handler:    s.Handler,
				})
				return
			}
			if !conns.deliver(ctx, conn) {
				conn.Close()
			}
		}()
	}
}

// chanListener is a net.Listener fed by Server.Serve.
type chanListener struct {
	addr      net.Addr
	ch        chan net.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

func newChanListener(addr net.Addr) *chanListener {
	return &chanListener{addr: addr, ch: make(chan net.Conn), closed: make(chan struct{})}
}

func (l *chanListener) deliver(ctx context.Context, conn net.Conn) bool {
	select {
	case l.ch <- conn:
		return true
	case <-l.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.ch:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *chanListener) Close() error {
	err := net.ErrClosed
	l.closeOnce.Do(func() {
		close(l.closed)
		err = nil
	})
	return err
}

func (l *chanListener) Addr() net.Addr {
	return l.addr
}

var _ net.Listener = &chanListener{}

// IsClosed returns whether err is the error returned by Serve after
// the context has been canceled.
func IsClosed(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed)
}
