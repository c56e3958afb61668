package acceptor

import (
	"context"
	"net"

	"github.com/ooni/maybetls/internal/connx"
)

// listener is a blocking net.Listener returning connx.NetConn values.
type listener struct {
	a      *Acceptor
	cancel context.CancelFunc
	ctx    context.Context
}

// Listener returns a blocking net.Listener that can be used with
// net/http. The handshake of each returned net.Conn still happens on
// first use. Closing the listener closes the acceptor.
func (a *Acceptor) Listener() net.Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &listener{a: a, cancel: cancel, ctx: ctx}
}

// Accept implements net.Listener.Accept.
func (l *listener) Accept() (net.Conn, error) {
	s, err := l.a.Accept(l.ctx)
	if err != nil {
		if l.ctx.Err() != nil {
			return nil, net.ErrClosed
		}
		return nil, err
	}
	return connx.NewNetConn(s), nil
}

// Close implements net.Listener.Close.
func (l *listener) Close() error {
	l.cancel()
	return l.a.Close()
}

// Addr implements net.Listener.Addr.
func (l *listener) Addr() net.Addr {
	return l.a.Addr()
}
