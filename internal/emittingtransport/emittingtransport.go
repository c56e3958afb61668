// Package emittingtransport contains transport decorators emitting events
package emittingtransport

import (
	"context"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ooni/maybetls/internal/connx"
	"github.com/ooni/maybetls/internal/nohandler"
	"github.com/ooni/maybetls/model"
)

var connID int64

// NextConnID returns a new connection ID. IDs are never reused.
func NextConnID() int64 {
	return atomic.AddInt64(&connID, 1)
}

// Transport is a model.Transport emitting events
type Transport struct {
	beginning time.Time
	handler   model.Handler
	transport model.Transport
}

// New returns a new emitting transport
func New(transport model.Transport, beginning time.Time, handler model.Handler) *Transport {
	return &Transport{
		beginning: beginning,
		handler:   nohandler.OrNoHandler(handler),
		transport: transport,
	}
}

// Ready implements model.Transport.Ready.
func (t *Transport) Ready(ctx context.Context) error {
	return t.transport.Ready(ctx)
}

// Establish implements model.Transport.Establish. The returned conn
// emits Read, Write and Close events.
func (t *Transport) Establish(ctx context.Context, target *url.URL) (model.Conn, error) {
	cid := NextConnID()
	start := time.Now()
	conn, err := t.transport.Establish(ctx, target)
	stop := time.Now()
	t.handler.OnMeasurement(model.Measurement{
		Connect: &model.ConnectEvent{
			ConnID:        cid,
			Duration:      stop.Sub(start),
			Error:         err,
			LocalAddress:  safeLocalAddress(conn),
			RemoteAddress: safeRemoteAddress(conn),
			Target:        target.String(),
			Time:          stop.Sub(t.beginning),
		},
	})
	if err != nil {
		return nil, err
	}
	return &connx.MeasuringConn{
		Conn:      conn,
		Beginning: t.beginning,
		Handler:   t.handler,
		ID:        cid,
	}, nil
}

// Incoming is a model.Incoming emitting events
type Incoming struct {
	beginning time.Time
	handler   model.Handler
	incoming  model.Incoming
}

// NewIncoming returns a new emitting incoming source
func NewIncoming(incoming model.Incoming, beginning time.Time, handler model.Handler) *Incoming {
	return &Incoming{
		beginning: beginning,
		handler:   nohandler.OrNoHandler(handler),
		incoming:  incoming,
	}
}

// Accept implements model.Incoming.Accept. Accept failures caused by
// the context being done are not emitted.
func (i *Incoming) Accept(ctx context.Context) (model.Conn, error) {
	start := time.Now()
	conn, err := i.incoming.Accept(ctx)
	stop := time.Now()
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	cid := NextConnID()
	i.handler.OnMeasurement(model.Measurement{
		Accept: &model.AcceptEvent{
			ConnID:        cid,
			Duration:      stop.Sub(start),
			Error:         err,
			LocalAddress:  safeLocalAddress(conn),
			RemoteAddress: safeRemoteAddress(conn),
			Time:          stop.Sub(i.beginning),
		},
	})
	if err != nil {
		return nil, err
	}
	return &connx.MeasuringConn{
		Conn:      conn,
		Beginning: i.beginning,
		Handler:   i.handler,
		ID:        cid,
	}, nil
}

// Addr implements model.Incoming.Addr.
func (i *Incoming) Addr() net.Addr {
	return i.incoming.Addr()
}

// Close implements model.Incoming.Close.
func (i *Incoming) Close() error {
	return i.incoming.Close()
}

func safeLocalAddress(conn model.Conn) (s string) {
	if conn != nil && conn.LocalAddr() != nil {
		s = conn.LocalAddr().String()
	}
	return
}

func safeRemoteAddress(conn model.Conn) (s string) {
	if conn != nil && conn.RemoteAddr() != nil {
		s = conn.RemoteAddr().String()
	}
	return
}
