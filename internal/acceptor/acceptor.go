// Package acceptor contains the server side acceptor. The acceptor wraps
// each inbound connection with a TLS stream without performing any I/O,
// so that a slow peer never prevents accepting the next connection. The
// handshake is driven by the first read or write.
package acceptor

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/ooni/maybetls/internal/errwrapper"
	"github.com/ooni/maybetls/internal/nohandler"
	"github.com/ooni/maybetls/internal/stream"
	"github.com/ooni/maybetls/internal/tlssession"
	"github.com/ooni/maybetls/internal/tlsstream"
	"github.com/ooni/maybetls/model"
)

// SessionFactory creates a server TLS session.
type SessionFactory func(config *tls.Config) model.Session

// NewServerSession is the default SessionFactory.
func NewServerSession(config *tls.Config) model.Session {
	return tlssession.NewServer(config)
}

// Config contains the acceptor configuration.
type Config struct {
	// Beginning is the zero time of the emitted events.
	Beginning time.Time

	// Handler receives the TLS events.
	Handler model.Handler

	// Logger is the logger to use.
	Logger log.Interface

	// NewSession creates TLS sessions.
	NewSession SessionFactory

	// TLSConfig is the shared server TLS configuration. It is
	// mandatory and must contain a certificate.
	TLSConfig *tls.Config
}

// Acceptor is the server side acceptor.
type Acceptor struct {
	config   Config
	err      error
	incoming model.Incoming
	mu       sync.Mutex
}

// New creates a new Acceptor. It fails with a config error when the
// TLS configuration cannot possibly serve any client.
func New(incoming model.Incoming, config Config) (*Acceptor, error) {
	if c := config.TLSConfig; c == nil || (len(c.Certificates) <= 0 &&
		c.GetCertificate == nil && c.GetConfigForClient == nil) {
		return nil, errwrapper.SafeErrWrapperBuilder{
			Error:     model.ErrMissingTLSConfig,
			Kind:      model.ErrorKindConfig,
			Operation: "accept",
		}.MaybeBuild()
	}
	if config.Beginning.IsZero() {
		config.Beginning = time.Now()
	}
	config.Handler = nohandler.OrNoHandler(config.Handler)
	if config.Logger == nil {
		config.Logger = log.Log
	}
	if config.NewSession == nil {
		config.NewSession = NewServerSession
	}
	return &Acceptor{config: config, incoming: incoming}, nil
}

// Accept returns the next inbound stream, which is encrypted and still
// handshaking. When ctx is done, Accept returns the context error and
// may be called again. Any other error is fatal: it is returned by this
// and every subsequent call, without using the inbound source again.
func (a *Acceptor) Accept(ctx context.Context) (*stream.Stream, error) {
	a.mu.Lock()
	err := a.err
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	conn, err := a.incoming.Accept(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.config.Logger.WithError(err).Warn("acceptor: inbound source failed")
		a.mu.Lock()
		if a.err == nil {
			a.err = err
		}
		err = a.err
		a.mu.Unlock()
		return nil, err
	}
	tlsconn := tlsstream.New(conn, a.config.NewSession(a.config.TLSConfig), tlsstream.Config{
		Beginning:  a.config.Beginning,
		ConnID:     connIDOf(conn),
		Handler:    a.config.Handler,
		NextProtos: a.config.TLSConfig.NextProtos,
		Role:       "server",
	})
	return stream.NewEncrypted(tlsconn), nil
}

// Addr returns the address of the inbound source.
func (a *Acceptor) Addr() net.Addr {
	return a.incoming.Addr()
}

// Close closes the inbound source.
func (a *Acceptor) Close() error {
	return a.incoming.Close()
}

func connIDOf(conn model.Conn) int64 {
	if c, ok := conn.(interface{ ConnID() int64 }); ok {
		return c.ConnID()
	}
	return 0
}
