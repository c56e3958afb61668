// Package maybetls contains connectors and acceptors that transparently
// upgrade non-blocking connections to TLS.
//
// A Connector opens a connection for a target URL and, when the scheme
// requires it, wraps such connection with a TLS stream. An Acceptor
// wraps every inbound connection with a TLS stream. In both cases the
// handshake is driven by the first read or write, and the returned
// Stream has the same non-blocking semantics whether or not it is
// encrypted. Use NewConn to obtain a blocking net.Conn.
//
// During their lifecycle, connectors and acceptors emit measurement
// events (see the model package) to the configured model.Handler.
package maybetls

import (
	"context"
	"crypto/tls"
	"net/url"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/ooni/maybetls/internal/acceptor"
	"github.com/ooni/maybetls/internal/connector"
	"github.com/ooni/maybetls/internal/connx"
	"github.com/ooni/maybetls/internal/emittingtransport"
	"github.com/ooni/maybetls/internal/nohandler"
	"github.com/ooni/maybetls/internal/pollnet"
	"github.com/ooni/maybetls/internal/servername"
	"github.com/ooni/maybetls/internal/stream"
	"github.com/ooni/maybetls/model"
)

// Stream is either a plaintext or an encrypted connection.
type Stream = stream.Stream

// Scheme describes how to connect to a URL scheme.
type Scheme = connector.Scheme

// Acceptor yields encrypted streams for inbound connections.
type Acceptor = acceptor.Acceptor

// Conn is the blocking net.Conn view of a Stream.
type Conn = connx.NetConn

// Connector connects to target URLs. The zero value is not valid; use
// NewConnector to construct. Setters must not be called concurrently
// with Connect.
type Connector struct {
	beginning  time.Time
	forceHTTPS bool
	handler    model.Handler
	logger     log.Interface
	mu         sync.Mutex
	resolver   model.ServerNameResolver
	schemes    map[string]Scheme
	tlsConfig  *tls.Config
	transport  model.Transport

	inner *connector.Connector
}

// NewConnector creates a new Connector that establishes TCP connections
// using non-blocking sockets. The config is shared by all the encrypted
// streams and is never modified. A nil config only allows plaintext.
func NewConnector(config *tls.Config) *Connector {
	return &Connector{
		beginning: time.Now(),
		handler:   nohandler.S{},
		logger:    log.Log,
		resolver:  servername.Default,
		schemes:   connector.DefaultSchemes(),
		tlsConfig: config,
		transport: &pollnet.Dialer{},
	}
}

// HTTPSOnly controls whether plaintext schemes are refused.
func (c *Connector) HTTPSOnly(enabled bool) {
	c.update(func() { c.forceHTTPS = enabled })
}

// SetServerNameResolver sets the policy mapping targets to the name
// asserted during certificate verification.
func (c *Connector) SetServerNameResolver(resolver model.ServerNameResolver) {
	c.update(func() { c.resolver = resolver })
}

// SetTransport replaces the inner transport.
func (c *Connector) SetTransport(transport model.Transport) {
	c.update(func() { c.transport = transport })
}

// SetHandler sets the handler receiving measurement events.
func (c *Connector) SetHandler(handler model.Handler) {
	c.update(func() { c.handler = nohandler.OrNoHandler(handler) })
}

// SetLogger sets the logger.
func (c *Connector) SetLogger(logger log.Interface) {
	c.update(func() { c.logger = logger })
}

// RegisterScheme adds or replaces the scheme called name.
func (c *Connector) RegisterScheme(name string, scheme Scheme) {
	c.update(func() { c.schemes[name] = scheme })
}

func (c *Connector) update(f func()) {
	c.mu.Lock()
	f()
	c.inner = nil
	c.mu.Unlock()
}

func (c *Connector) get() *connector.Connector {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inner == nil {
		schemes := make(map[string]Scheme)
		for name, scheme := range c.schemes {
			schemes[name] = scheme
		}
		c.inner = connector.New(
			emittingtransport.New(c.transport, c.beginning, c.handler),
			connector.Config{
				Beginning:  c.beginning,
				ForceHTTPS: c.forceHTTPS,
				Handler:    c.handler,
				Logger:     c.logger,
				Resolver:   c.resolver,
				Schemes:    schemes,
				TLSConfig:  c.tlsConfig,
			},
		)
	}
	return c.inner
}

// Ready returns nil when the inner transport is ready.
func (c *Connector) Ready(ctx context.Context) error {
	return c.get().Ready(ctx)
}

// Connect connects to target. See the model package for the error
// classification. An encrypted stream is returned before the handshake.
func (c *Connector) Connect(ctx context.Context, target *url.URL) (*Stream, error) {
	return c.get().Connect(ctx, target)
}

// NewAcceptor creates an Acceptor using incoming as the inbound source and
// config as the server TLS configuration.
func NewAcceptor(incoming model.Incoming, config *tls.Config, handler model.Handler) (*Acceptor, error) {
	beginning := time.Now()
	handler = nohandler.OrNoHandler(handler)
	return acceptor.New(emittingtransport.NewIncoming(incoming, beginning, handler), acceptor.Config{
		Beginning: beginning,
		Handler:   handler,
		TLSConfig: config,
	})
}

// Listen creates an Acceptor for non-blocking TCP connections accepted
// on address (for example "127.0.0.1:1337").
func Listen(ctx context.Context, address string, config *tls.Config, handler model.Handler) (*Acceptor, error) {
	listener, err := pollnet.Listen(ctx, address)
	if err != nil {
		return nil, err
	}
	a, err := NewAcceptor(listener, config, handler)
	if err != nil {
		listener.Close()
		return nil, err
	}
	return a, nil
}

// NewConn returns a blocking net.Conn using s.
func NewConn(s *Stream) *Conn {
	return connx.NewNetConn(s)
}

// FixedServerName returns a resolver that always asserts name. It
// fails at Resolve time when name is neither a DNS name nor an IP.
func FixedServerName(name string) model.ServerNameResolver {
	return servername.Fixed(name)
}
