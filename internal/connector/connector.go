// Package connector contains the client side connector. Given a target
// URL, the connector establishes an underlying connection using the inner
// transport and, when the scheme requires it, wraps such connection with
// a TLS stream. The handshake is driven lazily by the first use.
package connector

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/ooni/maybetls/internal/errwrapper"
	"github.com/ooni/maybetls/internal/nohandler"
	"github.com/ooni/maybetls/internal/servername"
	"github.com/ooni/maybetls/internal/stream"
	"github.com/ooni/maybetls/internal/tlssession"
	"github.com/ooni/maybetls/internal/tlsstream"
	"github.com/ooni/maybetls/model"
)

// Scheme describes how to connect to a given URL scheme.
type Scheme struct {
	// Encrypted indicates whether we need TLS.
	Encrypted bool

	// DefaultPort is the port used when the target has none.
	DefaultPort string
}

// DefaultSchemes returns the default schemes table.
func DefaultSchemes() map[string]Scheme {
	return map[string]Scheme{
		"http":  {Encrypted: false, DefaultPort: "80"},
		"https": {Encrypted: true, DefaultPort: "443"},
	}
}

// SessionFactory creates a client TLS session.
type SessionFactory func(config *tls.Config, name model.ServerName) model.Session

// NewClientSession is the default SessionFactory.
func NewClientSession(config *tls.Config, name model.ServerName) model.Session {
	return tlssession.NewClient(config, name)
}

// Config contains the connector configuration. The zero value is valid
// but it does not allow to connect to encrypted schemes.
type Config struct {
	// Beginning is the zero time of the emitted events.
	Beginning time.Time

	// ForceHTTPS prevents using plaintext schemes.
	ForceHTTPS bool

	// Handler receives the TLS events.
	Handler model.Handler

	// Logger is the logger to use.
	Logger log.Interface

	// NewSession creates TLS sessions.
	NewSession SessionFactory

	// Resolver maps targets to server names.
	Resolver model.ServerNameResolver

	// Schemes is the schemes table.
	Schemes map[string]Scheme

	// TLSConfig is the shared client TLS configuration. It is never
	// modified by the connector.
	TLSConfig *tls.Config
}

// Connector is the client side connector.
type Connector struct {
	config    Config
	transport model.Transport
}

// New creates a new Connector using transport as the inner transport.
func New(transport model.Transport, config Config) *Connector {
	if config.Beginning.IsZero() {
		config.Beginning = time.Now()
	}
	config.Handler = nohandler.OrNoHandler(config.Handler)
	if config.Logger == nil {
		config.Logger = log.Log
	}
	if config.NewSession == nil {
		config.NewSession = NewClientSession
	}
	if config.Resolver == nil {
		config.Resolver = servername.Default
	}
	if config.Schemes == nil {
		config.Schemes = DefaultSchemes()
	}
	return &Connector{config: config, transport: transport}
}

// Ready returns nil when the inner transport is ready.
func (c *Connector) Ready(ctx context.Context) error {
	return c.transport.Ready(ctx)
}

// Connect connects to target. Errors raised before contacting the inner
// transport are either config or policy errors (see model.KindOf). Errors
// returned by the inner transport are returned verbatim. The returned
// stream, if encrypted, is still handshaking.
func (c *Connector) Connect(ctx context.Context, target *url.URL) (*stream.Stream, error) {
	scheme, found := c.config.Schemes[strings.ToLower(target.Scheme)]
	if !found {
		return nil, errwrapper.SafeErrWrapperBuilder{
			Error:     fmt.Errorf("%w: %q", model.ErrUnsupportedScheme, target.Scheme),
			Kind:      model.ErrorKindConfig,
			Operation: "connect",
		}.MaybeBuild()
	}
	if !scheme.Encrypted && c.config.ForceHTTPS {
		c.config.Logger.Debugf("connector: refusing plaintext %s", target.Redacted())
		return nil, errwrapper.SafeErrWrapperBuilder{
			Error:     model.ErrHTTPSRequired,
			Kind:      model.ErrorKindPolicy,
			Operation: "connect",
		}.MaybeBuild()
	}
	target = withDefaultPort(target, scheme.DefaultPort)
	if !scheme.Encrypted {
		conn, err := c.transport.Establish(ctx, target)
		if err != nil {
			return nil, err
		}
		return stream.NewPlain(conn), nil
	}
	if c.config.TLSConfig == nil {
		return nil, errwrapper.SafeErrWrapperBuilder{
			Error:     model.ErrMissingTLSConfig,
			Kind:      model.ErrorKindConfig,
			Operation: "connect",
		}.MaybeBuild()
	}
	name, err := c.config.Resolver.Resolve(target)
	if err != nil {
		return nil, errwrapper.SafeErrWrapperBuilder{
			Error:     invalidServerName(err),
			Kind:      model.ErrorKindConfig,
			Operation: "resolve_server_name",
		}.MaybeBuild()
	}
	conn, err := c.transport.Establish(ctx, target)
	if err != nil {
		return nil, err
	}
	c.config.Logger.Debugf("connector: tls {sni=%s next=%+v} %s",
		name, c.config.TLSConfig.NextProtos, target.Host)
	tlsconn := tlsstream.New(conn, c.config.NewSession(c.config.TLSConfig, name), tlsstream.Config{
		Beginning:  c.config.Beginning,
		ConnID:     connIDOf(conn),
		Handler:    c.config.Handler,
		NextProtos: c.config.TLSConfig.NextProtos,
		Role:       "client",
		ServerName: string(name),
	})
	return stream.NewEncrypted(tlsconn), nil
}

func invalidServerName(err error) error {
	if errors.Is(err, model.ErrInvalidServerName) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrInvalidServerName, err)
}

// withDefaultPort returns a copy of target having an explicit port.
func withDefaultPort(target *url.URL, port string) *url.URL {
	if target.Port() != "" || port == "" {
		return target
	}
	out := *target
	// Hostname strips the brackets that JoinHostPort adds back.
	out.Host = net.JoinHostPort(target.Hostname(), port)
	return &out
}

// connIDOf returns the ID of conn, if conn has one.
func connIDOf(conn model.Conn) int64 {
	if c, ok := conn.(interface{ ConnID() int64 }); ok {
		return c.ConnID()
	}
	return 0
}
