// Package httpx contains net/http extensions. The client uses a
// connector for dialing, so that the scheme decides whether to use
// TLS. The server uses an acceptor and dispatches connections to
// HTTP/1.1 or HTTP/2 depending on the negotiated ALPN.
package httpx

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ooni/maybetls/internal/connx"
	"github.com/ooni/maybetls/internal/stream"
	"golang.org/x/net/http2"
)

// Connector is the connector used by the client.
type Connector interface {
	Connect(ctx context.Context, target *url.URL) (*stream.Stream, error)
}

// ErrProtocolMismatch means the server negotiated an ALPN that is not
// compatible with the transport in use.
var ErrProtocolMismatch = errors.New("httpx: negotiated protocol mismatch")

// Transport performs HTTP transactions using a Connector.
type Transport struct {
	connector Connector
	rt        http.RoundTripper
}

// NewTransport creates a new HTTP/1.1 Transport. The connector TLS
// configuration should only offer "http/1.1" via ALPN.
func NewTransport(connector Connector) *Transport {
	t := &Transport{connector: connector}
	t.rt = &http.Transport{
		DialContext:           t.dial,
		DialTLSContext:        t.dialTLS,
		ForceAttemptHTTP2:     false,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return t
}

// NewHTTP2Transport creates a new HTTP/2 Transport. The connector TLS
// configuration must offer "h2" via ALPN. Only https URLs work.
func NewHTTP2Transport(connector Connector) *Transport {
	t := &Transport{connector: connector}
	t.rt = &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			conn, err := t.handshake(ctx, addr)
			if err != nil {
				return nil, err
			}
			if proto := conn.ConnectionState().NegotiatedProtocol; proto != http2.NextProtoTLS {
				conn.Close()
				return nil, fmt.Errorf("%w: want %q, got %q", ErrProtocolMismatch, http2.NextProtoTLS, proto)
			}
			return conn, nil
		},
	}
	return t
}

// RoundTrip executes a single HTTP transaction.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.rt.RoundTrip(req)
}

// CloseIdleConnections closes the idle connections.
func (t *Transport) CloseIdleConnections() {
	if c, ok := t.rt.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

func (t *Transport) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	s, err := t.connector.Connect(ctx, &url.URL{Scheme: "http", Host: addr})
	if err != nil {
		return nil, err
	}
	return connx.NewNetConn(s), nil
}

func (t *Transport) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := t.handshake(ctx, addr)
	if err != nil {
		return nil, err
	}
	if proto := conn.ConnectionState().NegotiatedProtocol; proto == http2.NextProtoTLS {
		conn.Close()
		return nil, fmt.Errorf("%w: want %q, got %q", ErrProtocolMismatch, "http/1.1", proto)
	}
	return conn, nil
}

// handshake connects to addr and completes the handshake, because
// net/http expects a connection returned by DialTLSContext to be
// ready for use.
func (t *Transport) handshake(ctx context.Context, addr string) (*connx.NetConn, error) {
	s, err := t.connector.Connect(ctx, &url.URL{Scheme: "https", Host: addr})
	if err != nil {
		return nil, err
	}
	conn := connx.NewNetConn(s)
	if err := conn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Client is an extensible HTTP client.
type Client struct {
	// HTTPClient is the underlying client. Pass this client to existing
	// code that expects an *http.Client.
	HTTPClient *http.Client

	// Transport is the transport used by the client.
	Transport *Transport
}

// NewClient creates a new client using the given transport.
func NewClient(transport *Transport) *Client {
	return &Client{
		HTTPClient: &http.Client{Transport: transport},
		Transport:  transport,
	}
}

// CloseIdleConnections closes the idle connections.
func (c *Client) CloseIdleConnections() {
	c.Transport.CloseIdleConnections()
}
