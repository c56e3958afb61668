// Package socks5 contains a model.Transport tunneling connections through
// a SOCKS5 proxy. Once the SOCKS5 handshake is complete, the underlying
// TCP connection is used directly as a non-blocking pollnet.Conn.
package socks5

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/ooni/maybetls/internal/pollnet"
	"github.com/ooni/maybetls/model"
	"golang.org/x/net/proxy"
)

// ErrUnsupportedScheme indicates we don't support the proxy scheme.
var ErrUnsupportedScheme = errors.New("socks5: unsupported proxy scheme")

// Transport is a model.Transport using a SOCKS5 proxy.
type Transport struct {
	// Dialer is the optional dialer used to reach the proxy.
	Dialer *net.Dialer

	// ProxyURL is the mandatory proxy URL (e.g. socks5://127.0.0.1:9050).
	ProxyURL *url.URL
}

// Ready implements model.Transport.Ready.
func (t *Transport) Ready(ctx context.Context) error {
	if t.ProxyURL == nil || t.ProxyURL.Scheme != "socks5" {
		return ErrUnsupportedScheme
	}
	return ctx.Err()
}

// Establish implements model.Transport.Establish.
func (t *Transport) Establish(ctx context.Context, target *url.URL) (model.Conn, error) {
	if err := t.Ready(ctx); err != nil {
		return nil, err
	}
	dialer := t.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	forward := &capturingDialer{dialer: dialer}
	// the code at proxy/socks5.go never fails
	child, _ := proxy.SOCKS5("tcp", t.ProxyURL.Host, auth(t.ProxyURL), forward)
	conn, err := child.(proxy.ContextDialer).DialContext(ctx, "tcp", target.Host)
	if err != nil {
		return nil, err
	}
	// The SOCKS5 conn hides the file descriptor, but adds nothing after
	// the handshake, so we can use the TCP conn we dialed.
	pc, err := pollnet.New(forward.conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return pc, nil
}

func auth(u *url.URL) *proxy.Auth {
	if u.User == nil {
		return nil
	}
	password, _ := u.User.Password()
	return &proxy.Auth{User: u.User.Username(), Password: password}
}

// capturingDialer is the forward dialer for the SOCKS5 dialer. It keeps
// track of the connection to the proxy. SOCKS5 expects a Dialer.Dial
// type but internally it checks whether DialContext is available and
// prefers that.
type capturingDialer struct {
	conn   net.Conn
	dialer *net.Dialer
}

func (d *capturingDialer) Dial(network, address string) (net.Conn, error) {
	panic(errors.New("capturingDialer.Dial should not be called directly"))
}

func (d *capturingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	d.conn = conn
	return conn, nil
}
