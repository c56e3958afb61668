package connector

import (
	"context"
	"crypto/tls"
	"errors"
	"net/url"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ooni/maybetls/internal/memconn"
	"github.com/ooni/maybetls/internal/mocks"
	"github.com/ooni/maybetls/internal/servername"
	"github.com/ooni/maybetls/internal/stream"
	"github.com/ooni/maybetls/internal/testingx"
	"github.com/ooni/maybetls/internal/tlssession"
	"github.com/ooni/maybetls/internal/tlsstream"
	"github.com/ooni/maybetls/model"
)

func mustParse(t *testing.T, s string) *url.URL {
	u, err := url.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func newTransport() *memconn.Transport {
	return &memconn.Transport{Listener: memconn.NewListener(0)}
}

func TestUnitSchemeDispatch(t *testing.T) {
	authority := testingx.MustNewAuthority()
	var cases = []struct {
		target     string
		forceHTTPS bool
		kind       model.ErrorKind
		sentinel   error
		calls      int64
		encrypted  bool
	}{{
		target: "gopher://example.com",
		kind:   model.ErrorKindConfig, sentinel: model.ErrUnsupportedScheme,
	}, {
		target: "gopher://example.com", forceHTTPS: true,
		kind: model.ErrorKindConfig, sentinel: model.ErrUnsupportedScheme,
	}, {
		target: "http://example.com", forceHTTPS: true,
		kind: model.ErrorKindPolicy, sentinel: model.ErrHTTPSRequired,
	}, {
		target: "http://example.com", calls: 1,
	}, {
		target: "https://example.com", calls: 1, encrypted: true,
	}, {
		target: "HTTPS://example.com", forceHTTPS: true, calls: 1, encrypted: true,
	}}
	for _, tc := range cases {
		transport := newTransport()
		c := New(transport, Config{ForceHTTPS: tc.forceHTTPS, TLSConfig: authority.ClientConfig()})
		s, err := c.Connect(context.Background(), mustParse(t, tc.target))
		if transport.Calls() != tc.calls {
			t.Fatalf("%s: unexpected number of calls", tc.target)
		}
		if tc.sentinel != nil {
			if !errors.Is(err, tc.sentinel) || model.KindOf(err) != tc.kind {
				t.Fatalf("%s: unexpected error: %+v", tc.target, err)
			}
			if s != nil {
				t.Fatalf("%s: expected nil stream", tc.target)
			}
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if s.IsEncrypted() != tc.encrypted {
			t.Fatalf("%s: unexpected kind", tc.target)
		}
		s.Close()
	}
}

func TestUnitPolicyErrorsAreDistinguishable(t *testing.T) {
	c := New(newTransport(), Config{ForceHTTPS: true})
	_, err := c.Connect(context.Background(), mustParse(t, "http://example.com"))
	if err.Error() != "https_required" {
		t.Fatal("unexpected failure string")
	}
	c = New(newTransport(), Config{})
	_, err = c.Connect(context.Background(), mustParse(t, "ftp://example.com"))
	if err.Error() != "unsupported_scheme" {
		t.Fatal("unexpected failure string")
	}
}

func TestUnitEncryptedIsDeferred(t *testing.T) {
	var written int
	transport := &mocks.Transport{
		MockEstablish: func(ctx context.Context, target *url.URL) (model.Conn, error) {
			if target.Host != "example.com:443" {
				t.Fatal("unexpected target", target.Host)
			}
			return &mocks.Conn{
				MockWrite: func(b []byte) (int, error) {
					written += len(b)
					return len(b), nil
				},
				MockClose: func() error {
					return nil
				},
			}, nil
		},
	}
	authority := testingx.MustNewAuthority()
	c := New(transport, Config{TLSConfig: authority.ClientConfig()})
	s, err := c.Connect(context.Background(), mustParse(t, "https://example.com"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Kind() != stream.Encrypted {
		t.Fatal("expected an encrypted stream")
	}
	if s.TLS().State() != tlsstream.Handshaking {
		t.Fatal("expected to be handshaking")
	}
	if written != 0 {
		t.Fatal("no byte should be sent before first use")
	}
}

func TestUnitDefaultPorts(t *testing.T) {
	transport := newTransport()
	authority := testingx.MustNewAuthority()
	c := New(transport, Config{TLSConfig: authority.ClientConfig()})
	for _, target := range []string{
		"http://example.com/robots.txt", "https://[::1]", "https://127.0.0.1:8443",
	} {
		s, err := c.Connect(context.Background(), mustParse(t, target))
		if err != nil {
			t.Fatal(err)
		}
		s.Close()
	}
	expected := []string{
		"http://example.com:80/robots.txt", "https://[::1]:443", "https://127.0.0.1:8443",
	}
	if diff := cmp.Diff(expected, transport.Targets()); diff != "" {
		t.Fatal(diff)
	}
}

func TestUnitCustomScheme(t *testing.T) {
	transport := newTransport()
	authority := testingx.MustNewAuthority()
	schemes := DefaultSchemes()
	schemes["dot"] = Scheme{Encrypted: true, DefaultPort: "853"}
	c := New(transport, Config{Schemes: schemes, TLSConfig: authority.ClientConfig()})
	s, err := c.Connect(context.Background(), mustParse(t, "dot://dns.example.com"))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	if diff := cmp.Diff([]string{"dot://dns.example.com:853"}, transport.Targets()); diff != "" {
		t.Fatal(diff)
	}
}

func TestUnitMissingTLSConfig(t *testing.T) {
	transport := newTransport()
	c := New(transport, Config{})
	_, err := c.Connect(context.Background(), mustParse(t, "https://example.com"))
	if !errors.Is(err, model.ErrMissingTLSConfig) || model.KindOf(err) != model.ErrorKindConfig {
		t.Fatal("unexpected error", err)
	}
	if transport.Calls() != 0 {
		t.Fatal("the transport should not have been used")
	}
}

func TestUnitResolverFailure(t *testing.T) {
	transport := newTransport()
	authority := testingx.MustNewAuthority()
	expected := errors.New("mocked error")
	c := New(transport, Config{
		Resolver: &mocks.Resolver{
			MockResolve: func(target *url.URL) (model.ServerName, error) {
				return "", expected
			},
		},
		TLSConfig: authority.ClientConfig(),
	})
	_, err := c.Connect(context.Background(), mustParse(t, "https://example.com"))
	if !errors.Is(err, expected) || !errors.Is(err, model.ErrInvalidServerName) {
		t.Fatal("unexpected error", err)
	}
	if model.KindOf(err) != model.ErrorKindConfig {
		t.Fatal("unexpected error kind")
	}
	if transport.Calls() != 0 {
		t.Fatal("resolution must fail before any network I/O")
	}
}

func TestUnitTransportErrorIsVerbatim(t *testing.T) {
	authority := testingx.MustNewAuthority()
	for _, target := range []string{"http://example.com", "https://example.com"} {
		c := New(&mocks.Transport{
			MockEstablish: func(ctx context.Context, target *url.URL) (model.Conn, error) {
				return nil, syscall.ECONNREFUSED
			},
		}, Config{TLSConfig: authority.ClientConfig()})
		_, err := c.Connect(context.Background(), mustParse(t, target))
		if err != syscall.ECONNREFUSED {
			t.Fatal("expected the transport error verbatim")
		}
	}
}

func TestUnitReady(t *testing.T) {
	expected := errors.New("mocked error")
	c := New(&mocks.Transport{
		MockReady: func(ctx context.Context) error {
			return expected
		},
	}, Config{})
	if err := c.Ready(context.Background()); err != expected {
		t.Fatal("unexpected error")
	}
}

func TestIntegrationConnectAndHandshake(t *testing.T) {
	authority := testingx.MustNewAuthority()
	listener := memconn.NewListener(0)
	defer listener.Close()
	shared := authority.ClientConfig("h2")
	var seen model.ServerName
	c := New(&memconn.Transport{Listener: listener}, Config{
		NewSession: func(config *tls.Config, name model.ServerName) model.Session {
			seen = name
			return NewClientSession(config, name)
		},
		Resolver:  servername.Fixed("example.com"),
		TLSConfig: shared,
	})
	client, err := c.Connect(context.Background(), mustParse(t, "https://127.0.0.1"))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	raw, err := listener.Accept(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	server := tlsstream.New(raw, tlssession.NewServer(authority.ServerConfig("h2")), tlsstream.Config{})
	defer server.Close()
	for i := 0; i < 32; i++ {
		cerr, serr := client.Handshake(), server.Handshake()
		if cerr == nil && serr == nil {
			break
		}
	}
	if client.NegotiatedProtocol() != "h2" {
		t.Fatal("handshake did not complete")
	}
	if seen != "example.com" {
		t.Fatal("the resolver was not used")
	}
	if shared.ServerName != "" {
		t.Fatal("the shared config has been modified")
	}
}
