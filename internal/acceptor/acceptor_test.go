package acceptor

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/ooni/maybetls/internal/connx"
	"github.com/ooni/maybetls/internal/memconn"
	"github.com/ooni/maybetls/internal/mocks"
	"github.com/ooni/maybetls/internal/testingx"
	"github.com/ooni/maybetls/internal/tlssession"
	"github.com/ooni/maybetls/internal/tlsstream"
	"github.com/ooni/maybetls/model"
)

func TestUnitNewWithoutCertificates(t *testing.T) {
	for _, config := range []*tls.Config{nil, {}} {
		_, err := New(memconn.NewListener(0), Config{TLSConfig: config})
		if !errors.Is(err, model.ErrMissingTLSConfig) || model.KindOf(err) != model.ErrorKindConfig {
			t.Fatal("unexpected error", err)
		}
	}
}

func TestUnitStalledPeerDoesNotBlockAccept(t *testing.T) {
	authority := testingx.MustNewAuthority()
	listener := memconn.NewListener(0)
	a, err := New(listener, Config{TLSConfig: authority.ServerConfig()})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	ctx := context.Background()
	stalled, err := listener.Dial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer stalled.Close()
	good, err := listener.Dial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	first, err := a.Accept(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	second, err := a.Accept(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if !first.IsEncrypted() || first.TLS().State() != tlsstream.Handshaking {
		t.Fatal("expected an encrypted stream that is still handshaking")
	}
	client := tlsstream.New(good, tlssession.NewClient(authority.ClientConfig(), "example.com"),
		tlsstream.Config{})
	defer client.Close()
	for i := 0; i < 32; i++ {
		cerr, serr := client.Handshake(), second.Handshake()
		if cerr == nil && serr == nil {
			break
		}
	}
	if second.TLS().State() != tlsstream.Established {
		t.Fatal("the second handshake did not complete")
	}
	if _, err := first.Read(make([]byte, 16)); !model.IsWouldBlock(err) {
		t.Fatal("the stalled peer should still be pending")
	}
}

func TestUnitContextErrorIsNotFatal(t *testing.T) {
	authority := testingx.MustNewAuthority()
	listener := memconn.NewListener(0)
	a, err := New(listener, Config{TLSConfig: authority.ServerConfig()})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Accept(ctx); !errors.Is(err, context.Canceled) {
		t.Fatal("expected a context error")
	}
	if _, err := listener.Dial(context.Background()); err != nil {
		t.Fatal(err)
	}
	s, err := a.Accept(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
}

func TestUnitInboundErrorIsFatal(t *testing.T) {
	var calls int
	expected := errors.New("mocked error")
	handler := memory.New()
	logger := &log.Logger{Handler: handler, Level: log.DebugLevel}
	authority := testingx.MustNewAuthority()
	a, err := New(&mocks.Incoming{
		MockAccept: func(ctx context.Context) (model.Conn, error) {
			calls++
			return nil, expected
		},
	}, Config{Logger: logger, TLSConfig: authority.ServerConfig()})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := a.Accept(context.Background()); err != expected {
			t.Fatal("unexpected error", err)
		}
	}
	if calls != 1 {
		t.Fatal("the inbound source should not be polled after a fatal error")
	}
	if len(handler.Entries) != 1 || handler.Entries[0].Level != log.WarnLevel {
		t.Fatal("expected a warning")
	}
}

func TestIntegrationListener(t *testing.T) {
	authority := testingx.MustNewAuthority()
	incoming := memconn.NewListener(0)
	a, err := New(incoming, Config{TLSConfig: authority.ServerConfig()})
	if err != nil {
		t.Fatal(err)
	}
	listener := a.Listener()
	if listener.Addr().String() != "server" {
		t.Fatal("unexpected address")
	}
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()
	raw, err := incoming.Dial(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	client := connx.NewNetConn(tlsstream.New(
		raw, tlssession.NewClient(authority.ClientConfig(), "example.com"), tlsstream.Config{},
	))
	defer client.Close()
	client.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Fatal("unexpected echo")
	}
	listener.Close()
	if _, err := listener.Accept(); !errors.Is(err, net.ErrClosed) {
		t.Fatal("expected a closed error", err)
	}
}
