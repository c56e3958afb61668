package dot

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/miekg/dns"
	"github.com/ooni/maybetls/internal/acceptor"
	"github.com/ooni/maybetls/internal/connector"
	"github.com/ooni/maybetls/internal/memconn"
	"github.com/ooni/maybetls/internal/pollnet"
	"github.com/ooni/maybetls/internal/testingx"
	"github.com/ooni/maybetls/model"
)

func handle(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	q := r.Question[0]
	hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: 60}
	switch {
	case q.Name == "nxdomain.example.com.":
		m.SetRcode(r, dns.RcodeNameError)
	case q.Name == "servfail.example.com.":
		m.SetRcode(r, dns.RcodeServerFailure)
	case q.Name == "badid.example.com.":
		m.Id = r.Id + 1
	case q.Qtype == dns.TypeA:
		m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: net.IPv4(10, 0, 0, 1)})
	case q.Qtype == dns.TypeAAAA:
		m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr, AAAA: net.ParseIP("fd00::1")})
	}
	w.WriteMsg(m)
}

func serve(t *testing.T, authority *testingx.Authority, incoming model.Incoming) {
	a, err := acceptor.New(incoming, acceptor.Config{TLSConfig: authority.ServerConfig()})
	if err != nil {
		t.Fatal(err)
	}
	started := make(chan struct{})
	server := &dns.Server{
		Handler:           dns.HandlerFunc(handle),
		Listener:          a.Listener(),
		NotifyStartedFunc: func() { close(started) },
	}
	go server.ActivateAndServe()
	<-started
	t.Cleanup(func() {
		server.Shutdown()
	})
}

func newMemTransport(t *testing.T) (*Transport, *memconn.Transport) {
	authority := testingx.MustNewAuthority()
	listener := memconn.NewListener(0)
	serve(t, authority, listener)
	mt := &memconn.Transport{Listener: listener}
	c := connector.New(mt, connector.Config{
		Schemes:   Schemes(),
		TLSConfig: authority.ClientConfig(),
	})
	server, err := url.Parse("dot://dns.example.com")
	if err != nil {
		t.Fatal(err)
	}
	return NewTransport(c, server), mt
}

func TestUnitSchemes(t *testing.T) {
	schemes := Schemes()
	if diff := cmp.Diff(connector.Scheme{Encrypted: true, DefaultPort: "853"}, schemes["dot"]); diff != "" {
		t.Fatal(diff)
	}
	if _, found := schemes["https"]; !found {
		t.Fatal("expected the default schemes")
	}
}

func TestIntegrationLookupHost(t *testing.T) {
	txp, mt := newMemTransport(t)
	addrs, err := txp.LookupHost(context.Background(), "www.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"10.0.0.1", "fd00::1"}, addrs); diff != "" {
		t.Fatal(diff)
	}
	expect := []string{"dot://dns.example.com:853", "dot://dns.example.com:853"}
	if diff := cmp.Diff(expect, mt.Targets()); diff != "" {
		t.Fatal(diff)
	}
}

func TestUnitLookupHostWithIP(t *testing.T) {
	txp, mt := newMemTransport(t)
	addrs, err := txp.LookupHost(context.Background(), "::1")
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || addrs[0] != "::1" || mt.Calls() != 0 {
		t.Fatal("unexpected result", addrs, mt.Calls())
	}
}

func TestIntegrationLookupHostErrors(t *testing.T) {
	txp, _ := newMemTransport(t)
	var cases = []struct {
		host string
		err  error
	}{
		{"nxdomain.example.com", ErrNoSuchHost},
		{"servfail.example.com", ErrServerFailure},
		{"badid.example.com", ErrMismatchingID},
	}
	for _, tc := range cases {
		_, err := txp.LookupHost(context.Background(), tc.host)
		if !errors.Is(err, tc.err) {
			t.Fatal(tc.host, "unexpected error", err)
		}
	}
}

func TestUnitRoundTripTimeout(t *testing.T) {
	listener := memconn.NewListener(0) // nobody accepts
	c := connector.New(&memconn.Transport{Listener: listener}, connector.Config{
		Schemes:   Schemes(),
		TLSConfig: testingx.MustNewAuthority().ClientConfig(),
	})
	server, _ := url.Parse("dot://dns.example.com")
	txp := NewTransport(c, server)
	txp.Timeout = 100 * time.Millisecond
	_, err := txp.RoundTrip(context.Background(), []byte{0, 1, 2, 3})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("unexpected error", err)
	}
}

func TestUnitQueryTooLarge(t *testing.T) {
	txp, mt := newMemTransport(t)
	_, err := txp.RoundTrip(context.Background(), make([]byte, 1<<16))
	if err == nil || mt.Calls() != 0 {
		t.Fatal("expected an error before connecting")
	}
}

func TestIntegrationLoopback(t *testing.T) {
	ctx := context.Background()
	authority := testingx.MustNewAuthority()
	listener, err := pollnet.Listen(ctx, "127.0.0.1:0")
	if errors.Is(err, pollnet.ErrUnsupported) {
		t.Skip("pollnet not supported")
	}
	if err != nil {
		t.Fatal(err)
	}
	serve(t, authority, listener)
	c := connector.New(&pollnet.Dialer{}, connector.Config{
		Schemes:   Schemes(),
		TLSConfig: authority.ClientConfig(),
	})
	server := &url.URL{Scheme: Scheme, Host: listener.Addr().String()}
	query := new(dns.Msg)
	query.SetQuestion("www.example.com.", dns.TypeA)
	reply, err := NewTransport(c, server).Exchange(ctx, query)
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.Answer) != 1 {
		t.Fatal("unexpected number of answers", len(reply.Answer))
	}
	if a, ok := reply.Answer[0].(*dns.A); !ok || !a.A.Equal(net.IPv4(10, 0, 0, 1)) {
		t.Fatal("unexpected answer", reply.Answer[0])
	}
}
