// Package dot implements DNS over TLS on top of a connector. Queries
// are sent over streams obtained for "dot" URLs, which are encrypted
// and default to port 853.
package dot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/miekg/dns"
	"github.com/ooni/maybetls/internal/connector"
	"github.com/ooni/maybetls/internal/connx"
	"github.com/ooni/maybetls/internal/stream"
)

// Scheme is the URL scheme of DNS over TLS servers.
const Scheme = "dot"

// DefaultPort is the default DNS over TLS port.
const DefaultPort = "853"

// DefaultTimeout is the default timeout of a round trip.
const DefaultTimeout = 10 * time.Second

var (
	// ErrNoSuchHost indicates that the server returned NXDOMAIN.
	ErrNoSuchHost = errors.New("dot: no such host")

	// ErrMismatchingID indicates that the reply ID does not match
	// the query ID.
	ErrMismatchingID = errors.New("dot: mismatching reply ID")

	// ErrServerFailure indicates that the server returned an rcode
	// other than NOERROR and NXDOMAIN.
	ErrServerFailure = errors.New("dot: server failure")

	// ErrNoAddresses indicates that the host has no addresses.
	ErrNoAddresses = errors.New("dot: no addresses")
)

// Schemes returns the connector schemes table extended with Scheme.
func Schemes() map[string]connector.Scheme {
	schemes := connector.DefaultSchemes()
	schemes[Scheme] = connector.Scheme{Encrypted: true, DefaultPort: DefaultPort}
	return schemes
}

// Connector is the connector used by the Transport. Its schemes
// table must contain Scheme (see Schemes).
type Connector interface {
	Connect(ctx context.Context, target *url.URL) (*stream.Stream, error)
}

// Transport is a DNS over TLS transport.
//
// As a known limitation, this implementation creates a new connection
// for each query, thus increasing the response delay.
type Transport struct {
	connector Connector
	server    *url.URL

	// Timeout is the round trip timeout when ctx has no deadline.
	Timeout time.Duration
}

// NewTransport creates a new Transport for the server URL, for
// example "dot://dns.example.com" or "dot://1.1.1.1:853".
func NewTransport(connector Connector, server *url.URL) *Transport {
	return &Transport{connector: connector, server: server, Timeout: DefaultTimeout}
}

// Server returns the server URL.
func (t *Transport) Server() *url.URL {
	return t.server
}

// RoundTrip sends a raw query and returns the raw reply.
func (t *Transport) RoundTrip(ctx context.Context, query []byte) ([]byte, error) {
	if len(query) > dns.MaxMsgSize {
		return nil, fmt.Errorf("dot: query too large: %d bytes", len(query))
	}
	if _, ok := ctx.Deadline(); !ok && t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	s, err := t.connector.Connect(ctx, t.server)
	if err != nil {
		return nil, err
	}
	conn := connx.NewNetConn(s)
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()
	reply, err := roundTrip(conn, query)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return reply, err
}

func roundTrip(conn net.Conn, query []byte) ([]byte, error) {
	writer := bufio.NewWriter(conn)
	if err := writer.WriteByte(byte(len(query) >> 8)); err != nil {
		return nil, err
	}
	if err := writer.WriteByte(byte(len(query))); err != nil {
		return nil, err
	}
	if _, err := writer.Write(query); err != nil {
		return nil, err
	}
	if err := writer.Flush(); err != nil {
		return nil, err
	}
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	length := int(header[0])<<8 | int(header[1])
	reply := make([]byte, length)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Exchange sends query and returns the parsed reply.
func (t *Transport) Exchange(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	data, err := query.Pack()
	if err != nil {
		return nil, err
	}
	data, err = t.RoundTrip(ctx, data)
	if err != nil {
		return nil, err
	}
	reply := new(dns.Msg)
	if err := reply.Unpack(data); err != nil {
		return nil, err
	}
	if reply.Id != query.Id {
		return nil, ErrMismatchingID
	}
	return reply, nil
}

// LookupHost returns the IPv4 and IPv6 addresses of host, in this order.
func (t *Transport) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{host}, nil
	}
	var addrs []string
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		found, err := t.lookup(ctx, host, qtype)
		if err != nil {
			if errors.Is(err, ErrNoSuchHost) {
				return nil, err
			}
			lastErr = err
			continue
		}
		addrs = append(addrs, found...)
	}
	if len(addrs) > 0 {
		return addrs, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoAddresses
}

func (t *Transport) lookup(ctx context.Context, host string, qtype uint16) ([]string, error) {
	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(host), qtype)
	query.SetEdns0(dns.DefaultMsgSize, false)
	reply, err := t.Exchange(ctx, query)
	if err != nil {
		return nil, err
	}
	switch reply.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, fmt.Errorf("%w: %s", ErrNoSuchHost, host)
	default:
		return nil, fmt.Errorf("%w: %s", ErrServerFailure, dns.RcodeToString[reply.Rcode])
	}
	var addrs []string
	for _, answer := range reply.Answer {
		switch rr := answer.(type) {
		case *dns.A:
			addrs = append(addrs, rr.A.String())
		case *dns.AAAA:
			addrs = append(addrs, rr.AAAA.String())
		}
	}
	return addrs, nil
}
