// Package stream contains the stream returned by the connector and by
// the acceptor. A Stream is either plaintext or encrypted and offers
// the same non-blocking contract in both cases, so that upstream code
// never needs to branch on which one it got.
package stream

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/ooni/maybetls/internal/tlsstream"
	"github.com/ooni/maybetls/model"
)

// Kind tells whether a stream is plaintext or encrypted.
type Kind int

const (
	// Plain is a plaintext stream.
	Plain = Kind(iota)

	// Encrypted is a TLS stream.
	Encrypted
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	if k == Encrypted {
		return "encrypted"
	}
	return "plain"
}

// Stream is a plaintext or encrypted stream. The kind is chosen at
// construction and never changes. Stream implements model.Conn.
type Stream struct {
	conn model.Conn
	kind Kind
	tls  *tlsstream.Conn
}

// NewPlain creates a plaintext stream.
func NewPlain(conn model.Conn) *Stream {
	return &Stream{conn: conn, kind: Plain}
}

// NewEncrypted creates an encrypted stream.
func NewEncrypted(conn *tlsstream.Conn) *Stream {
	return &Stream{conn: conn, kind: Encrypted, tls: conn}
}

// Kind returns the stream kind.
func (s *Stream) Kind() Kind {
	return s.kind
}

// IsEncrypted returns whether the stream is encrypted.
func (s *Stream) IsEncrypted() bool {
	return s.kind == Encrypted
}

// TLS returns the underlying TLS stream or nil.
func (s *Stream) TLS() *tlsstream.Conn {
	return s.tls
}

// Read implements model.Conn.Read.
func (s *Stream) Read(p []byte) (int, error) {
	return s.conn.Read(p)
}

// Write implements model.Conn.Write.
func (s *Stream) Write(p []byte) (int, error) {
	return s.conn.Write(p)
}

// Flush implements model.Conn.Flush.
func (s *Stream) Flush() error {
	return s.conn.Flush()
}

// Shutdown shuts down the sending side of the stream. For an encrypted
// stream this also means sending close_notify.
func (s *Stream) Shutdown() error {
	return s.conn.CloseWrite()
}

// CloseWrite is like Shutdown.
func (s *Stream) CloseWrite() error {
	return s.Shutdown()
}

// Close implements model.Conn.Close.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// Wait implements model.Conn.Wait.
func (s *Stream) Wait(ctx context.Context, interest model.Interest) error {
	return s.conn.Wait(ctx, interest)
}

// Handshake drives the handshake of an encrypted stream. For a
// plaintext stream it does nothing.
func (s *Stream) Handshake() error {
	if s.tls == nil {
		return nil
	}
	return s.tls.Handshake()
}

// ConnectionState returns the TLS connection state of an encrypted
// stream after the handshake, and an empty state otherwise.
func (s *Stream) ConnectionState() tls.ConnectionState {
	if s.tls == nil {
		return tls.ConnectionState{}
	}
	return s.tls.ConnectionState()
}

// NegotiatedProtocol returns the ALPN protocol, if any.
func (s *Stream) NegotiatedProtocol() string {
	return s.ConnectionState().NegotiatedProtocol
}

// LocalAddr implements model.Conn.LocalAddr.
func (s *Stream) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr implements model.Conn.RemoteAddr.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
