// Package mocks contains mocks for the model interfaces.
package mocks

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/url"

	"github.com/ooni/maybetls/model"
)

// Conn is a mockable model.Conn.
type Conn struct {
	MockRead       func(b []byte) (int, error)
	MockWrite      func(b []byte) (int, error)
	MockFlush      func() error
	MockCloseWrite func() error
	MockClose      func() error
	MockWait       func(ctx context.Context, interest model.Interest) error
	MockLocalAddr  func() net.Addr
	MockRemoteAddr func() net.Addr
}

// Read calls MockRead.
func (c *Conn) Read(b []byte) (int, error) {
	return c.MockRead(b)
}

// Write calls MockWrite.
func (c *Conn) Write(b []byte) (int, error) {
	return c.MockWrite(b)
}

// Flush calls MockFlush.
func (c *Conn) Flush() error {
	return c.MockFlush()
}

// CloseWrite calls MockCloseWrite.
func (c *Conn) CloseWrite() error {
	return c.MockCloseWrite()
}

// Close calls MockClose.
func (c *Conn) Close() error {
	return c.MockClose()
}

// Wait calls MockWait.
func (c *Conn) Wait(ctx context.Context, interest model.Interest) error {
	return c.MockWait(ctx, interest)
}

// LocalAddr calls MockLocalAddr.
func (c *Conn) LocalAddr() net.Addr {
	return c.MockLocalAddr()
}

// RemoteAddr calls MockRemoteAddr.
func (c *Conn) RemoteAddr() net.Addr {
	return c.MockRemoteAddr()
}

// Transport is a mockable model.Transport.
type Transport struct {
	MockReady     func(ctx context.Context) error
	MockEstablish func(ctx context.Context, target *url.URL) (model.Conn, error)
}

// Ready calls MockReady.
func (t *Transport) Ready(ctx context.Context) error {
	return t.MockReady(ctx)
}

// Establish calls MockEstablish.
func (t *Transport) Establish(ctx context.Context, target *url.URL) (model.Conn, error) {
	return t.MockEstablish(ctx, target)
}

// Incoming is a mockable model.Incoming.
type Incoming struct {
	MockAccept func(ctx context.Context) (model.Conn, error)
	MockAddr   func() net.Addr
	MockClose  func() error
}

// Accept calls MockAccept.
func (i *Incoming) Accept(ctx context.Context) (model.Conn, error) {
	return i.MockAccept(ctx)
}

// Addr calls MockAddr.
func (i *Incoming) Addr() net.Addr {
	return i.MockAddr()
}

// Close calls MockClose.
func (i *Incoming) Close() error {
	return i.MockClose()
}

// Session is a mockable model.Session.
type Session struct {
	MockWantsRead          func() bool
	MockWantsWrite         func() bool
	MockReadPlaintext      func(p []byte) (int, error)
	MockWritePlaintext     func(p []byte) (int, error)
	MockReadCiphertextFrom func(r io.Reader) (int, error)
	MockWriteCiphertextTo  func(w io.Writer) (int, error)
	MockIsHandshaking      func() bool
	MockErr                func() error
	MockSendCloseNotify    func()
	MockConnectionState    func() tls.ConnectionState
	MockClose              func() error
}

// WantsRead calls MockWantsRead.
func (s *Session) WantsRead() bool {
	return s.MockWantsRead()
}

// WantsWrite calls MockWantsWrite.
func (s *Session) WantsWrite() bool {
	return s.MockWantsWrite()
}

// ReadPlaintext calls MockReadPlaintext.
func (s *Session) ReadPlaintext(p []byte) (int, error) {
	return s.MockReadPlaintext(p)
}

// WritePlaintext calls MockWritePlaintext.
func (s *Session) WritePlaintext(p []byte) (int, error) {
	return s.MockWritePlaintext(p)
}

// ReadCiphertextFrom calls MockReadCiphertextFrom.
func (s *Session) ReadCiphertextFrom(r io.Reader) (int, error) {
	return s.MockReadCiphertextFrom(r)
}

// WriteCiphertextTo calls MockWriteCiphertextTo.
func (s *Session) WriteCiphertextTo(w io.Writer) (int, error) {
	return s.MockWriteCiphertextTo(w)
}

// IsHandshaking calls MockIsHandshaking.
func (s *Session) IsHandshaking() bool {
	return s.MockIsHandshaking()
}

// Err calls MockErr.
func (s *Session) Err() error {
	return s.MockErr()
}

// SendCloseNotify calls MockSendCloseNotify.
func (s *Session) SendCloseNotify() {
	s.MockSendCloseNotify()
}

// ConnectionState calls MockConnectionState.
func (s *Session) ConnectionState() tls.ConnectionState {
	return s.MockConnectionState()
}

// Close calls MockClose.
func (s *Session) Close() error {
	return s.MockClose()
}

// Resolver is a mockable model.ServerNameResolver.
type Resolver struct {
	MockResolve func(target *url.URL) (model.ServerName, error)
}

// Resolve calls MockResolve.
func (r *Resolver) Resolve(target *url.URL) (model.ServerName, error) {
	return r.MockResolve(target)
}
