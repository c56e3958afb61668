package model

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/url"
)

// Interest is the readiness a pending operation is waiting for.
type Interest int

const (
	// Readable means the operation can progress once the underlying
	// connection has bytes to read (or has been closed by the peer).
	Readable = Interest(1 << iota)

	// Writable means the operation can progress once the underlying
	// connection can accept more bytes.
	Writable
)

// String returns a string representation of the interest.
func (i Interest) String() string {
	switch i {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	default:
		return "unknown"
	}
}

// ErrWouldBlock indicates that a non-blocking operation cannot progress
// right now. It is not a failure: the caller should Wait for the interest
// carried by the WouldBlockError and retry the very same operation.
var ErrWouldBlock = errors.New("operation would block")

// WouldBlockError is the pending result of a non-blocking operation.
type WouldBlockError struct {
	Interest Interest
}

// Error implements error.
func (e *WouldBlockError) Error() string {
	return "operation would block until " + e.Interest.String()
}

// Is allows errors.Is(err, ErrWouldBlock) to work.
func (e *WouldBlockError) Is(target error) bool {
	return target == ErrWouldBlock
}

var (
	wouldBlockReadable = &WouldBlockError{Interest: Readable}
	wouldBlockWritable = &WouldBlockError{Interest: Writable}
)

// WouldBlock returns the pending result for the given interest.
func WouldBlock(interest Interest) error {
	if interest == Writable {
		return wouldBlockWritable
	}
	return wouldBlockReadable
}

// IsWouldBlock returns whether err is the pending result.
func IsWouldBlock(err error) bool {
	return err != nil && errors.Is(err, ErrWouldBlock)
}

// WouldBlockInterest returns the interest of a pending result. When err is
// ErrWouldBlock without an associated interest, it returns Readable.
func WouldBlockInterest(err error) (Interest, bool) {
	var wb *WouldBlockError
	if errors.As(err, &wb) {
		return wb.Interest, true
	}
	if IsWouldBlock(err) {
		return Readable, true
	}
	return 0, false
}

// Conn is a non-blocking bidirectional byte channel. Read and Write
// never block: they either make progress, fail, or return a pending
// result (see WouldBlock). Read returns io.EOF after the peer closed
// its sending side. A Conn is owned by a single connection task and
// is not safe for concurrent use, except that Wait may be used by a
// reader and a writer at the same time.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// Flush forwards any bytes buffered by the connection itself.
	Flush() error

	// CloseWrite shuts down the sending side of the connection.
	CloseWrite() error

	// Close releases the connection.
	Close() error

	// Wait blocks until the connection is ready for interest, or
	// until the context is done.
	Wait(ctx context.Context, interest Interest) error

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Transport is the inner provider of underlying connections.
type Transport interface {
	// Ready returns nil when the transport is ready to Establish.
	Ready(ctx context.Context) error

	// Establish opens an underlying connection to target. The
	// target host always contains an explicit port.
	Establish(ctx context.Context, target *url.URL) (Conn, error)
}

// Incoming is an inbound source of underlying connections.
type Incoming interface {
	// Accept returns the next inbound connection. An error is
	// fatal unless it is caused by ctx being done.
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Session is a buffer-pump TLS engine for one connection. Plaintext goes
// in and out through ReadPlaintext and WritePlaintext. Ciphertext moves
// between the engine and the wire through ReadCiphertextFrom and
// WriteCiphertextTo, which only return I/O errors from their argument,
// pending results, or io.EOF. Engine failures are returned by Err, by
// ReadPlaintext, and by WritePlaintext. A Session is driven by a single
// connection task.
type Session interface {
	// WantsRead returns whether the engine needs more ciphertext.
	WantsRead() bool

	// WantsWrite returns whether the engine has ciphertext to emit.
	WantsWrite() bool

	// ReadPlaintext reads decrypted bytes. It returns a pending
	// result when nothing has been decrypted yet, and io.EOF after
	// the peer closed the TLS session or the connection.
	ReadPlaintext(p []byte) (int, error)

	// WritePlaintext queues bytes to be encrypted. It may accept
	// fewer bytes than len(p) when the engine buffers are full.
	WritePlaintext(p []byte) (int, error)

	// ReadCiphertextFrom performs a single read from r and feeds the
	// engine with what it got.
	ReadCiphertextFrom(r io.Reader) (int, error)

	// WriteCiphertextTo performs a single write of pending
	// ciphertext to w.
	WriteCiphertextTo(w io.Writer) (int, error)

	// IsHandshaking returns whether the handshake is still running.
	IsHandshaking() bool

	// Err returns the terminal engine error, if any.
	Err() error

	// SendCloseNotify queues the close_notify alert.
	SendCloseNotify()

	// ConnectionState returns the state after the handshake.
	ConnectionState() tls.ConnectionState

	// Close stops the engine.
	Close() error
}

// ServerName is the validated peer identity asserted for certificate
// verification: either a DNS name or an IP literal without brackets.
type ServerName string

// ServerNameResolver maps a connection target to a ServerName.
type ServerNameResolver interface {
	Resolve(target *url.URL) (ServerName, error)
}
