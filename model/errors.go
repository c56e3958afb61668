package model

import "errors"

var (
	// ErrUnsupportedScheme means the connector does not know the target scheme.
	ErrUnsupportedScheme = errors.New("unsupported scheme")

	// ErrHTTPSRequired means plaintext was denied by the forced HTTPS policy.
	ErrHTTPSRequired = errors.New("https required but URL was not https")

	// ErrInvalidServerName means a target cannot be mapped to a ServerName.
	ErrInvalidServerName = errors.New("invalid server name")

	// ErrMissingTLSConfig means there is no TLS configuration for the role.
	ErrMissingTLSConfig = errors.New("missing TLS configuration")

	// ErrConnectionAborted wraps every protocol error raised by the TLS engine.
	ErrConnectionAborted = errors.New("connection aborted")
)

// ErrorKind classifies errors produced by this module.
type ErrorKind int

const (
	// ErrorKindTransport is a failure of the underlying connection.
	ErrorKindTransport = ErrorKind(iota + 1)

	// ErrorKindProtocol is a failure of the TLS engine.
	ErrorKindProtocol

	// ErrorKindConfig is a configuration error, raised before any I/O.
	ErrorKindConfig

	// ErrorKindPolicy is a policy violation, raised before any I/O.
	ErrorKindPolicy
)

// String returns a string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransport:
		return "transport"
	case ErrorKindProtocol:
		return "protocol"
	case ErrorKindConfig:
		return "config"
	case ErrorKindPolicy:
		return "policy"
	default:
		return "unknown"
	}
}

// ErrWrapper is our error wrapper for Go errors. The key objective of
// this structure is to properly set Failure, which is also returned by
// the Error() method, so be one of the OONI defined strings.
type ErrWrapper struct {
	// ConnID is the connection ID, or zero if not known.
	ConnID int64

	// Failure is the OONI failure string. The failure strings are
	// loosely backward compatible with Measurement Kit.
	Failure string

	// Kind classifies the error.
	Kind ErrorKind

	// Operation is the operation that failed.
	Operation string

	// WrappedErr is the error that we're wrapping.
	WrappedErr error
}

// Error returns a description of the error that occurred.
func (e *ErrWrapper) Error() string {
	return e.Failure
}

// Unwrap allows to access the underlying error
func (e *ErrWrapper) Unwrap() error {
	return e.WrappedErr
}

// KindOf returns the kind of err, or zero when err was not
// produced by this module.
func KindOf(err error) ErrorKind {
	var wrapper *ErrWrapper
	if errors.As(err, &wrapper) {
		return wrapper.Kind
	}
	return 0
}
