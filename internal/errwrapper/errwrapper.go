// Package errwrapper contains our error wrapper
package errwrapper

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/ooni/maybetls/model"
)

// SafeErrWrapperBuilder contains a builder for model.ErrWrapper that
// is safe, i.e., behaves correctly when the error is nil.
type SafeErrWrapperBuilder struct {
	// ConnID is the connection ID, if any
	ConnID int64

	// Error is the error, if any
	Error error

	// Kind is the error kind
	Kind model.ErrorKind

	// Operation is the operation that failed
	Operation string
}

// MaybeBuild builds a new model.ErrWrapper, if b.Error is not nil, and returns
// a nil error value, instead, if b.Error is nil. An error that is already
// an ErrWrapper is returned unchanged.
func (b SafeErrWrapperBuilder) MaybeBuild() (err error) {
	if b.Error != nil {
		var wrapper *model.ErrWrapper
		if errors.As(b.Error, &wrapper) {
			return b.Error
		}
		err = &model.ErrWrapper{
			ConnID:     b.ConnID,
			Failure:    toFailureString(b.Error),
			Kind:       b.Kind,
			Operation:  b.Operation,
			WrappedErr: b.Error,
		}
	}
	return
}

// Aborted wraps a TLS engine error so that it is recognizable both as
// model.ErrConnectionAborted and as the original engine error.
func Aborted(connID int64, operation string, err error) error {
	return SafeErrWrapperBuilder{
		ConnID:    connID,
		Error:     fmt.Errorf("%w: %w", model.ErrConnectionAborted, err),
		Kind:      model.ErrorKindProtocol,
		Operation: operation,
	}.MaybeBuild()
}

func toFailureString(err error) string {
	// The list returned here matches the values used by MK unless
	// explicitly noted otherwise with a comment.

	var errwrapper *model.ErrWrapper
	if errors.As(err, &errwrapper) {
		return errwrapper.Error() // we've already wrapped it
	}

	if errors.Is(err, model.ErrHTTPSRequired) {
		return "https_required" // not in MK
	}
	if errors.Is(err, model.ErrUnsupportedScheme) {
		return "unsupported_scheme" // not in MK
	}
	if errors.Is(err, model.ErrInvalidServerName) {
		return "invalid_server_name" // not in MK
	}
	if errors.Is(err, model.ErrMissingTLSConfig) {
		return "missing_tls_config" // not in MK
	}
	if errors.Is(err, context.Canceled) {
		return "interrupted"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "generic_timeout_error"
	}
	var x509HostnameError x509.HostnameError
	if errors.As(err, &x509HostnameError) {
		// Test case: https://wrong.host.badssl.com/
		return "ssl_invalid_hostname"
	}
	var x509UnknownAuthorityError x509.UnknownAuthorityError
	if errors.As(err, &x509UnknownAuthorityError) {
		// Test case: https://self-signed.badssl.com/. This error has
		// never been among the ones returned by MK.
		return "ssl_unknown_authority"
	}
	var x509CertificateInvalidError x509.CertificateInvalidError
	if errors.As(err, &x509CertificateInvalidError) {
		// Test case: https://expired.badssl.com/
		return "ssl_invalid_certificate"
	}
	if errors.Is(err, model.ErrConnectionAborted) {
		return "connection_aborted" // not in MK
	}

	s := err.Error()
	if strings.HasSuffix(s, "EOF") {
		return "eof_error"
	}
	if strings.HasSuffix(s, "connection refused") {
		return "connection_refused"
	}
	if strings.HasSuffix(s, "connection reset by peer") {
		return "connection_reset"
	}
	if strings.HasSuffix(s, "i/o timeout") {
		return "generic_timeout_error"
	}
	return fmt.Sprintf("unknown_failure: %s", s)
}
