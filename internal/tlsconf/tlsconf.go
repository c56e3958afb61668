// Package tlsconf helps with configuring TLS
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ooni/maybetls/internal/errwrapper"
	"github.com/ooni/maybetls/model"
)

// DefaultNextProtos is the default ALPN list, in order of preference.
var DefaultNextProtos = []string{"h2", "http/1.1"}

// ErrEmptyCABundle indicates that a CA bundle contains no certificates.
var ErrEmptyCABundle = errors.New("tlsconf: no certificates in CA bundle")

// LoadCABundle reads a PEM CA bundle from file.
func LoadCABundle(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configError("load_ca_bundle", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, configError("load_ca_bundle", fmt.Errorf("%w: %s", ErrEmptyCABundle, path))
	}
	return pool, nil
}

// SetCABundle configures conf to use a specific CA bundle.
func SetCABundle(conf *tls.Config, path string) error {
	pool, err := LoadCABundle(path)
	if err != nil {
		return err
	}
	conf.RootCAs = pool
	return nil
}

// LoadKeyPair reads a PEM certificate and private key.
func LoadKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, configError("load_key_pair", err)
	}
	return cert, nil
}

// NewClientConfig creates the shared client configuration. A nil rootCAs
// selects the system roots, nil nextProtos selects DefaultNextProtos,
// and keyLog may be nil.
func NewClientConfig(rootCAs *x509.CertPool, nextProtos []string, keyLog io.Writer) *tls.Config {
	if nextProtos == nil {
		nextProtos = DefaultNextProtos
	}
	return &tls.Config{
		KeyLogWriter: keyLog,
		MinVersion:   tls.VersionTLS12,
		NextProtos:   nextProtos,
		RootCAs:      rootCAs,
	}
}

// NewServerConfig creates the shared server configuration. It fails
// when there are no certificates.
func NewServerConfig(certs []tls.Certificate, nextProtos []string, keyLog io.Writer) (*tls.Config, error) {
	if len(certs) <= 0 {
		return nil, configError("new_server_config", model.ErrMissingTLSConfig)
	}
	if nextProtos == nil {
		nextProtos = DefaultNextProtos
	}
	return &tls.Config{
		Certificates: certs,
		KeyLogWriter: keyLog,
		MinVersion:   tls.VersionTLS12,
		NextProtos:   nextProtos,
	}, nil
}

func configError(operation string, err error) error {
	return errwrapper.SafeErrWrapperBuilder{
		Error:     err,
		Kind:      model.ErrorKindConfig,
		Operation: operation,
	}.MaybeBuild()
}
