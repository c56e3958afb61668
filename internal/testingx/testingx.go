// Package testingx contains testing extensions
package testingx

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/m-lab/go/rtx"
)

// Names contains the names for which the test certificate is valid.
var Names = []string{"localhost", "example.com", "dns.example.com"}

// Authority is a self-signed certificate valid for Names, 127.0.0.1
// and ::1, generated at runtime.
type Authority struct {
	Certificate tls.Certificate
	Pool        *x509.CertPool
	key         *ecdsa.PrivateKey
}

// NewAuthority generates a new Authority.
func NewAuthority() (*Authority, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   "maybetls testing",
			Organization: []string{"OONI"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              Names,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return &Authority{
		Certificate: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        leaf,
		},
		Pool: pool,
		key:  key,
	}, nil
}

// MustNewAuthority is like NewAuthority but panics on failure.
func MustNewAuthority() *Authority {
	authority, err := NewAuthority()
	rtx.PanicOnError(err, "testingx.NewAuthority failed")
	return authority
}

// ServerConfig returns a server config using the certificate.
func (a *Authority) ServerConfig(nextProtos ...string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{a.Certificate},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   nextProtos,
	}
}

// ClientConfig returns a client config trusting the certificate.
func (a *Authority) ClientConfig(nextProtos ...string) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: nextProtos,
		RootCAs:    a.Pool,
	}
}

// WriteFiles writes the certificate and the key in PEM format
// inside dir and returns the paths of the two files.
func (a *Authority) WriteFiles(dir string) (certFile, keyFile string, err error) {
	keyDER, err := x509.MarshalECPrivateKey(a.key)
	if err != nil {
		return "", "", err
	}
	certFile = filepath.Join(dir, "cert.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.Certificate.Certificate[0]})
	if err := os.WriteFile(certFile, certPEM, 0600); err != nil {
		return "", "", err
	}
	keyFile = filepath.Join(dir, "key.pem")
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		return "", "", err
	}
	return certFile, keyFile, nil
}
