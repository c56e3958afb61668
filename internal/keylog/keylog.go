// Package keylog contains the TLS key log sink. The sink is append-only
// and safe for concurrent writers, so a single sink can be shared by all
// the TLS configurations through tls.Config.KeyLogWriter.
package keylog

import (
	"io"
	"os"
	"sync"
)

// EnvVariable is the environment variable containing the key log path.
const EnvVariable = "SSLKEYLOGFILE"

// Sink is a key log sink. A nil Sink discards all writes.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates a sink writing to w.
func New(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Open creates a sink appending to the file at path.
func Open(path string) (*Sink, error) {
	filep, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return New(filep), nil
}

// FromEnv opens the file named by the SSLKEYLOGFILE environment variable.
// It returns a nil Sink and no error when the variable is not set.
func FromEnv() (*Sink, error) {
	path := os.Getenv(EnvVariable)
	if path == "" {
		return nil, nil
	}
	return Open(path)
}

// Write appends p to the sink. Each call is written atomically with
// respect to other calls.
func (s *Sink) Write(p []byte) (int, error) {
	if s == nil {
		return len(p), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Close closes the underlying writer, if it is an io.Closer.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
