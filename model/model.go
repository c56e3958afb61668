// Package model contains the data model. Network events are tagged
// using a unique int64 ConnID. These IDs are never reused.
//
// All events also have a Time. This is always the time in which
// an event has been emitted. We use a monotonic clock. Hence, the
// Time is relative to a predefined zero in time.
//
// Duration, where present, indicates for how long the code
// has been busy inside an operation. Because all the I/O we
// measure is non-blocking, this is processing time and does not
// include the time spent waiting for readiness.
//
// When an operation may fail, we also include the Error.
package model

import (
	"crypto/tls"
	"time"
)

// AcceptEvent is emitted when an inbound connection is accepted.
type AcceptEvent struct {
	ConnID        int64
	Duration      time.Duration
	Error         error
	LocalAddress  string
	RemoteAddress string
	Time          time.Duration
}

// CloseEvent is emitted when conn.Close returns.
type CloseEvent struct {
	ConnID   int64
	Duration time.Duration
	Error    error
	Time     time.Duration
}

// ConnectEvent is emitted when the inner transport has established
// (or failed to establish) the underlying connection.
type ConnectEvent struct {
	ConnID        int64
	Duration      time.Duration
	Error         error
	LocalAddress  string
	RemoteAddress string
	Target        string
	Time          time.Duration
}

// ReadEvent is emitted when conn.Read returns data or fails. Reads
// that would block are not reported.
type ReadEvent struct {
	ConnID   int64
	Duration time.Duration
	Error    error
	NumBytes int64
	Time     time.Duration
}

// TLSConfig contains TLS configurations.
type TLSConfig struct {
	NextProtos []string
	ServerName string
}

// X509Certificate is an x.509 certificate.
type X509Certificate struct {
	// Data contains the certificate bytes in DER format.
	Data []byte
}

// TLSConnectionState contains the TLS connection state.
type TLSConnectionState struct {
	CipherSuite                uint16
	NegotiatedProtocol         string
	NegotiatedProtocolIsMutual bool
	PeerCertificates           []X509Certificate
	Version                    uint16
}

// NewTLSConnectionState creates a new TLSConnectionState.
func NewTLSConnectionState(s tls.ConnectionState) TLSConnectionState {
	var certs []X509Certificate
	for _, cert := range s.PeerCertificates {
		certs = append(certs, X509Certificate{Data: cert.Raw})
	}
	return TLSConnectionState{
		CipherSuite:                s.CipherSuite,
		NegotiatedProtocol:         s.NegotiatedProtocol,
		NegotiatedProtocolIsMutual: s.NegotiatedProtocolIsMutual,
		PeerCertificates:           certs,
		Version:                    s.Version,
	}
}

// TLSHandshakeStartEvent is emitted when the first read or write
// on an encrypted stream begins driving the handshake.
type TLSHandshakeStartEvent struct {
	Config TLSConfig
	ConnID int64
	Role   string
	Time   time.Duration
}

// TLSHandshakeDoneEvent is emitted when the handshake completes or
// fails. Duration is the time elapsed since TLSHandshakeStartEvent.
type TLSHandshakeDoneEvent struct {
	ConnectionState TLSConnectionState
	ConnID          int64
	Duration        time.Duration
	Error           error
	Role            string
	Time            time.Duration
}

// WriteEvent is emitted when conn.Write returns data or fails. Writes
// that would block are not reported.
type WriteEvent struct {
	ConnID   int64
	Duration time.Duration
	Error    error
	NumBytes int64
	Time     time.Duration
}

// Measurement contains zero or more events. Do not assume that at any
// time a Measurement will only contain a single event. When a Measurement
// contains an event, the corresponding pointer is non nil.
type Measurement struct {
	Accept            *AcceptEvent            `json:",omitempty"`
	Close             *CloseEvent             `json:",omitempty"`
	Connect           *ConnectEvent           `json:",omitempty"`
	Read              *ReadEvent              `json:",omitempty"`
	TLSHandshakeStart *TLSHandshakeStartEvent `json:",omitempty"`
	TLSHandshakeDone  *TLSHandshakeDoneEvent  `json:",omitempty"`
	Write             *WriteEvent             `json:",omitempty"`
}

// Handler handles measurement events.
type Handler interface {
	// OnMeasurement is called when an event occurs. OnMeasurement may
	// be called by many connection tasks and OnMeasurement calls may
	// happen concurrently.
	OnMeasurement(Measurement)
}
