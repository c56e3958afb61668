// Package logger is a handler that emits logs
package logger

import (
	"crypto/tls"

	"github.com/apex/log"
	"github.com/ooni/maybetls/model"
)

var (
	tlsVersion = map[uint16]string{
		tls.VersionSSL30: "SSLv3",
		tls.VersionTLS10: "TLSv1",
		tls.VersionTLS11: "TLSv1.1",
		tls.VersionTLS12: "TLSv1.2",
		tls.VersionTLS13: "TLSv1.3",
	}
)

// Handler is a handler that logs events.
type Handler struct {
	logger log.Interface
}

// NewHandler returns a new logging handler.
func NewHandler(logger log.Interface) *Handler {
	return &Handler{logger: logger}
}

// OnMeasurement logs the specific measurement
func (h *Handler) OnMeasurement(m model.Measurement) {
	// Connections
	if m.Connect != nil {
		h.logger.WithFields(log.Fields{
			"busyFor":       m.Connect.Duration,
			"connID":        m.Connect.ConnID,
			"elapsed":       m.Connect.Time,
			"error":         m.Connect.Error,
			"remoteAddress": m.Connect.RemoteAddress,
			"target":        m.Connect.Target,
		}).Debug("net: connect done")
	}
	if m.Accept != nil {
		h.logger.WithFields(log.Fields{
			"busyFor":       m.Accept.Duration,
			"connID":        m.Accept.ConnID,
			"elapsed":       m.Accept.Time,
			"error":         m.Accept.Error,
			"remoteAddress": m.Accept.RemoteAddress,
		}).Debug("net: accept done")
	}
	if m.Read != nil {
		h.logger.WithFields(log.Fields{
			"busyFor":  m.Read.Duration,
			"connID":   m.Read.ConnID,
			"elapsed":  m.Read.Time,
			"error":    m.Read.Error,
			"numBytes": m.Read.NumBytes,
		}).Debug("net: read done")
	}
	if m.Write != nil {
		h.logger.WithFields(log.Fields{
			"busyFor":  m.Write.Duration,
			"connID":   m.Write.ConnID,
			"elapsed":  m.Write.Time,
			"error":    m.Write.Error,
			"numBytes": m.Write.NumBytes,
		}).Debug("net: write done")
	}
	if m.Close != nil {
		h.logger.WithFields(log.Fields{
			"busyFor": m.Close.Duration,
			"connID":  m.Close.ConnID,
			"elapsed": m.Close.Time,
		}).Debug("net: close done")
	}

	// TLS
	if m.TLSHandshakeStart != nil {
		h.logger.WithFields(log.Fields{
			"alpn":    m.TLSHandshakeStart.Config.NextProtos,
			"connID":  m.TLSHandshakeStart.ConnID,
			"elapsed": m.TLSHandshakeStart.Time,
			"role":    m.TLSHandshakeStart.Role,
			"sni":     m.TLSHandshakeStart.Config.ServerName,
		}).Debug("tls: start handshake")
	}
	if m.TLSHandshakeDone != nil {
		h.logger.WithFields(log.Fields{
			"alpn":    m.TLSHandshakeDone.ConnectionState.NegotiatedProtocol,
			"connID":  m.TLSHandshakeDone.ConnID,
			"elapsed": m.TLSHandshakeDone.Time,
			"error":   m.TLSHandshakeDone.Error,
			"role":    m.TLSHandshakeDone.Role,
			"version": tlsVersion[m.TLSHandshakeDone.ConnectionState.Version],
		}).Debug("tls: handshake done")
	}
}
