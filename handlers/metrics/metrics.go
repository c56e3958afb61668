// Package metrics is a handler that exports events as prometheus metrics
package metrics

import (
	"github.com/ooni/maybetls/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// summaryObjectives returns the summary objectives for NewSummary.
func summaryObjectives() map[float64]float64 {
	return map[float64]float64{
		0.25: 0.010,
		0.5:  0.010,
		0.75: 0.010,
		0.9:  0.010,
		0.99: 0.001,
	}
}

// Handler is a handler updating prometheus metrics.
type Handler struct {
	// accepts counts the accepted connections.
	accepts *prometheus.CounterVec

	// bytes counts the bytes read and written.
	bytes *prometheus.CounterVec

	// connects counts the established connections.
	connects *prometheus.CounterVec

	// handshakeSeconds summarizes the duration of the handshakes.
	handshakeSeconds prometheus.Summary

	// handshakes counts the handshakes.
	handshakes *prometheus.CounterVec
}

// New creates a new Handler registering its metrics with reg. Use
// prometheus.DefaultRegisterer unless you need isolation.
func New(reg prometheus.Registerer) *Handler {
	factory := promauto.With(reg)
	return &Handler{
		accepts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "maybetls_accepts_count",
			Help: "Total number of accepted connections",
		}, []string{"result"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "maybetls_bytes_total",
			Help: "Total number of bytes transferred on the underlying connections",
		}, []string{"direction"}),
		connects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "maybetls_connects_count",
			Help: "Total number of established connections",
		}, []string{"result"}),
		handshakeSeconds: factory.NewSummary(prometheus.SummaryOpts{
			Name:       "maybetls_tls_handshake_duration_seconds",
			Help:       "Summarizes the time spent driving TLS handshakes (in seconds)",
			Objectives: summaryObjectives(),
		}),
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "maybetls_tls_handshakes_count",
			Help: "Total number of TLS handshakes",
		}, []string{"role", "result"}),
	}
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// OnMeasurement updates the metrics.
func (h *Handler) OnMeasurement(m model.Measurement) {
	if m.Accept != nil {
		h.accepts.WithLabelValues(result(m.Accept.Error)).Inc()
	}
	if m.Connect != nil {
		h.connects.WithLabelValues(result(m.Connect.Error)).Inc()
	}
	if m.Read != nil && m.Read.NumBytes > 0 {
		h.bytes.WithLabelValues("read").Add(float64(m.Read.NumBytes))
	}
	if m.Write != nil && m.Write.NumBytes > 0 {
		h.bytes.WithLabelValues("write").Add(float64(m.Write.NumBytes))
	}
	if m.TLSHandshakeDone != nil {
		done := m.TLSHandshakeDone
		h.handshakes.WithLabelValues(done.Role, result(done.Error)).Inc()
		h.handshakeSeconds.Observe(done.Duration.Seconds())
	}
}
