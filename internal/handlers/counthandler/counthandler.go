// Package counthandler contains a handler that counts
package counthandler

import (
	"sync/atomic"

	"github.com/ooni/maybetls/model"
)

// Handler is the count handler
type Handler struct {
	Count      int64
	Handshakes int64
	BytesRead  int64
	BytesWrite int64
}

// OnMeasurement counts the number of emitted measurements, the number of
// completed handshakes, and the amount of transferred bytes.
func (h *Handler) OnMeasurement(m model.Measurement) {
	atomic.AddInt64(&h.Count, 1)
	if m.TLSHandshakeDone != nil && m.TLSHandshakeDone.Error == nil {
		atomic.AddInt64(&h.Handshakes, 1)
	}
	if m.Read != nil {
		atomic.AddInt64(&h.BytesRead, m.Read.NumBytes)
	}
	if m.Write != nil {
		atomic.AddInt64(&h.BytesWrite, m.Write.NumBytes)
	}
}
