// Package savinghandler contains a handler that saves measurements
package savinghandler

import (
	"sync"

	"github.com/ooni/maybetls/model"
)

// Handler is a handler that saves measurements
type Handler struct {
	All []model.Measurement
	mu  sync.Mutex
}

// OnMeasurement saves the emitted measurement
func (h *Handler) OnMeasurement(m model.Measurement) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.All = append(h.All, m)
}

// Measurements returns a copy of the saved measurements.
func (h *Handler) Measurements() []model.Measurement {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.Measurement{}, h.All...)
}

// TLSHandshakeDone returns the saved handshake done events.
func (h *Handler) TLSHandshakeDone() (out []*model.TLSHandshakeDoneEvent) {
	for _, m := range h.Measurements() {
		if m.TLSHandshakeDone != nil {
			out = append(out, m.TLSHandshakeDone)
		}
	}
	return
}
