// Package nohandler implements a do-nothing handler
package nohandler

import "github.com/ooni/maybetls/model"

// S is a nohandler instance
type S struct{}

// OnMeasurement does nothing with the provided measurement.
func (S) OnMeasurement(m model.Measurement) {
}

// OrNoHandler returns h if not nil and S otherwise.
func OrNoHandler(h model.Handler) model.Handler {
	if h == nil {
		return S{}
	}
	return h
}
