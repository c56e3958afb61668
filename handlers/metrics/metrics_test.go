package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/ooni/maybetls/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestUnitOnMeasurement(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New(reg)
	h.OnMeasurement(model.Measurement{Connect: &model.ConnectEvent{}})
	h.OnMeasurement(model.Measurement{Connect: &model.ConnectEvent{Error: errors.New("mocked error")}})
	h.OnMeasurement(model.Measurement{Accept: &model.AcceptEvent{}})
	h.OnMeasurement(model.Measurement{
		Read:  &model.ReadEvent{NumBytes: 100},
		Write: &model.WriteEvent{NumBytes: 50},
	})
	h.OnMeasurement(model.Measurement{Read: &model.ReadEvent{NumBytes: 28}})
	h.OnMeasurement(model.Measurement{
		TLSHandshakeDone: &model.TLSHandshakeDoneEvent{Duration: time.Millisecond, Role: "server"},
	})
	if v := testutil.ToFloat64(h.connects.WithLabelValues("success")); v != 1 {
		t.Fatal("unexpected connects", v)
	}
	if v := testutil.ToFloat64(h.connects.WithLabelValues("failure")); v != 1 {
		t.Fatal("unexpected failed connects", v)
	}
	if v := testutil.ToFloat64(h.accepts.WithLabelValues("success")); v != 1 {
		t.Fatal("unexpected accepts", v)
	}
	if v := testutil.ToFloat64(h.bytes.WithLabelValues("read")); v != 128 {
		t.Fatal("unexpected bytes read", v)
	}
	if v := testutil.ToFloat64(h.bytes.WithLabelValues("write")); v != 50 {
		t.Fatal("unexpected bytes written", v)
	}
	if v := testutil.ToFloat64(h.handshakes.WithLabelValues("server", "success")); v != 1 {
		t.Fatal("unexpected handshakes", v)
	}
	if n := testutil.CollectAndCount(h.handshakeSeconds); n != 1 {
		t.Fatal("unexpected summary", n)
	}
}

func TestUnitRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	// the vectors have no children yet, so only the summary shows up
	if len(families) != 1 || families[0].GetName() != "maybetls_tls_handshake_duration_seconds" {
		t.Fatal("unexpected metric families", len(families))
	}
}
