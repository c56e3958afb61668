package tlsstream

import (
	"crypto/tls"
	"time"

	"github.com/ooni/maybetls/model"
)

// ConnectionState returns the connection state. The returned value is
// only meaningful once the Conn is Established.
func (c *Conn) ConnectionState() tls.ConnectionState {
	if c.state != Established {
		return tls.ConnectionState{}
	}
	return c.session.ConnectionState()
}

func (c *Conn) emitStart() {
	c.config.Handler.OnMeasurement(model.Measurement{
		TLSHandshakeStart: &model.TLSHandshakeStartEvent{
			Config: model.TLSConfig{
				NextProtos: c.config.NextProtos,
				ServerName: c.config.ServerName,
			},
			ConnID: c.config.ConnID,
			Role:   c.config.Role,
			Time:   c.startedAt.Sub(c.config.Beginning),
		},
	})
}

func (c *Conn) emitDone(err error) {
	stop := time.Now()
	var state model.TLSConnectionState
	if err == nil {
		state = model.NewTLSConnectionState(c.session.ConnectionState())
	}
	c.config.Handler.OnMeasurement(model.Measurement{
		TLSHandshakeDone: &model.TLSHandshakeDoneEvent{
			ConnectionState: state,
			ConnID:          c.config.ConnID,
			Duration:        stop.Sub(c.startedAt),
			Error:           err,
			Role:            c.config.Role,
			Time:            stop.Sub(c.config.Beginning),
		},
	})
}
