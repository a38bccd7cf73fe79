package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the relay.
const (
	MeasurementSessions  = "bridge_sessions"
	MeasurementCommands  = "bridge_commands"
	MeasurementAuthFails = "bridge_auth_failures"
)

// WriteSessionEvent records a bridge session opening or closing.
//
// event is "opened" or "closed"; reason is the close reason and is empty
// for opens. duration is the session's lifetime and is only written for
// closes.
func (c *Client) WriteSessionEvent(gatewayID, homeID, event, reason string, duration time.Duration, at time.Time) {
	tags := map[string]string{
		"gateway_id": gatewayID,
		"home_id":    homeID,
		"event":      event,
	}
	if reason != "" {
		tags["reason"] = reason
	}
	fields := map[string]interface{}{"count": 1}
	if duration > 0 {
		fields["duration_s"] = duration.Seconds()
	}
	c.WritePointWithTime(MeasurementSessions, tags, fields, at)
}

// WriteCommandLatency records how long a command took to resolve.
// outcome is "reply", "timeout", "disconnected", "cancelled" or "error".
func (c *Client) WriteCommandLatency(gatewayID string, latency time.Duration, outcome string) {
	c.WritePoint(MeasurementCommands,
		map[string]string{
			"gateway_id": gatewayID,
			"outcome":    outcome,
		},
		map[string]interface{}{
			"latency_ms": float64(latency) / float64(time.Millisecond),
		},
	)
}

// WriteAuthFailure records a rejected bridge login.
func (c *Client) WriteAuthFailure(reason string) {
	c.WritePoint(MeasurementAuthFails,
		map[string]string{"reason": reason},
		map[string]interface{}{"count": 1},
	)
}

// WritePoint writes a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writer.WritePoint(point)
}
