// Package telemetry records bridge activity as time-series points.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/bridge"
	"github.com/nerrad567/gray-logic-relay/internal/gateway"
)

// Command outcomes.
const (
	OutcomeReply        = "reply"
	OutcomeTimeout      = "timeout"
	OutcomeDisconnected = "disconnected"
	OutcomeCancelled    = "cancelled"
	OutcomeError        = "error"
)

// Writer is implemented by *influxdb.Client. Writes must not block.
type Writer interface {
	WriteSessionEvent(gatewayID, homeID, event, reason string, duration time.Duration, at time.Time)
	WriteCommandLatency(gatewayID string, latency time.Duration, outcome string)
	WriteAuthFailure(reason string)
}

// Observer is a bridge.Observer that forwards events to a Writer.
type Observer struct {
	w   Writer
	now func() time.Time
}

var _ bridge.Observer = (*Observer)(nil)

// NewObserver creates an observer writing to w.
func NewObserver(w Writer) *Observer {
	return &Observer{w: w, now: time.Now}
}

// SessionOpened implements bridge.Observer.
func (o *Observer) SessionOpened(info bridge.SessionInfo) {
	at := info.ConnectedAt
	if at.IsZero() {
		at = o.now()
	}
	o.w.WriteSessionEvent(info.GatewayID, info.HomeID, "opened", "", 0, at)
}

// SessionClosed implements bridge.Observer.
func (o *Observer) SessionClosed(info bridge.SessionInfo, reason string) {
	now := o.now()
	var lifetime time.Duration
	if !info.ConnectedAt.IsZero() {
		lifetime = now.Sub(info.ConnectedAt)
	}
	o.w.WriteSessionEvent(info.GatewayID, info.HomeID, "closed", reason, lifetime, now)
}

// StateReceived implements bridge.Observer. State payloads are not
// recorded.
func (o *Observer) StateReceived(bridge.StateSnapshot) {}

// CommandCompleted implements bridge.Observer.
func (o *Observer) CommandCompleted(gatewayID, _ string, latency time.Duration, err error) {
	o.w.WriteCommandLatency(gatewayID, latency, Outcome(err))
}

// AuthFailed implements bridge.Observer. Gateway ids are not used as tags
// here since failed logins may carry arbitrary ids.
func (o *Observer) AuthFailed(_, _ string, err error) {
	reason := "invalid_credentials"
	if errors.Is(err, gateway.ErrRevoked) {
		reason = "revoked"
	}
	o.w.WriteAuthFailure(reason)
}

// Outcome classifies a command completion error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeReply
	case errors.Is(err, bridge.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, bridge.ErrNotConnected):
		return OutcomeDisconnected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}
