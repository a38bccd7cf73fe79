package cloudbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/audit"
	"github.com/nerrad567/gray-logic-relay/internal/bridge"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/mqtt"
)

// Reply status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Reply error codes, matching the HTTP API's error codes.
const (
	CodeInvalidRequest = "invalid_request"
	CodeGatewayOffline = "gateway_offline"
	CodeTimeout        = "timeout"
	CodeBusy           = "busy"
	CodeInternal       = "internal_error"
)

// CommandRequest is the body of a command ingress message.
type CommandRequest struct {
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	TimeoutMS int64           `json:"timeout_ms,omitempty"`
}

// CommandReply is published on the reply topic once a command completes.
type CommandReply struct {
	GatewayID string        `json:"gateway_id"`
	RequestID string        `json:"request_id,omitempty"`
	Status    string        `json:"status"`
	Code      string        `json:"code,omitempty"`
	Error     string        `json:"error,omitempty"`
	Reply     *bridge.Reply `json:"reply,omitempty"`
}

// Start subscribes to the command ingress topic.
func (b *Bus) Start() error {
	if b.commander == nil {
		return errors.New("cloudbus: no commander configured")
	}
	if err := b.broker.Subscribe(mqtt.Topics{}.AllCommands(), b.broker.QoS(), b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to command ingress: %w", err)
	}
	b.logger.Info("command ingress subscribed", "topic", mqtt.Topics{}.AllCommands())
	return nil
}

// Stop unsubscribes from the command ingress topic.
func (b *Bus) Stop() error {
	return b.broker.Unsubscribe(mqtt.Topics{}.AllCommands())
}

// handleCommand runs on the broker's delivery goroutine, so waiting for
// the gateway happens in a goroutine of its own.
func (b *Bus) handleCommand(topic string, payload []byte) error {
	gatewayID, ok := mqtt.Topics{}.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	var req CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decoding command for %s: %w", gatewayID, err)
	}
	if req.RequestID != "" && !mqtt.ValidSegment(req.RequestID) {
		return fmt.Errorf("invalid request_id %q", req.RequestID)
	}
	if !bridge.IsObject(req.Payload) {
		b.reply(gatewayID, req.RequestID, CommandReply{
			Status: StatusError, Code: CodeInvalidRequest, Error: "payload must be a JSON object",
		})
		return nil
	}

	requestID, err := b.commander.Send(gatewayID, req.Payload)
	if err != nil {
		b.reply(gatewayID, req.RequestID, failure(err))
		return nil
	}
	if b.auditor != nil {
		b.auditor.CommandSent(audit.SourceMQTT, "", gatewayID, requestID)
	}

	replyTo := req.RequestID
	if replyTo == "" {
		replyTo = requestID
	}
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond

	b.mu.Lock()
	ctx := b.ctx
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		r, err := b.commander.AwaitAck(ctx, requestID, timeout)
		out := CommandReply{Status: StatusOK, Reply: r}
		if err != nil {
			out = failure(err)
		}
		out.RequestID = requestID
		b.reply(gatewayID, replyTo, out)
	}()
	return nil
}

func failure(err error) CommandReply {
	out := CommandReply{Status: StatusError, Error: err.Error()}
	switch {
	case errors.Is(err, bridge.ErrNotConnected):
		out.Code = CodeGatewayOffline
	case errors.Is(err, bridge.ErrTimeout), errors.Is(err, context.Canceled):
		out.Code = CodeTimeout
	case errors.Is(err, bridge.ErrBackpressure):
		out.Code = CodeBusy
	case errors.Is(err, bridge.ErrProtocol):
		out.Code = CodeInvalidRequest
	default:
		out.Code = CodeInternal
	}
	return out
}

// reply publishes out for gatewayID. Without a reply id there is no topic
// to answer on and the outcome is only logged.
func (b *Bus) reply(gatewayID, replyTo string, out CommandReply) {
	out.GatewayID = gatewayID
	if replyTo == "" {
		b.logger.Warn("dropping command reply without request id",
			"gateway_id", gatewayID,
			"code", out.Code,
		)
		return
	}
	body, err := json.Marshal(out)
	if err != nil {
		b.logger.Error("encoding command reply", "gateway_id", gatewayID, "error", err)
		return
	}
	b.publish(message{topic: mqtt.Topics{}.Reply(gatewayID, replyTo), payload: body})
}
