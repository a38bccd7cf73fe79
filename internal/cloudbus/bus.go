package cloudbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/bridge"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/mqtt"
)

// defaultOutboxSize bounds queued publishes. Presence and state are
// retained, so a dropped update is corrected by the next one.
const defaultOutboxSize = 256

// Broker is the subset of *mqtt.Client the bus uses.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	QoS() byte
}

// Commander delivers commands to connected gateways.
type Commander interface {
	Send(gatewayID string, payload json.RawMessage) (string, error)
	AwaitAck(ctx context.Context, requestID string, timeout time.Duration) (*bridge.Reply, error)
}

// Auditor records commands accepted from the broker.
type Auditor interface {
	CommandSent(source, userID, gatewayID, requestID string)
}

// Logger defines the logging interface used by the Bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type message struct {
	topic    string
	payload  []byte
	retained bool
}

// Bus publishes bridge events to the broker and serves command ingress.
type Bus struct {
	bridge.NopObserver

	broker    Broker
	commander Commander
	auditor   Auditor
	logger    Logger
	outbox    chan message

	mu     sync.Mutex
	ctx    context.Context //nolint:containedctx // bounds ingress goroutines started from broker callbacks
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a bus. commander may be nil for a publish-only bus.
func New(broker Broker, commander Commander) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		broker:    broker,
		commander: commander,
		logger:    noopLogger{},
		outbox:    make(chan message, defaultOutboxSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// SetAuditor records ingress commands with a.
func (b *Bus) SetAuditor(a Auditor) {
	b.auditor = a
}

// presence is the retained body of a gateway presence topic.
type presence struct {
	GatewayID string    `json:"gateway_id"`
	HomeID    string    `json:"home_id"`
	Status    string    `json:"status"`
	SessionID string    `json:"session_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionOpened publishes an online presence message.
func (b *Bus) SessionOpened(info bridge.SessionInfo) {
	b.enqueue(mqtt.Topics{}.GatewayPresence(info.GatewayID), presence{
		GatewayID: info.GatewayID,
		HomeID:    info.HomeID,
		Status:    "online",
		SessionID: info.SessionID,
		Timestamp: time.Now().UTC(),
	}, true)
}

// SessionClosed publishes an offline presence message. A superseded
// session is skipped: its replacement has already announced itself.
func (b *Bus) SessionClosed(info bridge.SessionInfo, reason string) {
	if reason == bridge.ReasonSuperseded {
		return
	}
	b.enqueue(mqtt.Topics{}.GatewayPresence(info.GatewayID), presence{
		GatewayID: info.GatewayID,
		HomeID:    info.HomeID,
		Status:    "offline",
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}, true)
}

// StateReceived republishes a gateway's state report, retained.
func (b *Bus) StateReceived(snap bridge.StateSnapshot) {
	b.enqueue(mqtt.Topics{}.GatewayState(snap.GatewayID), snap, true)
}

func (b *Bus) enqueue(topic string, body any, retained bool) {
	payload, err := json.Marshal(body)
	if err != nil {
		b.logger.Error("encoding broker message", "topic", topic, "error", err)
		return
	}
	select {
	case b.outbox <- message{topic: topic, payload: payload, retained: retained}:
	default:
		b.logger.Warn("broker outbox full, dropping message", "topic", topic)
	}
}

// Run publishes queued messages until ctx is cancelled, then flushes the
// outbox and waits for in-flight ingress commands.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case m := <-b.outbox:
			b.publish(m)
		case <-ctx.Done():
			for {
				select {
				case m := <-b.outbox:
					b.publish(m)
				default:
					b.cancel()
					b.wg.Wait()
					return
				}
			}
		}
	}
}

func (b *Bus) publish(m message) {
	if err := b.broker.Publish(m.topic, m.payload, b.broker.QoS(), m.retained); err != nil {
		b.logger.Warn("broker publish failed", "topic", m.topic, "error", err)
	}
}
