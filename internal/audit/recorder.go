package audit

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-relay/internal/bridge"
	"github.com/nerrad567/gray-logic-relay/internal/gateway"
)

// DefaultQueueSize is the Recorder's queue capacity when none is given.
const DefaultQueueSize = 256

// Logger defines the logging interface used by the Recorder.
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

// Recorder queues audit entries and writes them serially from Run.
// Record never blocks; a nil *Recorder discards everything.
type Recorder struct {
	repo   Repository
	queue  chan *Entry
	logger Logger
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo Repository, size int) *Recorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Recorder{repo: repo, queue: make(chan *Entry, size), logger: noopLogger{}}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Record enqueues e. If the queue is full the entry is dropped.
func (r *Recorder) Record(e *Entry) {
	if r == nil || e == nil {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"action", e.Action,
			"entity_type", e.EntityType,
		)
	}
}

// Run writes queued entries until ctx is cancelled, then flushes whatever
// is still queued and returns.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

// Pending returns the number of entries waiting to be written.
func (r *Recorder) Pending() int {
	return len(r.queue)
}

func (r *Recorder) write(e *Entry) {
	// Entries outlive the request that produced them.
	if err := r.repo.Create(context.Background(), e); err != nil {
		r.logger.Error("audit write failed",
			"action", e.Action,
			"entity_type", e.EntityType,
			"error", err,
		)
	}
}

// PairingRequested records a pairing code being issued. The code itself
// is never written.
func (r *Recorder) PairingRequested(userID, homeID string, codeID int64) {
	r.Record(&Entry{
		Action:     ActionPairingRequested,
		EntityType: "home",
		EntityID:   homeID,
		UserID:     userID,
		Source:     SourceAPI,
		Details:    map[string]any{"code_id": codeID},
	})
}

// PairingCompleted records a code being redeemed for a new gateway.
func (r *Recorder) PairingCompleted(gw *gateway.Gateway) {
	r.Record(&Entry{
		Action:     ActionPairingCompleted,
		EntityType: "gateway",
		EntityID:   gw.ID,
		UserID:     gw.OwnerID,
		Source:     SourceAPI,
		Details:    map[string]any{"home_id": gw.HomeID, "name": gw.Name},
	})
}

// GatewayRevoked records a gateway being revoked by userID.
func (r *Recorder) GatewayRevoked(userID string, gw *gateway.Gateway, disconnected bool) {
	r.Record(&Entry{
		Action:     ActionGatewayRevoked,
		EntityType: "gateway",
		EntityID:   gw.ID,
		UserID:     userID,
		Source:     SourceAPI,
		Details:    map[string]any{"home_id": gw.HomeID, "disconnected": disconnected},
	})
}

// CommandSent records a command accepted for delivery to a gateway.
func (r *Recorder) CommandSent(source, userID, gatewayID, requestID string) {
	r.Record(&Entry{
		Action:     ActionCommandSent,
		EntityType: "gateway",
		EntityID:   gatewayID,
		UserID:     userID,
		Source:     source,
		Details:    map[string]any{"request_id": requestID},
	})
}

// BridgeObserver returns a bridge.Observer that records rejected gateway
// logins.
func (r *Recorder) BridgeObserver() bridge.Observer {
	return bridgeObserver{rec: r}
}

type bridgeObserver struct {
	bridge.NopObserver
	rec *Recorder
}

func (o bridgeObserver) AuthFailed(gatewayID, remoteAddr string, err error) {
	reason := "invalid_credentials"
	if errors.Is(err, gateway.ErrRevoked) {
		reason = "revoked"
	}
	o.rec.Record(&Entry{
		Action:     ActionBridgeAuthFailed,
		EntityType: "gateway",
		EntityID:   gatewayID,
		Source:     SourceBridge,
		Details:    map[string]any{"remote_addr": remoteAddr, "reason": reason},
	})
}
