package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-relay/internal/gateway"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
)

// persistTimeout bounds registry writes made outside a request context.
const persistTimeout = 5 * time.Second

// Config holds the bridge's timing and sizing parameters.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatMisses   int
	WriteTimeout      time.Duration
	SendBuffer        int
	MaxMessageSize    int64
	PendingTTL        time.Duration
	DefaultAckTimeout time.Duration
	MaxAckTimeout     time.Duration
}

// ConfigFrom converts the YAML bridge section into a Config.
func ConfigFrom(c config.BridgeConfig) Config {
	return Config{
		HeartbeatInterval: config.Seconds(c.HeartbeatInterval),
		HeartbeatMisses:   c.HeartbeatMisses,
		WriteTimeout:      config.Seconds(c.WriteTimeout),
		SendBuffer:        c.SendBuffer,
		MaxMessageSize:    int64(c.MaxMessageSize),
		PendingTTL:        config.Seconds(c.PendingTTL),
		DefaultAckTimeout: config.Seconds(c.DefaultAckTimeout),
		MaxAckTimeout:     config.Seconds(c.MaxAckTimeout),
	}
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatMisses <= 0 {
		c.HeartbeatMisses = 3
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = 2 * time.Minute
	}
	if c.DefaultAckTimeout <= 0 {
		c.DefaultAckTimeout = 10 * time.Second
	}
	if c.MaxAckTimeout < c.DefaultAckTimeout {
		c.MaxAckTimeout = c.DefaultAckTimeout
	}
	return c
}

// Liveness is how long a session may stay silent before it is closed.
func (c Config) Liveness() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.HeartbeatMisses)
}

func (c Config) ackTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return c.DefaultAckTimeout
	}
	if requested > c.MaxAckTimeout {
		return c.MaxAckTimeout
	}
	return requested
}

// Gateways is the slice of the gateway registry the bridge needs.
type Gateways interface {
	Authenticate(ctx context.Context, id, secret string) (*gateway.Gateway, error)
	MarkConnected(ctx context.Context, g *gateway.Gateway, at time.Time) error
	MarkSeen(ctx context.Context, id string, at time.Time) error
}

// SyncHandler receives home metadata pushed by gateways in sync envelopes.
type SyncHandler interface {
	HandleSync(ctx context.Context, gatewayID, homeID string, payload json.RawMessage) error
}

// Observer is notified of session lifecycle and traffic. Methods are called
// from session goroutines and must not block.
type Observer interface {
	SessionOpened(info SessionInfo)
	SessionClosed(info SessionInfo, reason string)
	StateReceived(snap StateSnapshot)
	CommandCompleted(gatewayID, requestID string, latency time.Duration, err error)
	AuthFailed(gatewayID, remoteAddr string, err error)
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// the methods you need.
type NopObserver struct{}

func (NopObserver) SessionOpened(SessionInfo)                             {}
func (NopObserver) SessionClosed(SessionInfo, string)                     {}
func (NopObserver) StateReceived(StateSnapshot)                           {}
func (NopObserver) CommandCompleted(string, string, time.Duration, error) {}
func (NopObserver) AuthFailed(string, string, error)                      {}

// Logger defines the logging interface used by the Manager.
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

// Manager owns the session table and relays commands to gateways.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - SetLogger, SetSyncHandler and AddObserver must be called before the
//     first session is accepted.
type Manager struct {
	gateways  Gateways
	cfg       Config
	logger    Logger
	sync      SyncHandler
	observers []Observer
	states    *StateCache
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	callsMu sync.Mutex
	calls   map[string]*call
}

// NewManager creates a session manager.
func NewManager(gateways Gateways, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		gateways: gateways,
		cfg:      cfg.withDefaults(),
		logger:   noopLogger{},
		states:   NewStateCache(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
		calls:    make(map[string]*call),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetSyncHandler sets the receiver for sync envelopes.
func (m *Manager) SetSyncHandler(h SyncHandler) {
	m.sync = h
}

// AddObserver registers an observer.
func (m *Manager) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Authenticate validates a gateway's credentials and, on success, registers
// a session on conn and starts its goroutines.
//
// A session already registered for the same gateway is closed with reason
// "superseded". On error the caller still owns conn and must close it.
func (m *Manager) Authenticate(ctx context.Context, gatewayID, secret string, conn *websocket.Conn) (*Session, error) {
	g, err := m.gateways.Authenticate(ctx, gatewayID, secret)
	if err != nil {
		remote := conn.RemoteAddr().String()
		m.logger.Warn("bridge authentication failed", "gateway_id", gatewayID, "remote_addr", remote, "error", err)
		for _, o := range m.observers {
			o.AuthFailed(gatewayID, remote, err)
		}
		return nil, err
	}

	now := m.now()
	if err := m.gateways.MarkConnected(ctx, g, now); err != nil {
		return nil, fmt.Errorf("recording connection: %w", err)
	}

	conn.SetReadLimit(m.cfg.MaxMessageSize)
	s := newSession(uuid.NewString(), g.ID, g.HomeID, conn, CodecFor(conn.Subprotocol()), m.cfg.SendBuffer, now)
	if err := m.register(s); err != nil {
		return nil, err
	}

	info := s.Info()
	m.logger.Info("gateway connected",
		"gateway_id", s.gatewayID,
		"home_id", s.homeID,
		"session_id", s.id,
		"subprotocol", info.Subprotocol,
		"remote_addr", info.RemoteAddr,
	)
	for _, o := range m.observers {
		o.SessionOpened(info)
	}

	go func() {
		defer m.wg.Done()
		s.writePump(m.cfg.WriteTimeout, func(err error) {
			m.logger.Warn("bridge write failed", "gateway_id", s.gatewayID, "error", err)
			m.closeSession(s, websocket.CloseInternalServerErr, "write failed", ReasonWriteError)
		})
	}()
	go func() {
		defer m.wg.Done()
		m.readLoop(s)
	}()
	return s, nil
}

// register installs s as the gateway's session and closes any predecessor.
// The swap happens under the table lock, so no lookup ever sees both.
func (m *Manager) register(s *Session) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	prev := m.sessions[s.gatewayID]
	m.sessions[s.gatewayID] = s
	m.wg.Add(2)
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info("superseding gateway session", "gateway_id", s.gatewayID, "old_session_id", prev.id)
		m.closeSession(prev, CloseSuperseded, "superseded by a new connection", ReasonSuperseded)
	}
	return nil
}

// unregister removes s from the table if it is still the current session.
func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	if m.sessions[s.gatewayID] == s {
		delete(m.sessions, s.gatewayID)
	}
	m.mu.Unlock()
}

func (m *Manager) session(gatewayID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[gatewayID]
}

// closeSession ends s exactly once. Waiting callers fail immediately with
// ErrNotConnected; closing the socket unblocks the session loop, which
// finishes the teardown.
func (m *Manager) closeSession(s *Session, code int, text, reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.done)
		m.unregister(s)

		for _, c := range s.drainPending() {
			c.deliver(result{err: ErrNotConnected})
			m.commandCompleted(c, ErrNotConnected)
		}

		if s.conn != nil {
			deadline := time.Now().Add(m.cfg.WriteTimeout)
			//nolint:errcheck // Best-effort close frame; the peer may be gone
			s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
			s.conn.Close() //nolint:errcheck // Nothing useful to do with a close error
		}
	})
}

// readLoop is the session loop. It is the only reader of the socket.
func (m *Manager) readLoop(s *Session) {
	defer m.finish(s)

	liveness := m.cfg.Liveness()
	for {
		//nolint:errcheck // Best-effort deadline; read error caught below
		s.conn.SetReadDeadline(time.Now().Add(liveness))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			m.readFailed(s, err)
			return
		}

		now := m.now()
		s.touch(now)

		env, err := s.codec.Decode(data)
		if err == nil {
			err = m.dispatch(s, env, now)
		}
		if err != nil {
			m.logger.Warn("closing gateway session on protocol error", "gateway_id", s.gatewayID, "error", err)
			m.closeSession(s, websocket.CloseProtocolError, "protocol error", ReasonProtocolError)
			return
		}
	}
}

func (m *Manager) readFailed(s *Session, err error) {
	select {
	case <-s.done:
		return // closed locally
	default:
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		m.logger.Warn("gateway heartbeat timed out", "gateway_id", s.gatewayID, "last_heartbeat", s.lastHeartbeat())
		m.closeSession(s, CloseHeartbeatTimeout, "heartbeat timeout", ReasonHeartbeatTimeout)
	case errors.Is(err, websocket.ErrReadLimit):
		m.logger.Warn("gateway frame exceeds size limit", "gateway_id", s.gatewayID)
		m.closeSession(s, websocket.CloseMessageTooBig, "message too big", ReasonProtocolError)
	default:
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			m.logger.Warn("gateway read error", "gateway_id", s.gatewayID, "error", err)
		}
		m.closeSession(s, websocket.CloseNormalClosure, "", ReasonDisconnected)
	}
}

// finish runs once the session loop has exited.
func (m *Manager) finish(s *Session) {
	m.closeSession(s, websocket.CloseNormalClosure, "", ReasonDisconnected)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.gateways.MarkSeen(ctx, s.gatewayID, s.lastHeartbeat()); err != nil {
		m.logger.Warn("failed to persist gateway last seen", "gateway_id", s.gatewayID, "error", err)
	}

	info := s.Info()
	reason := s.closeReason()
	m.logger.Info("gateway disconnected",
		"gateway_id", s.gatewayID,
		"session_id", s.id,
		"reason", reason,
		"duration", m.now().Sub(s.connectedAt).Round(time.Second),
	)
	for _, o := range m.observers {
		o.SessionClosed(info, reason)
	}
}

// dispatch handles one decoded inbound envelope. A returned error is a
// protocol violation.
func (m *Manager) dispatch(s *Session, env Envelope, now time.Time) error {
	switch env.Type {
	case TypePing:
		ts := env.Timestamp
		if ts == 0 {
			ts = now.Unix()
		}
		frame, err := s.codec.Encode(Envelope{Type: TypePong, Timestamp: ts})
		if err != nil {
			return err
		}
		if err := s.enqueue(frame); errors.Is(err, ErrBackpressure) {
			m.logger.Debug("pong dropped, write queue full", "gateway_id", s.gatewayID)
		}
	case TypePong:
		// liveness already refreshed
	case TypeAck, TypeState:
		m.resolve(s, env, now)
	case TypeSync:
		m.handleSync(s, env)
	case TypeCommand:
		return codecErr("command sent by gateway", nil)
	}
	return nil
}

func (m *Manager) resolve(s *Session, env Envelope, now time.Time) {
	if env.Type == TypeState {
		snap := StateSnapshot{
			GatewayID:  s.gatewayID,
			RequestID:  env.RequestID,
			Timestamp:  env.Timestamp,
			ReceivedAt: now.UTC(),
			Payload:    env.Payload,
		}
		m.states.Put(snap)
		for _, o := range m.observers {
			o.StateReceived(snap)
		}
	}

	if env.RequestID == "" {
		return
	}
	c, ok := s.takePending(env.RequestID)
	if !ok {
		m.logger.Warn("dropping unmatched reply",
			"gateway_id", s.gatewayID,
			"request_id", env.RequestID,
			"type", env.Type,
		)
		return
	}

	c.deliver(result{reply: &Reply{
		RequestID:  env.RequestID,
		GatewayID:  s.gatewayID,
		Type:       env.Type,
		Timestamp:  env.Timestamp,
		ReceivedAt: now.UTC(),
		Payload:    env.Payload,
	}})
	m.commandCompleted(c, nil)
}

func (m *Manager) handleSync(s *Session, env Envelope) {
	if m.sync == nil {
		m.logger.Debug("sync envelope ignored, no handler", "gateway_id", s.gatewayID)
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, persistTimeout)
	defer cancel()
	if err := m.sync.HandleSync(ctx, s.gatewayID, s.homeID, env.Payload); err != nil {
		m.logger.Warn("sync handling failed", "gateway_id", s.gatewayID, "home_id", s.homeID, "error", err)
	}
}

func (m *Manager) commandCompleted(c *call, err error) {
	latency := m.now().Sub(c.sentAt)
	for _, o := range m.observers {
		o.CommandCompleted(c.gatewayID, c.id, latency, err)
	}
}

// Send queues a command for a gateway and returns its request ID.
//
// It never waits on the network: ErrNotConnected is returned at once when
// the gateway has no session and ErrBackpressure when its write queue is
// full. payload must be a JSON object.
func (m *Manager) Send(gatewayID string, payload json.RawMessage) (string, error) {
	s := m.session(gatewayID)
	if s == nil {
		return "", ErrNotConnected
	}

	now := m.now()
	id := uuid.NewString()
	frame, err := s.codec.Encode(Envelope{
		Type:      TypeCommand,
		RequestID: id,
		Timestamp: now.Unix(),
		Payload:   payload,
	})
	if err != nil {
		return "", err
	}

	c := newCall(id, s, now)
	if !s.addPending(c) {
		return "", ErrNotConnected
	}
	m.callsMu.Lock()
	m.calls[id] = c
	m.callsMu.Unlock()

	if err := s.enqueue(frame); err != nil {
		s.takePending(id)
		m.callsMu.Lock()
		delete(m.calls, id)
		m.callsMu.Unlock()
		return "", err
	}

	m.logger.Debug("command queued", "gateway_id", gatewayID, "request_id", id)
	return id, nil
}

// AwaitAck waits for the reply to a command issued by Send.
//
// timeout <= 0 uses the configured default and larger values are capped.
// A request can be awaited once; after a timeout or cancellation the
// request is forgotten and a late reply is dropped.
func (m *Manager) AwaitAck(ctx context.Context, requestID string, timeout time.Duration) (*Reply, error) {
	m.callsMu.Lock()
	c, ok := m.calls[requestID]
	delete(m.calls, requestID)
	m.callsMu.Unlock()
	if !ok {
		return nil, ErrUnknownRequest
	}

	timer := time.NewTimer(m.cfg.ackTimeout(timeout))
	defer timer.Stop()

	var err error
	select {
	case r := <-c.result:
		return r.reply, r.err
	case <-timer.C:
		err = ErrTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.session.takePending(requestID)
	select {
	case r := <-c.result:
		return r.reply, r.err
	default:
	}

	m.commandCompleted(c, err)
	return nil, err
}

// RequestGateway returns the gateway an awaitable request was sent to.
func (m *Manager) RequestGateway(requestID string) (string, bool) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	c, ok := m.calls[requestID]
	if !ok {
		return "", false
	}
	return c.gatewayID, true
}

// Status returns the live session of a gateway.
func (m *Manager) Status(gatewayID string) (SessionInfo, bool) {
	s := m.session(gatewayID)
	if s == nil {
		return SessionInfo{}, false
	}
	return s.Info(), true
}

// Sessions returns every live session ordered by gateway ID.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].GatewayID < infos[j].GatewayID })
	return infos
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// State returns the latest state a gateway reported.
func (m *Manager) State(gatewayID string) (StateSnapshot, bool) {
	return m.states.Get(gatewayID)
}

// ForgetState drops a gateway's cached state.
func (m *Manager) ForgetState(gatewayID string) {
	m.states.Delete(gatewayID)
}

// Disconnect closes a gateway's live session with the given close code.
// It reports whether a session was open.
func (m *Manager) Disconnect(gatewayID string, code int, text string) bool {
	s := m.session(gatewayID)
	if s == nil {
		return false
	}
	reason := ReasonDisconnected
	if code == CloseRevoked {
		reason = ReasonRevoked
	}
	m.closeSession(s, code, text, reason)
	return true
}

// Run sweeps commands that were never awaited until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PendingTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.sweep(m.now()); n > 0 {
				m.logger.Debug("swept unawaited commands", "count", n)
			}
		}
	}
}

// sweep forgets calls older than the pending TTL.
func (m *Manager) sweep(now time.Time) int {
	cutoff := now.Add(-m.cfg.PendingTTL)

	var stale []*call
	m.callsMu.Lock()
	for id, c := range m.calls {
		if c.sentAt.Before(cutoff) {
			stale = append(stale, c)
			delete(m.calls, id)
		}
	}
	m.callsMu.Unlock()

	for _, c := range stale {
		if _, ok := c.session.takePending(c.id); ok {
			m.commandCompleted(c, ErrTimeout)
		}
	}
	return len(stale)
}

// Close disconnects every gateway and waits for session goroutines to exit.
// New connections are refused afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.closeSession(s, websocket.CloseGoingAway, "relay shutting down", ReasonShutdown)
	}
	m.cancel()
	m.wg.Wait()
}
