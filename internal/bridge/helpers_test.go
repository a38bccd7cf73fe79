package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-relay/internal/gateway"
)

// fakeGateways is an in-memory Gateways implementation.
type fakeGateways struct {
	mu        sync.Mutex
	creds     map[string]fakeGateway
	seen      map[string]time.Time
	seenN     map[string]int
	connected map[string]int
}

type fakeGateway struct {
	secret string
	homeID string
	status gateway.Status
}

func newFakeGateways() *fakeGateways {
	return &fakeGateways{
		creds:     make(map[string]fakeGateway),
		seen:      make(map[string]time.Time),
		seenN:     make(map[string]int),
		connected: make(map[string]int),
	}
}

func (f *fakeGateways) add(id, secret, homeID string, status gateway.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[id] = fakeGateway{secret: secret, homeID: homeID, status: status}
}

func (f *fakeGateways) Authenticate(_ context.Context, id, secret string) (*gateway.Gateway, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.creds[id]
	if !ok || g.secret != secret {
		return nil, gateway.ErrInvalidCredentials
	}
	if g.status == gateway.StatusRevoked {
		return nil, gateway.ErrRevoked
	}
	return &gateway.Gateway{ID: id, HomeID: g.homeID, Status: g.status}, nil
}

func (f *fakeGateways) MarkConnected(_ context.Context, g *gateway.Gateway, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[g.ID]++
	f.seen[g.ID] = at
	return nil
}

func (f *fakeGateways) MarkSeen(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[id] = at
	f.seenN[id]++
	return nil
}

func (f *fakeGateways) seenCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seenN[id]
}

func (f *fakeGateways) connections(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[id]
}

// recorder is an Observer that keeps everything it is told.
type recorder struct {
	NopObserver

	mu         sync.Mutex
	opened     []SessionInfo
	reasons    []string
	states     []StateSnapshot
	completed  []error
	authFailed []string
}

func (r *recorder) SessionOpened(info SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, info)
}

func (r *recorder) SessionClosed(_ SessionInfo, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recorder) StateReceived(snap StateSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, snap)
}

func (r *recorder) CommandCompleted(_, _ string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, err)
}

func (r *recorder) AuthFailed(gatewayID, _ string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authFailed = append(r.authFailed, gatewayID)
}

func (r *recorder) closeReasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

// syncRecorder is a SyncHandler that records calls.
type syncRecorder struct {
	mu    sync.Mutex
	calls []syncCall
}

type syncCall struct {
	gatewayID string
	homeID    string
	payload   json.RawMessage
}

func (s *syncRecorder) HandleSync(_ context.Context, gatewayID, homeID string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, syncCall{gatewayID: gatewayID, homeID: homeID, payload: payload})
	return nil
}

type harness struct {
	m        *Manager
	srv      *httptest.Server
	gateways *fakeGateways
	events   *recorder
	syncs    *syncRecorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	gws := newFakeGateways()
	gws.add("G1", "S1", "home-1", gateway.StatusActive)
	gws.add("G2", "S2", "home-2", gateway.StatusPending)
	gws.add("G-revoked", "S3", "home-1", gateway.StatusRevoked)

	m := NewManager(gws, cfg)
	events := &recorder{}
	syncs := &syncRecorder{}
	m.AddObserver(events)
	m.SetSyncHandler(syncs)

	srv := httptest.NewServer(NewHandler(m))
	t.Cleanup(func() {
		m.Close()
		srv.Close()
	})

	return &harness{m: m, srv: srv, gateways: gws, events: events, syncs: syncs}
}

func (h *harness) url(id, secret string) string {
	q := url.Values{}
	if id != "" {
		q.Set("gateway_id", id)
	}
	if secret != "" {
		q.Set("secret", secret)
	}
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/bridge?" + q.Encode()
}

func (h *harness) tryDial(id, secret string, subprotocols ...string) (*websocket.Conn, error) {
	d := websocket.Dialer{Subprotocols: subprotocols, HandshakeTimeout: 2 * time.Second}
	conn, _, err := d.Dial(h.url(id, secret), nil)
	return conn, err
}

// dial opens a gateway connection without waiting for registration.
func (h *harness) dial(t *testing.T, id, secret string, subprotocols ...string) *websocket.Conn {
	t.Helper()
	conn, err := h.tryDial(id, secret, subprotocols...)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", id, err)
	}
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck // Test cleanup
	return conn
}

// connect dials and waits until the manager has registered the session.
func (h *harness) connect(t *testing.T, id, secret string, subprotocols ...string) *websocket.Conn {
	t.Helper()
	before := h.gateways.connections(id)
	conn := h.dial(t, id, secret, subprotocols...)
	waitFor(t, "session registered", func() bool {
		_, ok := h.m.Status(id)
		return ok && h.gateways.connections(id) > before
	})
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // Test deadline
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	env, err := CodecFor(conn.Subprotocol()).Decode(data)
	if err != nil {
		t.Fatalf("Decode(%s) error = %v", data, err)
	}
	return env
}

func writeRaw(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env Envelope) {
	t.Helper()
	codec := CodecFor(conn.Subprotocol())
	data, err := codec.Encode(env)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if err := conn.WriteMessage(codec.FrameType(), data); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

// expectClose reads until the connection fails and checks the close code.
func expectClose(t *testing.T, conn *websocket.Conn, code int) *websocket.CloseError {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // Test deadline
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("read error = %v, want close code %d", err, code)
		}
		if ce.Code != code {
			t.Fatalf("close code = %d (%q), want %d", ce.Code, ce.Text, code)
		}
		return ce
	}
}

// ping proves the session loop is still serving the connection.
func ping(t *testing.T, conn *websocket.Conn, ts int64) {
	t.Helper()
	writeEnvelope(t, conn, Envelope{Type: TypePing, Timestamp: ts})
	pong := readEnvelope(t, conn)
	if pong.Type != TypePong || pong.Timestamp != ts {
		t.Fatalf("reply to ping = %+v, want pong with timestamp %d", pong, ts)
	}
}

// jsonEqual compares two JSON documents ignoring key order. Numbers are
// compared by their text, so precision loss is not hidden.
func jsonEqual(t *testing.T, a, b json.RawMessage) bool {
	t.Helper()
	return reflect.DeepEqual(decodeExact(t, a), decodeExact(t, b))
}

func decodeExact(t *testing.T, raw json.RawMessage) any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return v
}

var _ http.Handler = (*Handler)(nil)
