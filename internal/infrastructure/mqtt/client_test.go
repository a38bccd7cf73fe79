package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
)

// testConfig returns a configuration pointing at a local broker.
func testConfig(t *testing.T) config.MQTTConfig {
	t.Helper()
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: fmt.Sprintf("graylogic-relay-test-%d", time.Now().UnixNano()),
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectTest connects to the local broker, skipping the test when none
// is listening.
func connectTest(t *testing.T) *Client {
	t.Helper()
	cfg := testConfig(t)

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port), 500*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker at %s:%d: %v", cfg.Broker.Host, cfg.Broker.Port, err)
	}
	conn.Close() //nolint:errcheck // probe only

	client, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"RelayStatus", topics.RelayStatus(), "graylogic/cloud/relay/status"},
		{"GatewayPresence", topics.GatewayPresence("gw-1"), "graylogic/cloud/gateways/gw-1/presence"},
		{"GatewayState", topics.GatewayState("gw-1"), "graylogic/cloud/gateways/gw-1/state"},
		{"Command", topics.Command("gw-1"), "graylogic/cloud/commands/gw-1"},
		{"Reply", topics.Reply("gw-1", "req-9"), "graylogic/cloud/replies/gw-1/req-9"},
		{"AllCommands", topics.AllCommands(), "graylogic/cloud/commands/+"},
		{"AllPresence", topics.AllPresence(), "graylogic/cloud/gateways/+/presence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"graylogic/cloud/commands/gw-1", "gw-1", true},
		{"graylogic/cloud/commands/", "", false},
		{"graylogic/cloud/commands/gw-1/extra", "", false},
		{"graylogic/cloud/replies/gw-1/req", "", false},
		{"other/commands/gw-1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := Topics{}.ParseCommand(tt.topic)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseCommand(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestValidSegment(t *testing.T) {
	for s, want := range map[string]bool{
		"gw-1": true, "": false, "a/b": false, "+": false, "a#": false,
	} {
		if got := ValidSegment(s); got != want {
			t.Errorf("ValidSegment(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	cfg.Auth.Username = "relay"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.Username != "relay" || opts.TLSConfig == nil {
		t.Errorf("Username = %q, TLSConfig = %v", opts.Username, opts.TLSConfig)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect with a clean session")
	}

	configureLWT(opts, cfg.Broker.ClientID)
	if !opts.WillEnabled || opts.WillTopic != (Topics{}).RelayStatus() || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

// =============================================================================
// Connection Tests (require a broker)
// =============================================================================

func TestConnect(t *testing.T) {
	client := connectTest(t)
	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Broker.Port = 19999

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, cfg)
	if err == nil {
		t.Fatal("Connect() expected error for invalid broker")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := Connect(ctx, testConfig(t))
	if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed wrapping context.Canceled", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Connect() took %v after cancellation", time.Since(start))
	}
}

// fakeToken implements pahomqtt.Token with a manually closed done channel.
type fakeToken struct {
	done chan struct{}
	err  error
}

func (f *fakeToken) Wait() bool                       { <-f.done; return true }
func (f *fakeToken) WaitTimeout(d time.Duration) bool { return waitToken(context.Background(), f, d) == nil }
func (f *fakeToken) Done() <-chan struct{}            { return f.done }
func (f *fakeToken) Error() error                     { return f.err }

func TestWaitToken(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		tok := &fakeToken{done: make(chan struct{})}
		close(tok.done)
		if err := waitToken(context.Background(), tok, time.Second); err != nil {
			t.Errorf("waitToken() error = %v", err)
		}
	})

	t.Run("token error", func(t *testing.T) {
		tok := &fakeToken{done: make(chan struct{}), err: errors.New("not authorised")}
		close(tok.done)
		if err := waitToken(context.Background(), tok, time.Second); err == nil || err.Error() != "not authorised" {
			t.Errorf("waitToken() error = %v, want token error", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		tok := &fakeToken{done: make(chan struct{})}
		if err := waitToken(context.Background(), tok, 20*time.Millisecond); err == nil {
			t.Error("waitToken() expected timeout error")
		}
	})

	t.Run("context", func(t *testing.T) {
		tok := &fakeToken{done: make(chan struct{})}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := waitToken(ctx, tok, time.Minute); !errors.Is(err, context.Canceled) {
			t.Errorf("waitToken() error = %v, want context.Canceled", err)
		}
	})
}

func TestRelayStatusPayload(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 500, time.FixedZone("CET", 3600))
	var got RelayStatus
	if err := json.Unmarshal(relayStatusPayload("relay-1", statusOffline, reasonShutdown, at), &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	want := RelayStatus{
		Status:    statusOffline,
		ClientID:  "relay-1",
		Reason:    reasonShutdown,
		Timestamp: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	if got.Status != want.Status || got.ClientID != want.ClientID || got.Reason != want.Reason || !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("payload = %+v, want %+v", got, want)
	}

	online := relayStatusPayload("relay-1", statusOnline, "", at)
	if strings.Contains(string(online), "reason") {
		t.Errorf("online payload should omit reason: %s", online)
	}
}

func TestOperationsWhileDisconnected(t *testing.T) {
	c := &Client{subs: make(map[string]subscription), logger: noopLogger{}}
	noop := func(string, []byte) error { return nil }

	if err := c.Publish(Topics{}.Command("gw-1"), []byte("{}"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe(Topics{}.AllCommands(), 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Unsubscribe(Topics{}.AllCommands()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := connectTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client := connectTest(t)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"bad qos", Topics{}.Command("gw-1"), []byte("{}"), 3, ErrInvalidQoS},
		{"too large", Topics{}.Command("gw-1"), make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := connectTest(t)
	noop := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v", err)
	}
	if err := client.Subscribe(Topics{}.AllCommands(), 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v", err)
	}
	if err := client.Subscribe(Topics{}.AllCommands(), 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectTest(t)

	var mu sync.Mutex
	var gotTopic string
	var gotPayload []byte
	received := make(chan struct{}, 1)

	gatewayID := fmt.Sprintf("gw-%d", time.Now().UnixNano())
	err := client.Subscribe(Topics{}.AllCommands(), 1, func(topic string, payload []byte) error {
		mu.Lock()
		gotTopic, gotPayload = topic, payload
		mu.Unlock()
		select {
		case received <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.AllCommands()) {
		t.Error("HasSubscription() = false after Subscribe")
	}

	if err := client.Publish(Topics{}.Command(gatewayID), []byte(`{"entity_id":"light.hall"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("message not received")
	}

	mu.Lock()
	defer mu.Unlock()
	if id, ok := (Topics{}).ParseCommand(gotTopic); !ok || id != gatewayID {
		t.Errorf("topic = %q", gotTopic)
	}
	if string(gotPayload) != `{"entity_id":"light.hall"}` {
		t.Errorf("payload = %s", gotPayload)
	}

	if err := client.Unsubscribe(Topics{}.AllCommands()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Unsubscribe", client.SubscriptionCount())
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestWrapHandler_RecoversAndLogs(t *testing.T) {
	c := &Client{}
	logger := &recordingLogger{}
	c.SetLogger(logger)

	h := c.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })
	h(nil, fakeMessage{topic: "graylogic/cloud/commands/gw-1"})

	p := c.wrapHandler(func(string, []byte) error { panic("boom") })
	p(nil, fakeMessage{topic: "graylogic/cloud/commands/gw-1"})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 || len(logger.errs) != 1 {
		t.Errorf("warns = %v, errs = %v", logger.warns, logger.errs)
	}
}

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}
