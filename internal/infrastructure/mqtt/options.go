package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
)

const (
	connectTimeout          = 10 * time.Second
	operationTimeout        = 5 * time.Second
	disconnectQuiesceMillis = 1000
	keepAlive               = 60 * time.Second

	maxQoS = 2
)

// Relay status values published on the relay status topic.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown   = "graceful_shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

// RelayStatus is the retained payload on the relay status topic.
type RelayStatus struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func relayStatusPayload(clientID, status, reason string, at time.Time) []byte {
	data, _ := json.Marshal(RelayStatus{ //nolint:errcheck // plain struct always marshals
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: at.UTC().Truncate(time.Second),
	})
	return data
}

// buildClientOptions maps the relay's MQTT config onto paho options. The
// session is clean because every subscription is replayed on connect.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(config.Seconds(cfg.Reconnect.InitialDelay)).
		SetMaxReconnectInterval(config.Seconds(cfg.Reconnect.MaxDelay)).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// configureLWT has the broker mark the relay offline if it drops without
// closing.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	payload := relayStatusPayload(clientID, statusOffline, reasonUnexpected, time.Now())
	opts.SetBinaryWill(Topics{}.RelayStatus(), payload, 1, true)
}
