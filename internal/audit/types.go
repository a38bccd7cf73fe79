package audit

import "time"

// Actions recorded by the relay.
const (
	ActionPairingRequested = "pairing.requested"
	ActionPairingCompleted = "pairing.completed"
	ActionGatewayRevoked   = "gateway.revoked"
	ActionBridgeAuthFailed = "bridge.auth_failed"
	ActionCommandSent      = "command.sent"
)

// Sources identify which surface produced an entry.
const (
	SourceAPI    = "api"
	SourceBridge = "bridge"
	SourceMQTT   = "mqtt"
)

// Entry is a single audit trail record.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string
	Limit      int // default 50, max 200
	Offset     int
}

// Page is one page of List results.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}
