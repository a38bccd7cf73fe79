package pairing

import (
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/gateway"
)

// Code is a pairing code record.
type Code struct {
	ID         int64      `json:"-"`
	Code       string     `json:"code"`
	HomeID     string     `json:"home_id"`
	HomeName   string     `json:"home_name,omitempty"`
	UserID     string     `json:"user_id"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Consumed   bool       `json:"consumed"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	GatewayID  string     `json:"gateway_id,omitempty"`
}

// ValidAt reports whether the code can still be redeemed at t.
func (c *Code) ValidAt(t time.Time) bool {
	return !c.Consumed && t.Before(c.ExpiresAt)
}

// Request asks for a new pairing code.
type Request struct {
	UserID   string
	HomeID   string
	HomeName string
	// ExpiryMinutes of zero or less selects the configured default; values
	// above the configured maximum are clamped to it.
	ExpiryMinutes int
}

// Completion is the result of redeeming a code. Secret is the plaintext
// gateway secret and is returned exactly once.
type Completion struct {
	Gateway  *gateway.Gateway
	Secret   string
	HomeName string
}
