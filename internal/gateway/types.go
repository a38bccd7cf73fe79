package gateway

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// Status is a gateway's lifecycle state.
type Status string

const (
	// StatusPending is set at pairing completion, before the first connection.
	StatusPending Status = "pending"

	// StatusActive is set on the first authenticated bridge connection.
	StatusActive Status = "active"

	// StatusRevoked is terminal. Revoked gateways can no longer connect.
	StatusRevoked Status = "revoked"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusRevoked:
		return true
	}
	return false
}

// Gateway is a paired edge gateway.
type Gateway struct {
	ID         string     `json:"id"`
	HomeID     string     `json:"home_id"`
	OwnerID    string     `json:"owner_id"`
	Name       string     `json:"name"`
	Version    string     `json:"version,omitempty"`
	SecretHash string     `json:"-"` // never serialised
	Status     Status     `json:"status"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Copy returns a copy that shares no pointers with g.
func (g *Gateway) Copy() *Gateway {
	c := *g
	if g.LastSeenAt != nil {
		t := *g.LastSeenAt
		c.LastSeenAt = &t
	}
	return &c
}

// secretBytes is the entropy of a gateway secret (256 bits).
const secretBytes = 32

// GenerateSecret returns a new URL-safe random gateway secret.
// It is shown to the gateway once at pairing and only its hash is kept.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating gateway secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
