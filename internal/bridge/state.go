package bridge

import (
	"encoding/json"
	"sync"
	"time"
)

// StateSnapshot is the latest state payload a gateway reported.
type StateSnapshot struct {
	GatewayID  string          `json:"gateway_id"`
	RequestID  string          `json:"request_id,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// StateCache keeps the most recent state envelope per gateway.
// Entries outlive the session so callers can read the last known state of
// an offline gateway.
type StateCache struct {
	mu     sync.RWMutex
	states map[string]StateSnapshot
}

// NewStateCache creates an empty cache.
func NewStateCache() *StateCache {
	return &StateCache{states: make(map[string]StateSnapshot)}
}

// Put replaces the cached state for snap.GatewayID.
func (c *StateCache) Put(snap StateSnapshot) {
	c.mu.Lock()
	c.states[snap.GatewayID] = snap
	c.mu.Unlock()
}

// Get returns the cached state for a gateway.
func (c *StateCache) Get(gatewayID string) (StateSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.states[gatewayID]
	return snap, ok
}

// Delete forgets a gateway's state.
func (c *StateCache) Delete(gatewayID string) {
	c.mu.Lock()
	delete(c.states, gatewayID)
	c.mu.Unlock()
}

// Len returns the number of cached gateways.
func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.states)
}
