package homes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a synced item.
type Kind string

// Item kinds.
const (
	KindEntity     Kind = "entity"
	KindScene      Kind = "scene"
	KindAutomation Kind = "automation"
	KindLocation   Kind = "location"
)

// Kinds lists every item kind.
var Kinds = []Kind{KindEntity, KindScene, KindAutomation, KindLocation}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindEntity, KindScene, KindAutomation, KindLocation:
		return true
	}
	return false
}

// Home is the stored metadata of one home.
type Home struct {
	HomeID    string       `json:"home_id"`
	GatewayID string       `json:"gateway_id"`
	Name      string       `json:"name"`
	Timezone  string       `json:"timezone"`
	SyncedAt  time.Time    `json:"synced_at"`
	Counts    map[Kind]int `json:"counts"`
}

// Item is one entity, scene, automation or location as the gateway sent it.
type Item struct {
	Kind Kind            `json:"kind"`
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// Snapshot is the payload of a sync envelope.
type Snapshot struct {
	Home struct {
		Name     string `json:"name"`
		Timezone string `json:"timezone"`
	} `json:"home"`
	Entities    []json.RawMessage `json:"entities"`
	Scenes      []json.RawMessage `json:"scenes"`
	Automations []json.RawMessage `json:"automations"`
	Locations   []json.RawMessage `json:"locations"`
}

// ParseSnapshot decodes a sync payload.
func ParseSnapshot(payload json.RawMessage) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return &snap, nil
}

// Items flattens the snapshot into storable items. Every item must be a
// JSON object with a non-empty string or numeric id; a duplicate id within
// one kind keeps the last occurrence.
func (s *Snapshot) Items() ([]Item, error) {
	groups := []struct {
		kind Kind
		raw  []json.RawMessage
	}{
		{KindEntity, s.Entities},
		{KindScene, s.Scenes},
		{KindAutomation, s.Automations},
		{KindLocation, s.Locations},
	}

	var items []Item
	for _, g := range groups {
		index := make(map[string]int, len(g.raw))
		for i, raw := range g.raw {
			item, err := parseItem(g.kind, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s %d: %v", ErrInvalidSnapshot, g.kind, i, err)
			}
			if at, dup := index[item.ID]; dup {
				items[at] = item
				continue
			}
			index[item.ID] = len(items)
			items = append(items, item)
		}
	}
	return items, nil
}

func parseItem(kind Kind, raw json.RawMessage) (Item, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var head struct {
		ID   any    `json:"id"`
		Name string `json:"name"`
	}
	if err := dec.Decode(&head); err != nil {
		return Item{}, err
	}

	var id string
	switch v := head.ID.(type) {
	case string:
		id = strings.TrimSpace(v)
	case json.Number:
		id = v.String()
	}
	if id == "" {
		return Item{}, errors.New("missing id")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return Item{}, err
	}
	return Item{Kind: kind, ID: id, Name: head.Name, Data: compact.Bytes()}, nil
}
