package bridge

import (
	"bytes"
	"encoding/json"
	"time"
)

// Type identifies the kind of an envelope.
type Type string

// Envelope types.
const (
	TypePing    Type = "ping"
	TypePong    Type = "pong"
	TypeCommand Type = "command"
	TypeAck     Type = "ack"
	TypeState   Type = "state"
	TypeSync    Type = "sync"
)

// IsValid reports whether t is a known envelope type.
func (t Type) IsValid() bool {
	switch t {
	case TypePing, TypePong, TypeCommand, TypeAck, TypeState, TypeSync:
		return true
	}
	return false
}

// Envelope is the unit exchanged on a bridge session.
//
// Payload holds the JSON form of the payload regardless of the wire codec.
// The relay never interprets command payloads.
type Envelope struct {
	Type      Type            `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope returns an envelope stamped with the current time.
func NewEnvelope(t Type, requestID string, payload json.RawMessage) Envelope {
	return Envelope{
		Type:      t,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	}
}

// Validate checks the envelope against the rules for its type.
//
// Rules:
//   - type is required and must be known
//   - command and ack carry a request ID
//   - command, state and sync carry a JSON object payload
//   - an ack payload, when present, is a JSON object
func (e Envelope) Validate() error {
	switch e.Type {
	case "":
		return codecErr("missing type", nil)
	case TypePing, TypePong:
		return nil
	case TypeCommand:
		if e.RequestID == "" {
			return codecErr("command without request_id", nil)
		}
		return requireObject(e.Type, e.Payload)
	case TypeAck:
		if e.RequestID == "" {
			return codecErr("ack without request_id", nil)
		}
		if hasPayload(e.Payload) {
			return requireObject(e.Type, e.Payload)
		}
		return nil
	case TypeState, TypeSync:
		return requireObject(e.Type, e.Payload)
	default:
		return codecErr("unknown type "+string(e.Type), nil)
	}
}

// hasPayload reports whether p carries a value other than JSON null.
func hasPayload(p json.RawMessage) bool {
	p = bytes.TrimSpace(p)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}

// IsObject reports whether p is a well-formed JSON object.
func IsObject(p json.RawMessage) bool {
	p = bytes.TrimSpace(p)
	return len(p) > 0 && p[0] == '{' && json.Valid(p)
}

func requireObject(t Type, p json.RawMessage) error {
	if !IsObject(p) {
		return codecErr(string(t)+" payload must be a JSON object", nil)
	}
	return nil
}
