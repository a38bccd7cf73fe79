package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// WebSocket subprotocols understood by the bridge.
const (
	SubprotocolJSON = "graylogic.bridge.v1+json"
	SubprotocolCBOR = "graylogic.bridge.v1+cbor"
)

// Subprotocols lists the subprotocols offered during the upgrade, in order
// of server preference.
var Subprotocols = []string{SubprotocolJSON, SubprotocolCBOR}

// Codec converts envelopes to and from WebSocket frames.
type Codec interface {
	// Subprotocol is the negotiated subprotocol this codec serves.
	Subprotocol() string

	// FrameType is websocket.TextMessage or websocket.BinaryMessage.
	FrameType() int

	Encode(e Envelope) ([]byte, error)
	Decode(data []byte) (Envelope, error)
}

// CodecFor returns the codec for a negotiated subprotocol. No subprotocol,
// or one the bridge does not know, selects JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolCBOR {
		return CBORCodec{}
	}
	return JSONCodec{}
}

// JSONCodec encodes envelopes as JSON text frames.
type JSONCodec struct{}

// Subprotocol implements Codec.
func (JSONCodec) Subprotocol() string { return SubprotocolJSON }

// FrameType implements Codec.
func (JSONCodec) FrameType() int { return websocket.TextMessage }

// Encode implements Codec.
func (JSONCodec) Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, codecErr("encoding envelope", err)
	}
	return data, nil
}

// Decode implements Codec. Unknown fields are ignored.
func (JSONCodec) Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, codecErr("malformed envelope", err)
	}
	if !hasPayload(e.Payload) {
		e.Payload = nil
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// cborEnvelope is the CBOR wire shape. The payload travels as a native
// CBOR map rather than embedded JSON text.
type cborEnvelope struct {
	Type      string `cbor:"type"`
	RequestID string `cbor:"request_id,omitempty"`
	Timestamp int64  `cbor:"timestamp"`
	Payload   any    `cbor:"payload,omitempty"`
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	// Core Deterministic Encoding: sorted keys, shortest integers, no
	// indefinite lengths.
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bridge: CBOR encoder initialization failed: " + err.Error())
	}

	// Payload maps must decode to map[string]any so they convert to JSON.
	// Bignums decode as *big.Int, which marshals to a JSON number.
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		BigIntDec:      cbor.BigIntDecodePointer,
	}.DecMode()
	if err != nil {
		panic("bridge: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec encodes envelopes as CBOR binary frames.
type CBORCodec struct{}

// Subprotocol implements Codec.
func (CBORCodec) Subprotocol() string { return SubprotocolCBOR }

// FrameType implements Codec.
func (CBORCodec) FrameType() int { return websocket.BinaryMessage }

// Encode implements Codec.
func (CBORCodec) Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	w := cborEnvelope{Type: string(e.Type), RequestID: e.RequestID, Timestamp: e.Timestamp}
	if hasPayload(e.Payload) {
		p, err := cborPayload(e.Payload)
		if err != nil {
			return nil, codecErr("payload is not valid JSON", err)
		}
		w.Payload = p
	}

	data, err := cborEnc.Marshal(w)
	if err != nil {
		return nil, codecErr("encoding envelope", err)
	}
	return data, nil
}

// Decode implements Codec. Unknown fields are ignored.
func (CBORCodec) Decode(data []byte) (Envelope, error) {
	var w cborEnvelope
	if err := cborDec.Unmarshal(data, &w); err != nil {
		return Envelope{}, codecErr("malformed envelope", err)
	}

	e := Envelope{Type: Type(w.Type), RequestID: w.RequestID, Timestamp: w.Timestamp}
	if w.Payload != nil {
		p, err := json.Marshal(w.Payload)
		if err != nil {
			return Envelope{}, codecErr("payload has no JSON form", err)
		}
		e.Payload = p
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// cborPayload decodes a JSON payload for CBOR encoding without passing
// numbers through float64. Integers keep every digit, as CBOR integers or
// bignums; only numbers with a fraction or exponent become floats.
func cborPayload(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return exactNumbers(v)
}

func exactNumbers(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			n, err := exactNumbers(item)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
	case []any:
		for i, item := range t {
			n, err := exactNumbers(item)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
	case json.Number:
		return numberValue(t)
	}
	return v, nil
}

func numberValue(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, nil
		}
		if b, ok := new(big.Int).SetString(s, 10); ok {
			return b, nil
		}
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("number %q: %w", s, err)
	}
	return f, nil
}
