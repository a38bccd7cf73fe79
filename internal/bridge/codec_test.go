package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

func sampleEnvelopes() []Envelope {
	return []Envelope{
		{Type: TypePing, Timestamp: 1767225600},
		{Type: TypePong, Timestamp: 1767225600},
		{Type: TypeCommand, RequestID: "5b0b6c1e-8d6a-4a53-9d0e-2f3c1c9a7e10", Timestamp: 1767225601,
			Payload: json.RawMessage(`{"turn_on":"lamp1"}`)},
		{Type: TypeAck, RequestID: "5b0b6c1e-8d6a-4a53-9d0e-2f3c1c9a7e10", Timestamp: 1767225602,
			Payload: json.RawMessage(`{"status":"ok","level":75}`)},
		{Type: TypeAck, RequestID: "c3d0", Timestamp: 1767225602},
		{Type: TypeState, Timestamp: 1767225603,
			Payload: json.RawMessage(`{"entities":{"light.kitchen":{"on":true,"brightness":0.5}}}`)},
		{Type: TypeSync, Timestamp: 1767225604,
			Payload: json.RawMessage(`{"home":{"name":"Lake House"},"entities":[{"id":"light.kitchen"}]}`)},
		{Type: TypeState, RequestID: "e1f2", Timestamp: 1767225605,
			Payload: json.RawMessage(`{"energy_wh":9007199254740993,"serial":12345678901234567891}`)},
	}
}

// TestCBORCodec_ExactNumbers checks payload numbers byte for byte. Payloads
// are opaque, so no integer may lose digits on the way through CBOR.
func TestCBORCodec_ExactNumbers(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"above 2^53", `{"id":9007199254740993}`},
		{"above int64", `{"id":12345678901234567891}`},
		{"max uint64", `{"id":18446744073709551615}`},
		{"bignum", `{"id":123456789012345678901234567890}`},
		{"below int64", `{"id":-9223372036854775809}`},
		{"negative bignum", `{"id":-123456789012345678901234567890}`},
		{"nested", `{"readings":[1,-2,3.25,{"counter":9007199254740995}]}`},
		{"fraction", `{"level":0.1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := Envelope{Type: TypeCommand, RequestID: "R1", Timestamp: 1, Payload: json.RawMessage(tt.payload)}
			data, err := CBORCodec{}.Encode(want)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := CBORCodec{}.Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if string(got.Payload) != tt.payload {
				t.Errorf("payload = %s, want %s", got.Payload, tt.payload)
			}
		})
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, CBORCodec{}} {
		for _, want := range sampleEnvelopes() {
			t.Run(codec.Subprotocol()+"/"+string(want.Type), func(t *testing.T) {
				data, err := codec.Encode(want)
				if err != nil {
					t.Fatalf("Encode() error = %v", err)
				}
				got, err := codec.Decode(data)
				if err != nil {
					t.Fatalf("Decode() error = %v", err)
				}

				if got.Type != want.Type || got.RequestID != want.RequestID || got.Timestamp != want.Timestamp {
					t.Errorf("Decode(Encode(e)) = %+v, want %+v", got, want)
				}
				if (len(got.Payload) == 0) != (len(want.Payload) == 0) {
					t.Fatalf("payload presence: got %s, want %s", got.Payload, want.Payload)
				}
				if len(want.Payload) > 0 && !jsonEqual(t, got.Payload, want.Payload) {
					t.Errorf("payload = %s, want %s", got.Payload, want.Payload)
				}
			})
		}
	}
}

func TestJSONCodec_WireShape(t *testing.T) {
	data, err := JSONCodec{}.Encode(Envelope{
		Type: TypeCommand, RequestID: "R1", Timestamp: 42,
		Payload: json.RawMessage(`{"turn_on":"lamp1"}`),
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := `{"type":"command","request_id":"R1","timestamp":42,"payload":{"turn_on":"lamp1"}}`
	if string(data) != want {
		t.Errorf("Encode() = %s, want %s", data, want)
	}

	ping, _ := JSONCodec{}.Encode(Envelope{Type: TypePing, Timestamp: 7}) //nolint:errcheck // valid envelope
	if string(ping) != `{"type":"ping","timestamp":7}` {
		t.Errorf("ping = %s, want request_id and payload omitted", ping)
	}
}

func TestJSONCodec_DecodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `hello`},
		{"missing type", `{"timestamp":1,"payload":{}}`},
		{"unknown type", `{"type":"reboot","timestamp":1}`},
		{"command without request id", `{"type":"command","timestamp":1,"payload":{"a":1}}`},
		{"command without payload", `{"type":"command","request_id":"R1","timestamp":1}`},
		{"command with array payload", `{"type":"command","request_id":"R1","timestamp":1,"payload":[1,2]}`},
		{"ack without request id", `{"type":"ack","timestamp":1,"payload":{}}`},
		{"ack with string payload", `{"type":"ack","request_id":"R1","timestamp":1,"payload":"ok"}`},
		{"state with null payload", `{"type":"state","timestamp":1,"payload":null}`},
		{"sync with number payload", `{"type":"sync","timestamp":1,"payload":3}`},
		{"timestamp not a number", `{"type":"ping","timestamp":"now"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := JSONCodec{}.Decode([]byte(tt.frame))
			if !errors.Is(err, ErrProtocol) {
				t.Fatalf("Decode() error = %v, want ErrProtocol", err)
			}
			var ce *CodecError
			if !errors.As(err, &ce) || ce.Reason == "" {
				t.Errorf("Decode() error = %v, want *CodecError with a reason", err)
			}
		})
	}
}

func TestJSONCodec_IgnoresUnknownFields(t *testing.T) {
	env, err := JSONCodec{}.Decode([]byte(`{"type":"ping","timestamp":5,"firmware":"2.4.1","extra":{"x":1}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.Type != TypePing || env.Timestamp != 5 {
		t.Errorf("Decode() = %+v", env)
	}
}

func TestJSONCodec_AckNullPayload(t *testing.T) {
	env, err := JSONCodec{}.Decode([]byte(`{"type":"ack","request_id":"R1","timestamp":1,"payload":null}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.Payload != nil {
		t.Errorf("Payload = %s, want nil for null", env.Payload)
	}
}

func TestEncodeRejectsInvalidEnvelope(t *testing.T) {
	bad := Envelope{Type: TypeCommand, RequestID: "R1", Payload: json.RawMessage(`"lamp"`)}
	for _, codec := range []Codec{JSONCodec{}, CBORCodec{}} {
		if _, err := codec.Encode(bad); !errors.Is(err, ErrProtocol) {
			t.Errorf("%s Encode() error = %v, want ErrProtocol", codec.Subprotocol(), err)
		}
	}
}

func TestCBORCodec_Deterministic(t *testing.T) {
	env := Envelope{Type: TypeState, Timestamp: 9, Payload: json.RawMessage(`{"b":1,"a":{"z":true,"y":"x"}}`)}
	first, err := CBORCodec{}.Encode(env)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	reordered := env
	reordered.Payload = json.RawMessage(`{"a":{"y":"x","z":true},"b":1}`)
	second, err := CBORCodec{}.Encode(reordered)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("equal payloads with different key order encoded differently")
	}
}

func TestCBORCodec_DecodeRejects(t *testing.T) {
	missingType := mustCBOR(t, map[string]any{"timestamp": 1})
	arrayPayload := mustCBOR(t, map[string]any{"type": "state", "payload": []int{1}})

	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte{0xff, 0x00, 0x13}},
		{"missing type", missingType},
		{"array payload", arrayPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := (CBORCodec{}).Decode(tt.data); !errors.Is(err, ErrProtocol) {
				t.Errorf("Decode() error = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestCodecFor(t *testing.T) {
	tests := []struct {
		subprotocol string
		want        string
		frame       int
	}{
		{"", SubprotocolJSON, websocket.TextMessage},
		{SubprotocolJSON, SubprotocolJSON, websocket.TextMessage},
		{SubprotocolCBOR, SubprotocolCBOR, websocket.BinaryMessage},
		{"graylogic.bridge.v9+xml", SubprotocolJSON, websocket.TextMessage},
	}
	for _, tt := range tests {
		c := CodecFor(tt.subprotocol)
		if c.Subprotocol() != tt.want || c.FrameType() != tt.frame {
			t.Errorf("CodecFor(%q) = %s/%d, want %s/%d", tt.subprotocol, c.Subprotocol(), c.FrameType(), tt.want, tt.frame)
		}
	}
}

func mustCBOR(t *testing.T, v any) []byte {
	t.Helper()
	data, err := cbor.Marshal(v)
	if err != nil {
		t.Fatalf("cbor.Marshal() error = %v", err)
	}
	return data
}
