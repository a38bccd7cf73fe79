// Package cloudbus connects the bridge session manager to the cloud MQTT
// broker.
//
// Outbound, a Bus is registered as a bridge.Observer and republishes
// gateway presence and reported state as retained messages. Inbound, it
// subscribes to the command ingress topic, forwards each command to the
// addressed gateway and publishes the outcome on the reply topic.
//
// Ingress messages look like:
//
//	{"request_id": "caller-42", "payload": {"entity_id": "light.hall", "command": "turn_on"}, "timeout_ms": 5000}
//
// request_id is optional; when present it names the reply topic so the
// caller can subscribe before publishing. Otherwise the relay's own request
// id is used.
package cloudbus
