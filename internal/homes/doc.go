// Package homes keeps the cloud-side copy of each home's metadata.
//
// Gateways push a full snapshot of their home (name, timezone, entities,
// scenes, automations and locations) in sync envelopes. The Store replaces
// the stored copy wholesale on every sync, so the relay can answer
// "what is in this home" while the gateway is offline.
//
// The relay never interprets item contents: each item is kept as the JSON
// object the gateway sent, indexed by its id.
package homes
