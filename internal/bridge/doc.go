// Package bridge terminates the long-lived WebSocket sessions that gateways
// open to the relay and relays commands over them.
//
// A gateway dials the bridge endpoint with its ID and secret. The Manager
// authenticates it against the gateway registry and registers a Session in
// a table keyed by gateway ID. A second connection for the same gateway
// supersedes the first.
//
// Each session has one read goroutine (the session loop) and one write
// goroutine. Cloud-side callers submit commands with Send, which only
// enqueues onto the session's bounded write queue, and wait for the
// gateway's reply with AwaitAck, which always honours a timeout.
//
// Envelopes are exchanged as JSON text frames by default. A gateway that
// offers the graylogic.bridge.v1+cbor subprotocol gets CBOR binary frames
// instead; both carry the same fields.
//
// Liveness: gateways ping every heartbeat interval. A session that stays
// silent for HeartbeatInterval × HeartbeatMisses is closed and every caller
// waiting on it fails with ErrNotConnected straight away.
package bridge
