// Package gateway is the registry of paired edge gateways.
//
// A gateway record is minted when a pairing code is completed, starts in
// the pending state, becomes active on its first authenticated bridge
// connection and is revoked by status change rather than deletion. The
// registry also owns gateway credential checks: secrets are stored as
// argon2id hashes and unknown identities cost the same to reject as wrong
// secrets.
package gateway
