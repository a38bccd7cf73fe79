// Package pairing issues and redeems the short numeric codes that bind a
// new gateway to a home.
//
// An admin of a home requests a code through the API and types it into the
// gateway's local setup screen. The gateway redeems it once, over TLS, and
// receives its long-term identity (gateway ID and secret) in the response.
// A code is valid only while it is unconsumed and unexpired; both states
// are terminal.
package pairing
