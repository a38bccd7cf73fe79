// Package audit records security-relevant relay activity in the audit_logs
// table: pairing codes issued and redeemed, gateways revoked and rejected
// bridge logins.
//
// Writes go through a Recorder, which queues entries on a bounded channel
// and persists them from a single goroutine so request handlers and
// session loops never wait on SQLite. When the queue is full the entry is
// dropped and a warning is logged.
package audit
