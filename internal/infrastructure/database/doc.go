// Package database owns the relay's SQLite file.
//
// One file holds gateway records, pairing codes, home permissions, synced
// home metadata and the audit trail. Open enables WAL and foreign keys and
// limits the pool to a single connection, so every write transaction is
// serialised without busy retries. Pairing redemption relies on that.
//
// Schema changes are embedded by the migrations package and applied with
// Migrate. Files are named YYYYMMDD_HHMMSS_name.up.sql with an optional
// .down.sql partner, and are only ever added, never edited.
package database
