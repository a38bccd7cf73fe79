// Package migrations embeds the relay's SQL schema into the binary.
//
// Importing this package registers the files with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/database"
)

// FS holds every *.up.sql and *.down.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS

func init() {
	database.RegisterMigrations(FS, ".")
}
