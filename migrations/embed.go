// Package migrations embeds the SQL schema of the connector store into the
// binary. Importing it registers the files with the database package.
package migrations

import (
	"embed"

	"github.com/fastybird/fb-bus-connector/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.RegisterMigrations(files)
}
