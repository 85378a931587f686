// Package migrations embeds the catalog's SQLite schema and applies it with
// goose, the migration runner tonimelisma/onedrive-go uses for its own sync
// database.
package migrations

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var schema embed.FS

// Apply brings db up to the latest embedded migration version.
func Apply(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, schema)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}
