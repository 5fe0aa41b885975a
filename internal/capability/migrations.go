package capability

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// migrationsFS embeds the history schema's goose migrations, grounded on
// the source's own CREATE TABLE IF NOT EXISTS-at-connect-time pattern
// (e.g. database_optimizer.py's performance.query_performance setup),
// generalized into a proper versioned migration instead of a statement
// re-run on every connect.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies any pending history-schema migrations against db,
// which must already be opened through NewSQLStorageFromDSN's pgx
// driver (or any database/sql driver goose supports). Intended to run
// once at process startup (cmd/controlplane), before the Storage
// capability serves traffic.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
