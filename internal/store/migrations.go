package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Execer is satisfied by *sql.DB, *sql.Tx and *sqlx.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// migrations are portable between sqlite and postgres.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS added_apps (
		domain TEXT PRIMARY KEY,
		url TEXT NOT NULL DEFAULT '',
		added_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_added_apps_added_at ON added_apps(added_at)`,
}

// Migrate applies the schema. It is idempotent.
func Migrate(ctx context.Context, db Execer) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
