package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedOptions struct {
	// Settings are inserted only when the key is absent, so a value changed
	// from the dashboard survives restarts.
	Settings map[string]string
}

// Seed writes startup defaults into an opened database.
func Seed(ctx context.Context, db *sql.DB, opt SeedOptions) error {
	now := time.Now().UTC().UnixMilli()

	for k, v := range opt.Settings {
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO settings(key, value, updated_at_ms)
VALUES (?, ?, ?);`, k, v, now); err != nil {
			return fmt.Errorf("seed setting %s: %w", k, err)
		}
	}

	return nil
}
