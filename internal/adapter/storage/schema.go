// internal/adapter/storage/schema.go

package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// EnsureSchema creates the tables and indexes the stores rely on. Idempotent;
// runs once at startup before any poller starts.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trend_events (
			id UUID PRIMARY KEY,
			geo TEXT NOT NULL,
			category_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			normalized_title TEXT NOT NULL,
			rank INTEGER NOT NULL,
			volume_label TEXT NOT NULL DEFAULT '',
			growth_pct INTEGER,
			started_at TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			fetched_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trend_events_geo_fetched
			ON trend_events (geo, fetched_at DESC)`,
		`CREATE TABLE IF NOT EXISTS dedup_keys (
			geo TEXT NOT NULL,
			category_id INTEGER NOT NULL,
			day_key TEXT NOT NULL,
			identity TEXT NOT NULL,
			first_seen_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (geo, category_id, day_key, identity)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dedup_keys_expires
			ON dedup_keys (expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}

	return nil
}
