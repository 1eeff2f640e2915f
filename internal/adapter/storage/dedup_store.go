// internal/adapter/storage/dedup_store.go

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"trendwatch/internal/service/dedup"
)

// DedupStore backs the dedup engine with Postgres, so the
// at-most-one-NEW-per-key-per-day decision survives restarts and can be
// shared by more than one process. The table's primary key is the dedup key;
// the database arbitrates concurrent inserts.
type DedupStore struct {
	db *pgxpool.Pool
}

func NewDedupStore(db *pgxpool.Pool) *DedupStore {
	return &DedupStore{db: db}
}

// PutIfAbsent inserts the entry unless a live one holds the key. The
// conditional upsert makes "expired occupant counts as absent" atomic in the
// same statement: the row is taken over exactly when its expires_at is not
// after the candidate's first_seen_at.
func (s *DedupStore) PutIfAbsent(ctx context.Context, key dedup.Key, entry dedup.Entry) (bool, error) {
	query := `
		INSERT INTO dedup_keys (geo, category_id, day_key, identity, first_seen_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (geo, category_id, day_key, identity) DO UPDATE
		SET first_seen_at = EXCLUDED.first_seen_at,
		    expires_at = EXCLUDED.expires_at
		WHERE dedup_keys.expires_at <= EXCLUDED.first_seen_at
	`

	tag, err := s.db.Exec(
		ctx,
		query,
		key.Geo,
		key.CategoryID,
		key.DayKey,
		key.Identity,
		entry.FirstSeenAt,
		entry.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting dedup key: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Sweep deletes entries expired as of now.
func (s *DedupStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM dedup_keys WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweeping dedup keys: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
