// internal/adapter/storage/audit_store.go

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"trendwatch/internal/domain/trend"
)

// AuditStore is the append-only event log: every record the dedup engine
// judged NEW is written here once, for operators and later inspection. Rows
// are never updated or deleted by the service.
type AuditStore struct {
	db *pgxpool.Pool
}

func NewAuditStore(db *pgxpool.Pool) *AuditStore {
	return &AuditStore{db: db}
}

// Event is one audit row as read back for the operator surface.
type Event struct {
	ID              string     `json:"id"`
	Geo             string     `json:"geo"`
	CategoryID      int        `json:"category_id"`
	Title           string     `json:"title"`
	NormalizedTitle string     `json:"normalized_title"`
	Rank            int        `json:"rank"`
	VolumeLabel     string     `json:"volume_label"`
	GrowthPct       *int       `json:"growth_pct,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	IsActive        bool       `json:"is_active"`
	FetchedAt       time.Time  `json:"fetched_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Stats summarizes the audit log for the health surface.
type Stats struct {
	TotalEvents int64            `json:"total_events"`
	EventsByGeo map[string]int64 `json:"events_by_geo"`
}

// Emit appends one record to the log. Implements the scheduler's sink
// contract.
func (s *AuditStore) Emit(ctx context.Context, rec trend.Record) error {
	query := `
		INSERT INTO trend_events (
			id, geo, category_id, title, normalized_title, rank,
			volume_label, growth_pct, started_at, is_active, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var startedAt *time.Time
	if !rec.StartedAt.IsZero() {
		startedAt = &rec.StartedAt
	}

	_, err := s.db.Exec(
		ctx,
		query,
		uuid.New().String(),
		rec.Geo,
		rec.CategoryID,
		rec.Title,
		trend.NormalizeTitle(rec.Title),
		rec.Rank,
		rec.VolumeLabel,
		rec.GrowthPct,
		startedAt,
		rec.IsActive,
		rec.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting trend event: %w", err)
	}

	return nil
}

// RecentEvents returns the latest events newest first, across all geos when
// geo is empty.
func (s *AuditStore) RecentEvents(ctx context.Context, geo string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, geo, category_id, title, normalized_title, rank,
		       volume_label, growth_pct, started_at, is_active,
		       fetched_at, created_at
		FROM trend_events
		WHERE ($1 = '' OR geo = $1)
		ORDER BY fetched_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, geo, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.Geo,
			&e.CategoryID,
			&e.Title,
			&e.NormalizedTitle,
			&e.Rank,
			&e.VolumeLabel,
			&e.GrowthPct,
			&e.StartedAt,
			&e.IsActive,
			&e.FetchedAt,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	return events, nil
}

// Stats counts logged events overall and per geo.
func (s *AuditStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{EventsByGeo: make(map[string]int64)}

	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM trend_events`).Scan(&stats.TotalEvents); err != nil {
		return Stats{}, fmt.Errorf("counting events: %w", err)
	}

	rows, err := s.db.Query(ctx, `SELECT geo, COUNT(*) FROM trend_events GROUP BY geo`)
	if err != nil {
		return Stats{}, fmt.Errorf("counting events by geo: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var geo string
		var count int64
		if err := rows.Scan(&geo, &count); err != nil {
			return Stats{}, fmt.Errorf("scanning geo count: %w", err)
		}
		stats.EventsByGeo[geo] = count
	}

	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterating geo counts: %w", err)
	}

	return stats, nil
}
