// internal/service/dedup/engine.go

package dedup

import (
	"context"
	"time"

	"trendwatch/internal/domain/trend"
)

// Key identifies one trend for "seen today" purposes. DayKey is a calendar
// date in the engine's reference time zone, never the host zone, so every
// geo loop agrees on where a day ends regardless of where the process runs.
type Key struct {
	Geo        string
	CategoryID int
	DayKey     string
	Identity   string
}

// Entry records a NEW decision. The entry stays authoritative until
// ExpiresAt; after that it is treated as absent wherever it still physically
// exists, so removal is purely a storage-size concern.
type Entry struct {
	FirstSeenAt time.Time
	ExpiresAt   time.Time
}

// Store is the shared backing store for dedup decisions. PutIfAbsent must be
// atomic per key: of two concurrent calls with the same key, exactly one may
// return true. An entry whose ExpiresAt is not after the candidate's
// FirstSeenAt counts as absent.
type Store interface {
	PutIfAbsent(ctx context.Context, key Key, entry Entry) (bool, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Engine decides NEW vs SEEN for decoded records. It reads the clock only
// through the timestamps callers pass in, which keeps day-boundary behavior
// fully deterministic under test.
type Engine struct {
	store Store
	loc   *time.Location
	grace time.Duration
}

// NewEngine creates a dedup engine bucketing days in the given reference
// zone, with entries kept for a grace margin past the end of their day to
// absorb clock skew and late duplicate polls around midnight.
func NewEngine(store Store, loc *time.Location, grace time.Duration) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{store: store, loc: loc, grace: grace}
}

// CheckAndMark returns true exactly once per key per day bucket: the first
// caller to present a key on a given day gets NEW and the decision is
// recorded atomically; everyone after gets SEEN.
func (e *Engine) CheckAndMark(ctx context.Context, rec trend.Record, now time.Time) (bool, error) {
	key := Key{
		Geo:        rec.Geo,
		CategoryID: rec.CategoryID,
		DayKey:     e.DayKey(now),
		Identity:   rec.Identity(),
	}

	entry := Entry{
		FirstSeenAt: now,
		ExpiresAt:   e.endOfDay(now).Add(e.grace),
	}

	return e.store.PutIfAbsent(ctx, key, entry)
}

// Sweep removes expired entries from the backing store. Best-effort: dedup
// correctness never depends on it running.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (int, error) {
	return e.store.Sweep(ctx, now)
}

// DayKey formats the calendar date of t in the reference zone.
func (e *Engine) DayKey(t time.Time) string {
	return t.In(e.loc).Format("2006-01-02")
}

// endOfDay returns midnight following t in the reference zone.
func (e *Engine) endOfDay(t time.Time) time.Time {
	local := t.In(e.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc).AddDate(0, 0, 1)
}
