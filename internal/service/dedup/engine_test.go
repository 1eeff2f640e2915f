// internal/service/dedup/engine_test.go

package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trendwatch/internal/domain/trend"
)

func record(title, geo string) trend.Record {
	return trend.Record{Title: title, Geo: geo, CategoryID: 6, Rank: 1}
}

func TestCheckAndMarkFirstNewThenSeen(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), time.UTC, 2*time.Hour)
	now := time.Date(2024, 11, 20, 10, 0, 0, 0, time.UTC)

	rec := record("Elden Ring", "US")

	isNew, err := engine.CheckAndMark(context.Background(), rec, now)
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = engine.CheckAndMark(context.Background(), rec, now.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, isNew)
}

func TestCheckAndMarkResetsAtDayBoundary(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), time.UTC, 2*time.Hour)
	rec := record("Silksong", "GB")

	dayD := time.Date(2024, 11, 20, 23, 0, 0, 0, time.UTC)
	dayD1 := time.Date(2024, 11, 21, 1, 0, 0, 0, time.UTC)

	isNew, err := engine.CheckAndMark(context.Background(), rec, dayD)
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = engine.CheckAndMark(context.Background(), rec, dayD1)
	require.NoError(t, err)
	require.True(t, isNew, "a key seen on day D is NEW again on day D+1")
}

func TestDayBucketsUseReferenceZoneNotHostZone(t *testing.T) {
	// UTC+9: 16:00 and 23:00 UTC land on different local days.
	ref := time.FixedZone("UTC+9", 9*3600)
	engine := NewEngine(NewMemoryStore(), ref, 0)
	rec := record("Persona 6", "ID")

	first := time.Date(2024, 11, 20, 10, 0, 0, 0, time.UTC)  // Nov 20 19:00 ref
	second := time.Date(2024, 11, 20, 16, 0, 0, 0, time.UTC) // Nov 21 01:00 ref

	require.Equal(t, "2024-11-20", engine.DayKey(first))
	require.Equal(t, "2024-11-21", engine.DayKey(second))

	isNew, err := engine.CheckAndMark(context.Background(), rec, first)
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = engine.CheckAndMark(context.Background(), rec, second)
	require.NoError(t, err)
	require.True(t, isNew, "same UTC day but a new day in the reference zone")
}

func TestCheckAndMarkKeysAreGeoQualified(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), time.UTC, time.Hour)
	now := time.Date(2024, 11, 20, 10, 0, 0, 0, time.UTC)

	isNew, err := engine.CheckAndMark(context.Background(), record("Cross Region Hit", "US"), now)
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = engine.CheckAndMark(context.Background(), record("Cross Region Hit", "GB"), now)
	require.NoError(t, err)
	require.True(t, isNew, "the same title in another geo is a distinct key")
}

func TestCheckAndMarkIdentityFallsBackToNormalizedTitle(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), time.UTC, time.Hour)
	now := time.Date(2024, 11, 20, 10, 0, 0, 0, time.UTC)

	isNew, err := engine.CheckAndMark(context.Background(), record("Hollow  Knight", "US"), now)
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = engine.CheckAndMark(context.Background(), record("HOLLOW KNIGHT", "US"), now)
	require.NoError(t, err)
	require.False(t, isNew, "case and spacing variants share one identity")
}

func TestCheckAndMarkAtMostOneNewUnderConcurrency(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), time.UTC, time.Hour)
	now := time.Date(2024, 11, 20, 10, 0, 0, 0, time.UTC)
	rec := record("Race Me", "US")

	const callers = 32
	var wg sync.WaitGroup
	results := make(chan bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			isNew, err := engine.CheckAndMark(context.Background(), rec, now)
			require.NoError(t, err)
			results <- isNew
		}()
	}
	wg.Wait()
	close(results)

	newCount := 0
	for isNew := range results {
		if isNew {
			newCount++
		}
	}
	require.Equal(t, 1, newCount)
}

func TestExpiredEntryTreatedAsAbsent(t *testing.T) {
	store := NewMemoryStore()
	key := Key{Geo: "US", CategoryID: 6, DayKey: "2024-11-20", Identity: "stale"}

	now := time.Date(2024, 11, 20, 10, 0, 0, 0, time.UTC)
	inserted, err := store.PutIfAbsent(context.Background(), key, Entry{
		FirstSeenAt: now.Add(-48 * time.Hour),
		ExpiresAt:   now.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.PutIfAbsent(context.Background(), key, Entry{
		FirstSeenAt: now,
		ExpiresAt:   now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	require.True(t, inserted, "an expired occupant counts as absent")
}

func TestSweepRemovesOnlyExpiredEntries(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 11, 20, 10, 0, 0, 0, time.UTC)

	live := Key{Geo: "US", CategoryID: 6, DayKey: "2024-11-20", Identity: "live"}
	stale := Key{Geo: "US", CategoryID: 6, DayKey: "2024-11-18", Identity: "stale"}

	_, err := store.PutIfAbsent(context.Background(), live, Entry{FirstSeenAt: now, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)
	_, err = store.PutIfAbsent(context.Background(), stale, Entry{FirstSeenAt: now.Add(-40 * time.Hour), ExpiresAt: now.Add(-time.Minute)})
	require.NoError(t, err)

	removed, err := store.Sweep(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, 1, store.Len())
}

func TestEntryExpiryIncludesGraceMargin(t *testing.T) {
	store := NewMemoryStore()
	grace := 2 * time.Hour
	engine := NewEngine(store, time.UTC, grace)

	now := time.Date(2024, 11, 20, 23, 50, 0, 0, time.UTC)
	isNew, err := engine.CheckAndMark(context.Background(), record("Night Owl", "US"), now)
	require.NoError(t, err)
	require.True(t, isNew)

	// Just past midnight the old day's entry is still physically live, but
	// the new day bucket makes the key NEW regardless.
	afterMidnight := time.Date(2024, 11, 21, 0, 10, 0, 0, time.UTC)
	isNew, err = engine.CheckAndMark(context.Background(), record("Night Owl", "US"), afterMidnight)
	require.NoError(t, err)
	require.True(t, isNew)

	// The day-D entry survives the sweep until end of day + grace.
	removed, err := engine.Sweep(context.Background(), afterMidnight)
	require.NoError(t, err)
	require.Zero(t, removed)

	removed, err = engine.Sweep(context.Background(), time.Date(2024, 11, 21, 2, 10, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}
