// internal/service/dedup/memory_store.go

package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-node Store: a mutex-guarded map giving the
// insert-if-absent primitive the engine's at-most-one-NEW guarantee rests
// on. All geo loops share one instance.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Key]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]Entry)}
}

// PutIfAbsent inserts the entry unless a live one already holds the key.
// An expired occupant is replaced as if it were never there.
func (s *MemoryStore) PutIfAbsent(_ context.Context, key Key, entry Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && existing.ExpiresAt.After(entry.FirstSeenAt) {
		return false, nil
	}

	s.entries[key] = entry
	return true, nil
}

// Sweep evicts entries expired as of now and reports how many were removed.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if !entry.ExpiresAt.After(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries, live or expired.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
