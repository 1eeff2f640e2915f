// internal/service/poll/status.go

package poll

import (
	"sync"
	"time"
)

// GeoStatus is the last observed poll outcome for one geo.
type GeoStatus struct {
	LastPollAt time.Time `json:"last_poll_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// StatusTracker records per-geo poll outcomes for the health surface. It is
// written by every scheduler loop and read by HTTP handlers, so access is
// lock-guarded.
type StatusTracker struct {
	mu        sync.RWMutex
	startedAt time.Time
	geos      map[string]GeoStatus
}

func NewStatusTracker(startedAt time.Time) *StatusTracker {
	return &StatusTracker{startedAt: startedAt, geos: make(map[string]GeoStatus)}
}

// RecordPoll stores the outcome of one completed cycle. A successful cycle
// clears any previous error for the geo.
func (t *StatusTracker) RecordPoll(geo string, at time.Time, pollErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := GeoStatus{LastPollAt: at}
	if pollErr != nil {
		status.LastError = pollErr.Error()
	}
	t.geos[geo] = status
}

// Snapshot returns a copy of the current per-geo state.
func (t *StatusTracker) Snapshot() map[string]GeoStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]GeoStatus, len(t.geos))
	for geo, status := range t.geos {
		out[geo] = status
	}
	return out
}

// ErrorCount reports how many geos are currently failing.
func (t *StatusTracker) ErrorCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, status := range t.geos {
		if status.LastError != "" {
			count++
		}
	}
	return count
}

// Uptime reports how long the process has been polling.
func (t *StatusTracker) Uptime(now time.Time) time.Duration {
	return now.Sub(t.startedAt)
}
