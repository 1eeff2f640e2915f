// internal/server/handlers/health.go

package handlers

import (
	"context"
	"net/http"
	"time"

	"trendwatch/internal/adapter/storage"
	"trendwatch/internal/service/poll"
)

// Pinger checks that a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSource summarizes the audit log.
type StatsSource interface {
	Stats(ctx context.Context) (storage.Stats, error)
}

// HealthHandler serves the operator endpoints: liveness, readiness and a
// stats snapshot of the poll loops.
type HealthHandler struct {
	db     Pinger
	stats  StatsSource
	status *poll.StatusTracker
	geos   []string
	now    func() time.Time
}

func NewHealthHandler(db Pinger, stats StatsSource, status *poll.StatusTracker, geos []string) *HealthHandler {
	return &HealthHandler{
		db:     db,
		stats:  stats,
		status: status,
		geos:   geos,
		now:    time.Now,
	}
}

// Root answers a bare GET / so load balancers with a default check pass.
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"service": "trendwatch",
		"status":  "running",
	})
}

// Healthz reports liveness. The process is healthy while the database
// answers and at least one geo loop is still succeeding; all loops failing
// means the upstream or our decoding is broken and a restart may help.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if h.db != nil {
		dbOK = h.db.Ping(r.Context()) == nil
	}

	allFailing := len(h.geos) > 0 && h.status.ErrorCount() >= len(h.geos)
	healthy := dbOK && !allFailing

	code := http.StatusOK
	state := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		state = "unhealthy"
	}

	respondWithJSON(w, code, map[string]interface{}{
		"status":         state,
		"database":       dbOK,
		"uptime_seconds": int64(h.status.Uptime(h.now()).Seconds()),
		"geos":           h.status.Snapshot(),
	})
}

// Ready reports readiness: the backing store is reachable and every
// configured geo has completed at least one poll cycle.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			respondWithError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}

	snapshot := h.status.Snapshot()
	for _, geo := range h.geos {
		if snapshot[geo].LastPollAt.IsZero() {
			respondWithError(w, http.StatusServiceUnavailable, "initial poll pending")
			return
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Stats returns the audit-log totals plus the live per-geo poll state.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"uptime_seconds": int64(h.status.Uptime(h.now()).Seconds()),
		"geos":           h.status.Snapshot(),
	}

	if h.stats != nil {
		stats, err := h.stats.Stats(r.Context())
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Failed to read stats")
			return
		}
		payload["events"] = stats
	}

	respondWithJSON(w, http.StatusOK, payload)
}
