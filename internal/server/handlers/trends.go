// internal/server/handlers/trends.go

package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"trendwatch/internal/adapter/storage"
)

// EventLister reads back recent audit-log entries.
type EventLister interface {
	RecentEvents(ctx context.Context, geo string, limit int) ([]storage.Event, error)
}

// TrendsHandler serves read access to detected trends.
type TrendsHandler struct {
	events EventLister
}

func NewTrendsHandler(events EventLister) *TrendsHandler {
	return &TrendsHandler{events: events}
}

// GetRecent returns the most recently detected trends, optionally narrowed
// to one geo with ?geo=US. ?limit= caps the page size.
func (h *TrendsHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	geo := strings.ToUpper(r.URL.Query().Get("geo"))

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	events, err := h.events.RecentEvents(r.Context(), geo, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get trends")
		return
	}
	if events == nil {
		events = []storage.Event{}
	}

	respondWithJSON(w, http.StatusOK, events)
}
