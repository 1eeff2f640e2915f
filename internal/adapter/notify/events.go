// internal/adapter/notify/events.go

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"trendwatch/internal/domain/trend"
)

// EventPublisher fans new-trend events out on the message bus so other
// consumers (the websocket feed, downstream jobs) see them without touching
// the database.
type EventPublisher struct {
	conn  *nats.Conn
	topic string
}

// trendEvent is the wire shape published per new trend.
type trendEvent struct {
	Title       string    `json:"title"`
	EntityID    string    `json:"entityId,omitempty"`
	Geo         string    `json:"geo"`
	CategoryID  int       `json:"categoryId"`
	Rank        int       `json:"rank"`
	VolumeLabel string    `json:"volumeLabel,omitempty"`
	GrowthPct   *int      `json:"growthPct,omitempty"`
	IsActive    bool      `json:"isActive"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

func NewEventPublisher(conn *nats.Conn, topic string) *EventPublisher {
	if topic == "" {
		topic = "trends"
	}
	return &EventPublisher{conn: conn, topic: topic}
}

// Emit publishes the record on "<topic>.detected.<geo>", so subscribers can
// take the whole feed or a single region.
func (p *EventPublisher) Emit(_ context.Context, rec trend.Record) error {
	data, err := json.Marshal(trendEvent{
		Title:       rec.Title,
		EntityID:    rec.EntityID,
		Geo:         rec.Geo,
		CategoryID:  rec.CategoryID,
		Rank:        rec.Rank,
		VolumeLabel: rec.VolumeLabel,
		GrowthPct:   rec.GrowthPct,
		IsActive:    rec.IsActive,
		FetchedAt:   rec.FetchedAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling trend event: %w", err)
	}

	subject := fmt.Sprintf("%s.detected.%s", p.topic, strings.ToLower(rec.Geo))
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing trend event: %w", err)
	}
	return nil
}

// DetectedSubject is the wildcard subject covering every region's events.
func (p *EventPublisher) DetectedSubject() string {
	return p.topic + ".detected.*"
}
