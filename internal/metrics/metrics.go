// internal/metrics/metrics.go

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollsTotal counts completed poll cycles per geo and outcome
	// (ok, fetch_failed, decode_failed).
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendwatch_polls_total",
		Help: "Completed poll cycles by geo and outcome.",
	}, []string{"geo", "outcome"})

	// FetchFailures counts classified fetch failures that escaped the
	// client's retry budget.
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendwatch_fetch_failures_total",
		Help: "Fetch failures by geo and failure class.",
	}, []string{"geo", "class"})

	// RecordsDecoded counts records recovered from payloads.
	RecordsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendwatch_records_decoded_total",
		Help: "Trend records decoded from payloads, by geo.",
	}, []string{"geo"})

	// RecordsSkipped counts per-record decode skips (malformed entries).
	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendwatch_records_skipped_total",
		Help: "Wire entries skipped as unparsable, by geo.",
	}, []string{"geo"})

	// RecordsNew counts records the dedup engine judged NEW.
	RecordsNew = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendwatch_records_new_total",
		Help: "Records judged new for their day bucket, by geo.",
	}, []string{"geo"})

	// NotificationsSent counts webhook notifications by outcome
	// (sent, filtered, failed).
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendwatch_notifications_total",
		Help: "Webhook notifications by outcome.",
	}, []string{"outcome"})

	// DedupSweeps counts entries removed by dedup store sweeps.
	DedupSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendwatch_dedup_swept_entries_total",
		Help: "Expired dedup entries removed by sweeps.",
	})
)
