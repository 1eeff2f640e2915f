// internal/adapter/notify/webhook.go

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"

	"trendwatch/internal/domain/trend"
	"trendwatch/internal/metrics"
)

// geoNames maps region codes to display names for the message body.
var geoNames = map[string]string{
	"US": "United States",
	"GB": "United Kingdom",
	"ID": "Indonesia",
	"JP": "Japan",
	"BR": "Brazil",
	"DE": "Germany",
}

// DefaultBlockedKeywords drops recurring noise (lottery draws, word-game
// hints, horoscopes) that trends daily in every region and would otherwise
// dominate the channel.
var DefaultBlockedKeywords = []string{
	"powerball", "lottery", "mega millions", "lotto", "jackpot",
	"winning numbers", "lottery results",
	"fanduel", "draftkings", "sportsbook", "betting odds", "casino",
	"wordle", "connections hint", "connections nyt", "quordle",
	"strands hint", "crossword", "spelling bee", "sudoku",
	"horoscope", "zodiac",
}

const (
	colorActive = 0xFF6B35
	colorEnded  = 0x6B7280
)

// WebhookConfig configures the outbound notification channel.
type WebhookConfig struct {
	URL             string
	Timeout         time.Duration
	MaxRetries      int
	BaseDelay       time.Duration
	BlockedKeywords []string
}

// WebhookNotifier delivers one message per new trend to a Discord-style
// webhook. Delivery is best-effort with its own retry policy; a failure is
// logged and absorbed so the poll cycle never stalls on the channel.
type WebhookNotifier struct {
	cfg    WebhookConfig
	http   *http.Client
	logger *logrus.Logger
}

func NewWebhookNotifier(cfg WebhookConfig, httpClient *http.Client, logger *logrus.Logger) *WebhookNotifier {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if cfg.BlockedKeywords == nil {
		cfg.BlockedKeywords = DefaultBlockedKeywords
	}
	return &WebhookNotifier{cfg: cfg, http: httpClient, logger: logger}
}

// webhookError classifies a delivery attempt for the retry policy.
type webhookError struct {
	status     int
	retryAfter time.Duration
	err        error
}

func (e *webhookError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("webhook: %v", e.err)
	}
	return fmt.Sprintf("webhook: status %d", e.status)
}

func (e *webhookError) Unwrap() error { return e.err }

func (e *webhookError) retryable() bool {
	return e.err != nil || e.status == http.StatusTooManyRequests || e.status >= 500
}

// Emit sends the notification for one record. Implements the scheduler's
// sink contract. Filtered titles and exhausted retries both return nil: the
// notifier owns its delivery guarantees and the pipeline moves on.
func (n *WebhookNotifier) Emit(ctx context.Context, rec trend.Record) error {
	if n.isBlocked(rec.Title) {
		metrics.NotificationsSent.WithLabelValues("filtered").Inc()
		n.logger.WithFields(logrus.Fields{
			"geo":   rec.Geo,
			"title": rec.Title,
		}).Info("Notification filtered by keyword blocklist")
		return nil
	}

	if err := n.post(ctx, formatMessage(rec)); err != nil {
		metrics.NotificationsSent.WithLabelValues("failed").Inc()
		n.logger.WithFields(logrus.Fields{
			"geo":   rec.Geo,
			"title": rec.Title,
		}).WithError(err).Error("Notification delivery failed")
		return nil
	}

	metrics.NotificationsSent.WithLabelValues("sent").Inc()
	return nil
}

// SendStartupPing posts a short liveness message so a misconfigured webhook
// shows up at boot instead of on the first trend.
func (n *WebhookNotifier) SendStartupPing(ctx context.Context) error {
	return n.post(ctx, webhookMessage{
		Content: "Trend watcher is online; webhook connection verified.",
	})
}

// post delivers one message, retrying throttles and server errors with
// backoff. A webhook 429 carries its own retry_after hint, which takes
// precedence over the computed delay.
func (n *WebhookNotifier) post(ctx context.Context, msg webhookMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling webhook message: %w", err)
	}

	policy := retrypolicy.NewBuilder[any]().
		WithMaxRetries(n.cfg.MaxRetries).
		HandleIf(func(_ any, err error) bool {
			var werr *webhookError
			return errors.As(err, &werr) && werr.retryable()
		}).
		WithDelayFunc(func(exec failsafe.ExecutionAttempt[any]) time.Duration {
			var werr *webhookError
			if errors.As(exec.LastError(), &werr) && werr.retryAfter > 0 {
				return werr.retryAfter
			}
			delay := n.cfg.BaseDelay
			if delay <= 0 {
				delay = time.Second
			}
			for i := 1; i < exec.Attempts(); i++ {
				delay *= 2
			}
			return delay
		}).
		Build()

	_, err = failsafe.With(policy).WithContext(ctx).Get(func() (any, error) {
		return nil, n.attempt(ctx, body)
	})
	return err
}

func (n *WebhookNotifier) attempt(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return &webhookError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return &webhookError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &webhookError{
			status:     resp.StatusCode,
			retryAfter: parseRetryAfter(resp),
		}
	}
	if resp.StatusCode >= 400 {
		return &webhookError{status: resp.StatusCode}
	}

	return nil
}

// parseRetryAfter reads the webhook's throttle hint from the JSON body
// (seconds, possibly fractional) or the Retry-After header.
func parseRetryAfter(resp *http.Response) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}
	return 0
}

func (n *WebhookNotifier) isBlocked(title string) bool {
	lowered := strings.ToLower(title)
	for _, keyword := range n.cfg.BlockedKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

type webhookMessage struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

// formatMessage builds the notification for one record: a short content
// line for the notification bar plus an embed with the details.
func formatMessage(rec trend.Record) webhookMessage {
	status := "TRENDING"
	color := colorActive
	if !rec.IsActive {
		status = "Ended"
		color = colorEnded
	}

	volume := rec.VolumeLabel
	if rec.GrowthPct != nil {
		volume = fmt.Sprintf("%s (%+d%%)", volume, *rec.GrowthPct)
	}

	var lines []string
	if volume != "" {
		lines = append(lines, fmt.Sprintf("Volume: %s", volume))
	}
	if !rec.StartedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("Started: %s", rec.StartedAt.Format(time.RFC3339)))
	}
	lines = append(lines, fmt.Sprintf("Status: %s", status))

	region := rec.Geo
	if name, ok := geoNames[rec.Geo]; ok {
		region = fmt.Sprintf("%s (%s)", name, rec.Geo)
	}

	return webhookMessage{
		Content: fmt.Sprintf("%s — %s | #%d in %s", rec.Title, status, rec.Rank, rec.Geo),
		Embeds: []embed{{
			Title:       rec.Title,
			Description: strings.Join(lines, "\n"),
			Color:       color,
			Fields: []embedField{
				{Name: "Region", Value: region, Inline: true},
				{Name: "Rank", Value: fmt.Sprintf("#%d", rec.Rank), Inline: true},
				{Name: "Category", Value: fmt.Sprintf("%d", rec.CategoryID), Inline: true},
			},
			Footer:    &embedFooter{Text: "De-duplicated per day"},
			Timestamp: rec.FetchedAt.UTC().Format(time.RFC3339),
		}},
	}
}
