// internal/service/fetch/client.go

package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
)

// rpcID is the batch-RPC method for the trending list. The request and
// response shapes around it are a compatibility contract with the external
// service, not a documented API.
const rpcID = "i0OFE"

const antiJSONPrefix = ")]}'"

// defaultUserAgent presents a normal browser-like client; the endpoint
// rejects obviously programmatic agents.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

const maxBodyBytes = 10 << 20

// Class classifies a fetch failure. Transient and rate-limited failures are
// retried inside the call; malformed and fatal failures surface immediately
// and the scheduler decides what to do with the cycle.
type Class int

const (
	ClassTransient Class = iota
	ClassRateLimited
	ClassMalformed
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient_network"
	case ClassRateLimited:
		return "rate_limited"
	case ClassMalformed:
		return "malformed_response"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Failure is a classified fetch error.
type Failure struct {
	Class Class
	Geo   string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", f.Geo, f.Class, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// ClassOf extracts the failure class from an error chain, defaulting to
// transient for unclassified errors.
func ClassOf(err error) Class {
	var f *Failure
	if errors.As(err, &f) {
		return f.Class
	}
	return ClassTransient
}

// Payload is a successfully fetched raw response body. RateLimited reports
// whether any attempt during the call was throttled, even when a later
// attempt succeeded, so the scheduler can still widen its next interval.
type Payload struct {
	Body        []byte
	RateLimited bool
}

// Config holds the request parameters and retry budget for the client.
type Config struct {
	Endpoint    string
	CategoryID  int
	WindowHours int
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Client issues the batch-RPC request for a (geo, category, window) tuple.
// The endpoint is stateless per call; the client keeps no per-call mutable
// state, so one instance is safe to share across concurrent geo loops.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *logrus.Logger
}

// NewClient creates a fetch client. httpClient may carry its own timeout;
// callers pass nil to get a default 30s one.
func NewClient(cfg Config, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// Fetch retrieves the raw trending payload for a geo. Transient and
// rate-limited failures are retried with exponential backoff and full
// jitter up to the configured budget; anything else comes back classified
// on the first occurrence.
func (c *Client) Fetch(ctx context.Context, geo string) (*Payload, error) {
	throttled := false

	policy := retrypolicy.NewBuilder[[]byte]().
		WithMaxRetries(c.cfg.MaxRetries).
		HandleIf(func(_ []byte, err error) bool {
			return retryable(err)
		}).
		WithDelayFunc(func(exec failsafe.ExecutionAttempt[[]byte]) time.Duration {
			return fullJitter(c.cfg.BaseDelay, c.cfg.MaxDelay, exec.Attempts())
		}).
		Build()

	body, err := failsafe.With(policy).WithContext(ctx).Get(func() ([]byte, error) {
		data, attemptErr := c.attempt(ctx, geo)
		if attemptErr != nil {
			if ClassOf(attemptErr) == ClassRateLimited {
				throttled = true
			}
			c.logger.WithFields(logrus.Fields{
				"geo":   geo,
				"class": ClassOf(attemptErr).String(),
			}).WithError(attemptErr).Debug("Fetch attempt failed")
		}
		return data, attemptErr
	})
	if err != nil {
		var f *Failure
		if errors.As(err, &f) {
			return nil, err
		}
		// Context cancellation and other executor-level errors.
		return nil, &Failure{Class: ClassTransient, Geo: geo, Err: err}
	}

	return &Payload{Body: body, RateLimited: throttled}, nil
}

// attempt performs a single request/response round trip and classifies the
// outcome.
func (c *Client) attempt(ctx context.Context, geo string) ([]byte, error) {
	req, err := c.buildRequest(ctx, geo)
	if err != nil {
		return nil, &Failure{Class: ClassFatal, Geo: geo, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Failure{Class: ClassTransient, Geo: geo, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Failure{Class: ClassRateLimited, Geo: geo, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return nil, &Failure{Class: ClassTransient, Geo: geo, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &Failure{Class: ClassFatal, Geo: geo, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Failure{Class: ClassTransient, Geo: geo, Err: fmt.Errorf("reading body: %w", err)}
	}

	if isThrottleEnvelope(body) {
		return nil, &Failure{Class: ClassRateLimited, Geo: geo, Err: errors.New("throttle envelope in body")}
	}

	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte(antiJSONPrefix)) {
		return nil, &Failure{Class: ClassMalformed, Geo: geo, Err: errors.New("body missing anti-JSON prefix")}
	}

	return body, nil
}

// buildRequest assembles the form-encoded batch-RPC envelope:
// f.req=[[["i0OFE","<inner>",null,"generic"]]] with the inner request
// [null,null,geo,category,windowHours] serialized as a JSON string.
func (c *Client) buildRequest(ctx context.Context, geo string) (*http.Request, error) {
	inner, err := json.Marshal([]any{nil, nil, geo, c.cfg.CategoryID, c.cfg.WindowHours})
	if err != nil {
		return nil, fmt.Errorf("marshaling rpc args: %w", err)
	}

	frame, err := json.Marshal([]any{[]any{[]any{rpcID, string(inner), nil, "generic"}}})
	if err != nil {
		return nil, fmt.Errorf("marshaling rpc frame: %w", err)
	}

	form := url.Values{"f.req": {string(frame)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "*/*")

	return req, nil
}

// isThrottleEnvelope recognizes the error envelope the endpoint returns with
// a 200 status when it is quietly throttling the caller.
func isThrottleEnvelope(body []byte) bool {
	return bytes.Contains(body, []byte(`["er"`)) && bytes.Contains(body, []byte(",429"))
}

func retryable(err error) bool {
	switch ClassOf(err) {
	case ClassTransient, ClassRateLimited:
		return true
	default:
		return false
	}
}

// fullJitter draws the delay before retry n uniformly from zero to the
// capped exponential ceiling, so concurrent geo loops never fall into
// lockstep against the endpoint.
func fullJitter(base, max time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}

	ceiling := base
	for i := 1; i < attempts && ceiling < max; i++ {
		ceiling *= 2
	}
	if ceiling > max {
		ceiling = max
	}

	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}
