// internal/service/poll/scheduler.go

package poll

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"trendwatch/internal/domain/trend"
	"trendwatch/internal/metrics"
	"trendwatch/internal/service/decode"
	"trendwatch/internal/service/fetch"
)

// Fetcher acquires the raw payload for a geo.
type Fetcher interface {
	Fetch(ctx context.Context, geo string) (*fetch.Payload, error)
}

// Deduper decides NEW vs SEEN for one record at a point in time.
type Deduper interface {
	CheckAndMark(ctx context.Context, rec trend.Record, now time.Time) (bool, error)
}

// Sweeper is the optional cleanup side of the dedup store.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Sink receives records judged NEW, one at a time in rank order. Sinks own
// their delivery guarantees; a sink error never fails the cycle.
type Sink interface {
	Emit(ctx context.Context, rec trend.Record) error
}

// DecodeFunc matches decode.Decode; injectable for tests.
type DecodeFunc func(body []byte, geo string, categoryID int, fetchedAt time.Time) (decode.Result, error)

// Config holds the scheduler's timing knobs. Intervals are validated by the
// config package before the scheduler ever sees them.
type Config struct {
	Geos          []string
	CategoryID    int
	MinInterval   time.Duration
	MaxInterval   time.Duration
	Cooldown      time.Duration // how long a rate-limit signal keeps the floor raised
	CooldownBoost time.Duration // how far above MaxInterval the floor moves
	EmitTimeout   time.Duration // per-sink hand-off budget
	SweepInterval time.Duration
}

// Scheduler runs one polling loop per configured geo. Each cycle walks
// fetch → decode → dedup → emit and then sleeps a jittered interval; a
// failed cycle is logged and abandoned, never allowed to stop the loop or
// any other geo's loop.
type Scheduler struct {
	cfg     Config
	fetcher Fetcher
	decode  DecodeFunc
	deduper Deduper
	sweeper Sweeper
	sinks   []Sink
	status  *StatusTracker
	logger  *logrus.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler wires a scheduler over its collaborators. The sinks receive
// NEW records in the order given here; sweeper may be nil when the store
// sweeps itself.
func NewScheduler(
	cfg Config,
	fetcher Fetcher,
	deduper Deduper,
	sweeper Sweeper,
	sinks []Sink,
	status *StatusTracker,
	logger *logrus.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		fetcher: fetcher,
		decode:  decode.Decode,
		deduper: deduper,
		sweeper: sweeper,
		sinks:   sinks,
		status:  status,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Start launches the per-geo loops plus the dedup sweep loop and returns
// immediately. Call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		var inner sync.WaitGroup
		for _, geo := range s.cfg.Geos {
			inner.Add(1)
			go func(geo string) {
				defer inner.Done()
				s.runGeo(runCtx, geo)
			}(geo)
		}

		if s.sweeper != nil && s.cfg.SweepInterval > 0 {
			inner.Add(1)
			go func() {
				defer inner.Done()
				s.runSweep(runCtx)
			}()
		}

		inner.Wait()
	}()

	return nil
}

// Stop signals every loop to stop after its current cycle and waits for them
// to drain, giving up when ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runGeo is one geo's control loop: cycle, then a jittered sleep, until the
// context is canceled. A rate-limit signal from any cycle raises the sleep
// floor above the normal ceiling for the cooldown window, so the loop backs
// off instead of hammering a throttling endpoint.
func (s *Scheduler) runGeo(ctx context.Context, geo string) {
	s.logger.WithField("geo", geo).Info("Polling started")

	var cooldownUntil time.Time
	for {
		if ctx.Err() != nil {
			s.logger.WithField("geo", geo).Info("Polling stopped")
			return
		}

		if rateLimited := s.cycle(ctx, geo); rateLimited {
			cooldownUntil = s.now().Add(s.cfg.Cooldown)
			s.logger.WithFields(logrus.Fields{
				"geo":            geo,
				"cooldown_until": cooldownUntil.Format(time.RFC3339),
			}).Warn("Rate limited; raising poll interval floor")
		}

		if err := s.sleep(ctx, s.nextInterval(cooldownUntil)); err != nil {
			s.logger.WithField("geo", geo).Info("Polling stopped")
			return
		}
	}
}

// cycle performs one fetch → decode → dedup → emit pass and reports whether
// the endpoint signaled throttling at any point.
func (s *Scheduler) cycle(ctx context.Context, geo string) bool {
	fetchedAt := s.now()

	payload, err := s.fetcher.Fetch(ctx, geo)
	if err != nil {
		class := fetch.ClassOf(err)
		s.logger.WithFields(logrus.Fields{
			"geo":   geo,
			"class": class.String(),
		}).WithError(err).Warn("Poll cycle abandoned: fetch failed")
		s.status.RecordPoll(geo, s.now(), err)
		metrics.PollsTotal.WithLabelValues(geo, "fetch_failed").Inc()
		metrics.FetchFailures.WithLabelValues(geo, class.String()).Inc()
		return class == fetch.ClassRateLimited
	}

	res, err := s.decode(payload.Body, geo, s.cfg.CategoryID, fetchedAt)
	if err != nil {
		s.logger.WithField("geo", geo).WithError(err).Warn("Poll cycle abandoned: undecodable payload")
		s.status.RecordPoll(geo, s.now(), err)
		metrics.PollsTotal.WithLabelValues(geo, "decode_failed").Inc()
		return payload.RateLimited
	}

	metrics.RecordsDecoded.WithLabelValues(geo).Add(float64(len(res.Records)))
	if res.Skipped > 0 {
		metrics.RecordsSkipped.WithLabelValues(geo).Add(float64(res.Skipped))
		s.logger.WithFields(logrus.Fields{
			"geo":     geo,
			"skipped": res.Skipped,
		}).Debug("Skipped unparsable wire entries")
	}

	newCount := 0
	for _, rec := range res.Records {
		isNew, err := s.deduper.CheckAndMark(ctx, rec, s.now())
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"geo":   geo,
				"title": rec.Title,
			}).WithError(err).Error("Dedup check failed; record dropped")
			continue
		}
		if !isNew {
			continue
		}

		newCount++
		metrics.RecordsNew.WithLabelValues(geo).Inc()
		s.logger.WithFields(logrus.Fields{
			"geo":    geo,
			"title":  rec.Title,
			"rank":   rec.Rank,
			"volume": rec.VolumeLabel,
		}).Info("New trend detected")

		// The key is already marked by now: a crash here loses the emit
		// rather than repeating it (at-most-once delivery downstream).
		s.emit(ctx, rec)
	}

	s.logger.WithFields(logrus.Fields{
		"geo":     geo,
		"decoded": len(res.Records),
		"new":     newCount,
	}).Info("Poll cycle completed")
	s.status.RecordPoll(geo, s.now(), nil)
	metrics.PollsTotal.WithLabelValues(geo, "ok").Inc()

	return payload.RateLimited
}

// emit hands one record to every sink under a bounded timeout, so a slow
// collaborator can delay a cycle but never wedge it.
func (s *Scheduler) emit(ctx context.Context, rec trend.Record) {
	for _, sink := range s.sinks {
		emitCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.EmitTimeout > 0 {
			emitCtx, cancel = context.WithTimeout(ctx, s.cfg.EmitTimeout)
		}

		if err := sink.Emit(emitCtx, rec); err != nil {
			s.logger.WithFields(logrus.Fields{
				"geo":   rec.Geo,
				"title": rec.Title,
			}).WithError(err).Error("Sink emit failed")
		}

		if cancel != nil {
			cancel()
		}
	}
}

// runSweep lazily evicts expired dedup entries. Opportunistic only; it never
// holds any poll loop's progress hostage.
func (s *Scheduler) runSweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.sweeper.Sweep(ctx, s.now())
			if err != nil {
				s.logger.WithError(err).Warn("Dedup sweep failed")
				continue
			}
			if removed > 0 {
				metrics.DedupSweeps.Add(float64(removed))
				s.logger.WithField("removed", removed).Debug("Swept expired dedup entries")
			}
		}
	}
}

// nextInterval draws the sleep before the next cycle: uniform over
// [MinInterval, MaxInterval] normally, and over a window starting
// CooldownBoost above MaxInterval while a rate-limit cooldown is active.
func (s *Scheduler) nextInterval(cooldownUntil time.Time) time.Duration {
	lo, hi := s.cfg.MinInterval, s.cfg.MaxInterval
	if s.now().Before(cooldownUntil) {
		width := hi - lo
		lo = s.cfg.MaxInterval + s.cfg.CooldownBoost
		hi = lo + width
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
}

// sleepContext waits d or until ctx is canceled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
