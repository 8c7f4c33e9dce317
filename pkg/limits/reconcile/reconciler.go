package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/limits"
	"mercator-hq/costgate/pkg/limits/budget"
)

// UsageApplier re-applies deferred usage. *budget.Tracker implements it.
type UsageApplier interface {
	ApplyUsage(ctx context.Context, rec *budget.UsageRecord, targetIDs []string) ([]string, error)
}

// OutcomeApplier re-applies deferred outcomes. *limits.Gateway implements it.
type OutcomeApplier interface {
	ApplyOutcome(ctx context.Context, o limits.Outcome) error
}

// Config tunes a Reconciler.
type Config struct {
	// BatchSize caps the entries handled by one run.
	// Default: 500
	BatchSize int

	// RatePerSecond paces replays so a recovering store is not flooded.
	// Default: 50
	RatePerSecond float64

	// MaxAttempts marks an entry dead after this many failed replays.
	// Default: 20
	MaxAttempts int

	// InitialBackoff is the delay after the first failed replay. It doubles
	// with every attempt up to MaxBackoff.
	// Default: 5s
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between replays.
	// Default: 10m
	MaxBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 20
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 5 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Minute
	}
	return c
}

// Result summarizes one reconciliation run.
type Result struct {
	Applied int           `json:"applied"`
	Failed  int           `json:"failed"`
	Dead    int           `json:"dead"`
	Elapsed time.Duration `json:"elapsed"`
}

// Reconciler replays queued usage and outcome entries.
type Reconciler struct {
	queue    Queue
	usage    UsageApplier
	outcomes OutcomeApplier
	config   Config
	limiter  *rate.Limiter
	clock    clock.Clock
	logger   *slog.Logger

	// runMu keeps runs from overlapping.
	runMu sync.Mutex
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the clock used to find due entries and schedule retries.
func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a reconciler over queue. Either applier may be nil,
// in which case entries of that kind stay queued.
func NewReconciler(queue Queue, usage UsageApplier, outcomes OutcomeApplier, config Config, opts ...Option) *Reconciler {
	config = config.withDefaults()
	r := &Reconciler{
		queue:    queue,
		usage:    usage,
		outcomes: outcomes,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.RatePerSecond), int(math.Max(1, config.RatePerSecond))),
		clock:    clock.Real{},
		logger:   slog.Default().With("component", "reconcile.reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce replays every due entry, at most BatchSize of them.
func (r *Reconciler) RunOnce(ctx context.Context) (*Result, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	start := time.Now()
	entries, err := r.queue.Due(ctx, r.clock.Now(), r.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load due entries: %w", err)
	}

	result := &Result{}
	for _, e := range entries {
		if err := r.limiter.Wait(ctx); err != nil {
			result.Elapsed = time.Since(start)
			return result, err
		}

		payload, err := r.replay(ctx, e)
		if err == nil {
			if cerr := r.queue.Complete(ctx, e.ID); cerr != nil {
				return result, cerr
			}
			result.Applied++
			continue
		}

		next := r.nextAttempt(e.Attempts + 1)
		if next.IsZero() {
			result.Dead++
			r.logger.Error("reconcile entry exhausted its attempts",
				"entry_id", e.ID,
				"kind", e.Kind,
				"attempts", e.Attempts+1,
				"error", err,
			)
		} else {
			result.Failed++
			r.logger.Warn("reconcile replay failed",
				"entry_id", e.ID,
				"kind", e.Kind,
				"attempt", e.Attempts+1,
				"next_attempt_at", next,
				"error", err,
			)
		}
		if rerr := r.queue.Retry(ctx, e.ID, payload, err.Error(), next); rerr != nil {
			return result, rerr
		}
	}

	result.Elapsed = time.Since(start)
	if len(entries) > 0 {
		r.logger.Info("reconcile run completed",
			"applied", result.Applied,
			"failed", result.Failed,
			"dead", result.Dead,
			"duration", result.Elapsed,
		)
	}
	return result, nil
}

// replay applies one entry. On a partial usage failure it returns the
// payload narrowed to the targets still pending.
func (r *Reconciler) replay(ctx context.Context, e *Entry) ([]byte, error) {
	switch e.Kind {
	case KindUsage:
		if r.usage == nil {
			return nil, fmt.Errorf("no usage applier configured")
		}
		var p usagePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode usage entry: %w", err)
		}
		if p.Record == nil {
			return nil, fmt.Errorf("usage entry has no record")
		}
		pending, err := r.usage.ApplyUsage(ctx, p.Record, p.Targets)
		if err == nil && len(pending) == 0 {
			return nil, nil
		}
		if err == nil {
			err = fmt.Errorf("%d targets still pending", len(pending))
		}
		p.Targets = pending
		narrowed, merr := json.Marshal(p)
		if merr != nil {
			return nil, err
		}
		return narrowed, err

	case KindOutcome:
		if r.outcomes == nil {
			return nil, fmt.Errorf("no outcome applier configured")
		}
		var o limits.Outcome
		if err := json.Unmarshal(e.Payload, &o); err != nil {
			return nil, fmt.Errorf("decode outcome entry: %w", err)
		}
		return nil, r.outcomes.ApplyOutcome(ctx, o)

	default:
		return nil, fmt.Errorf("unknown entry kind %q", e.Kind)
	}
}

// nextAttempt returns when attempt number n+1 is due, or zero once the
// attempts are exhausted.
func (r *Reconciler) nextAttempt(attempts int) time.Time {
	if attempts >= r.config.MaxAttempts {
		return time.Time{}
	}
	delay := r.config.InitialBackoff
	for i := 1; i < attempts && delay < r.config.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > r.config.MaxBackoff {
		delay = r.config.MaxBackoff
	}
	return r.clock.Now().Add(delay)
}

// Stats reports the queue depth.
func (r *Reconciler) Stats(ctx context.Context) (Stats, error) {
	return r.queue.Stats(ctx)
}
