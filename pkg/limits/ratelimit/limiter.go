package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/counter"
)

// Limiter enforces the tier limits of a Config against the shared counter store.
//
// Limiter holds no per-request state; every decision is one or two atomic
// increments, so any number of instances sharing a store agree on counts.
type Limiter struct {
	store  counter.Store
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.RWMutex
	config Config

	// errorRate holds the last externally supplied rate as float64 bits.
	errorRate atomic.Uint64
	source    ErrorRateSource

	// latched caches emergency windows this instance has already seen.
	latchMu sync.Mutex
	latched map[string]time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithErrorRateSource replaces the built-in settable error rate.
func WithErrorRateSource(src ErrorRateSource) Option {
	return func(l *Limiter) { l.source = src }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// NewLimiter creates a rate limiter.
//
// Example:
//
//	limiter, err := ratelimit.NewLimiter(store, ratelimit.Config{
//	    Global:  &ratelimit.Limit{Requests: 1000, Window: time.Minute, Burst: 100},
//	    PerUser: &ratelimit.Limit{Requests: 60, Window: time.Minute},
//	    Emergency: ratelimit.EmergencyConfig{Enabled: true, Threshold: 0.25},
//	})
func NewLimiter(store counter.Store, config Config, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}

	l := &Limiter{
		store:   store,
		clock:   clock.Real{},
		logger:  slog.Default().With("component", "ratelimit"),
		config:  normalize(config),
		latched: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.clock = clock.OrReal(l.clock)

	return l, nil
}

// UpdateConfig swaps the tier limits. Counters already taken in the current
// windows are kept.
func (l *Limiter) UpdateConfig(config Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	l.mu.Lock()
	l.config = normalize(config)
	l.mu.Unlock()

	l.logger.Info("rate limit config updated")
	return nil
}

// Config returns the current configuration.
func (l *Limiter) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// SetErrorRate records the latest system error rate (0.0-1.0).
func (l *Limiter) SetErrorRate(rate float64) {
	l.errorRate.Store(math.Float64bits(rate))
}

// ErrorRate returns the current system error rate.
func (l *Limiter) ErrorRate() float64 {
	if l.source != nil {
		return l.source.ErrorRate()
	}
	return math.Float64frombits(l.errorRate.Load())
}

// AdmitChain checks the global, provider and user tiers in that order and
// returns the first rejection, or the last allowing decision. Empty ids skip
// their tier.
func (l *Limiter) AdmitChain(ctx context.Context, providerID, userID string) (*Decision, error) {
	checks := []struct {
		tier Tier
		key  string
	}{
		{TierGlobal, GlobalKey},
		{TierProvider, providerID},
		{TierUser, userID},
	}

	last := &Decision{Allowed: true, Tier: TierGlobal, Key: GlobalKey}
	for _, c := range checks {
		if c.key == "" {
			continue
		}
		d, err := l.Admit(ctx, c.tier, c.key)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			return d, nil
		}
		last = d
	}
	return last, nil
}

// Admit counts one request against a tier and decides whether it may proceed.
func (l *Limiter) Admit(ctx context.Context, tier Tier, key string) (*Decision, error) {
	limit, ok := l.limitFor(tier, key)
	if !ok {
		return &Decision{Allowed: true, Tier: tier, Key: key}, nil
	}

	now := l.clock.Now()
	w := newWindow(now, limit.Window)

	emergency, err := l.emergencyActive(ctx, tier, w, now)
	if err != nil {
		return nil, err
	}
	requests, burst := effective(limit, emergency, l.emergencyFactor())

	d := &Decision{
		Tier:      tier,
		Key:       key,
		Limit:     requests,
		Emergency: emergency,
		ResetAt:   w.end,
	}

	post, err := l.store.IncrBy(ctx, w.key(tier, key), 1, limit.Window)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("counter", "rate_limit_incr", err)
	}

	if pre := post - 1; pre < requests {
		d.Allowed = true
		d.Remaining = requests - post
		return d, nil
	}

	if burst > 0 {
		used, err := l.store.IncrBy(ctx, w.burstKey(tier, key), 1, limit.Window)
		if err != nil {
			return nil, apperrors.NewStoreUnavailableError("counter", "rate_limit_burst_incr", err)
		}
		if used <= burst {
			d.Allowed = true
			d.UsedBurst = true
			return d, nil
		}
	}

	d.RetryAfter = w.end.Sub(now)
	l.logger.Debug("rate limit exceeded",
		"tier", tier,
		"key", key,
		"limit", requests,
		"burst", burst,
		"emergency", emergency,
		"retry_after", d.RetryAfter,
	)
	return d, nil
}

// Peek reports the state of a tier's current window without counting a request.
func (l *Limiter) Peek(ctx context.Context, tier Tier, key string) (*Decision, error) {
	limit, ok := l.limitFor(tier, key)
	if !ok {
		return &Decision{Allowed: true, Tier: tier, Key: key}, nil
	}

	now := l.clock.Now()
	w := newWindow(now, limit.Window)

	emergency, err := l.emergencyLatched(ctx, tier, w)
	if err != nil {
		return nil, err
	}
	requests, burst := effective(limit, emergency, l.emergencyFactor())

	count, err := l.readInt(ctx, w.key(tier, key))
	if err != nil {
		return nil, err
	}
	used, err := l.readInt(ctx, w.burstKey(tier, key))
	if err != nil {
		return nil, err
	}

	d := &Decision{
		Tier:      tier,
		Key:       key,
		Limit:     requests,
		Remaining: max(requests-count, 0),
		Emergency: emergency,
		ResetAt:   w.end,
		Allowed:   count < requests || used < burst,
	}
	if !d.Allowed {
		d.RetryAfter = w.end.Sub(now)
	}
	return d, nil
}

func (l *Limiter) limitFor(tier Tier, key string) (Limit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch tier {
	case TierGlobal:
		if l.config.Global != nil {
			return *l.config.Global, true
		}
	case TierProvider:
		if lim, ok := l.config.PerProvider[key]; ok {
			return lim, true
		}
		if l.config.DefaultProvider != nil {
			return *l.config.DefaultProvider, true
		}
	case TierUser:
		if l.config.PerUser != nil {
			return *l.config.PerUser, true
		}
	}
	return Limit{}, false
}

func (l *Limiter) emergencyFactor() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Emergency.Factor
}

// emergencyActive latches the window into emergency mode when the error rate
// is above the threshold, and reports whether the window is latched.
func (l *Limiter) emergencyActive(ctx context.Context, tier Tier, w window, now time.Time) (bool, error) {
	l.mu.RLock()
	em := l.config.Emergency
	l.mu.RUnlock()

	if !em.Enabled {
		return false, nil
	}

	latchKey := w.emergencyKey(tier)
	if l.cachedLatch(latchKey, now) {
		return true, nil
	}

	if rate := l.ErrorRate(); rate > em.Threshold {
		created, err := l.store.SetNX(ctx, latchKey, strconv.FormatFloat(rate, 'f', 4, 64), w.end.Sub(now))
		if err != nil {
			return false, apperrors.NewStoreUnavailableError("counter", "emergency_latch", err)
		}
		if created {
			l.logger.Warn("rate limit emergency mode engaged",
				"tier", tier,
				"error_rate", rate,
				"threshold", em.Threshold,
				"until", w.end,
			)
		}
		l.cacheLatch(latchKey, w.end)
		return true, nil
	}

	return l.emergencyLatched(ctx, tier, w)
}

// emergencyLatched checks the store for a latch set by any instance.
func (l *Limiter) emergencyLatched(ctx context.Context, tier Tier, w window) (bool, error) {
	l.mu.RLock()
	enabled := l.config.Emergency.Enabled
	l.mu.RUnlock()
	if !enabled {
		return false, nil
	}

	latchKey := w.emergencyKey(tier)
	v, err := l.store.Get(ctx, latchKey)
	if err != nil {
		return false, apperrors.NewStoreUnavailableError("counter", "emergency_get", err)
	}
	if v.Found {
		l.cacheLatch(latchKey, w.end)
	}
	return v.Found, nil
}

func (l *Limiter) cachedLatch(key string, now time.Time) bool {
	l.latchMu.Lock()
	defer l.latchMu.Unlock()

	until, ok := l.latched[key]
	if !ok {
		return false
	}
	if !now.Before(until) {
		delete(l.latched, key)
		return false
	}
	return true
}

func (l *Limiter) cacheLatch(key string, until time.Time) {
	l.latchMu.Lock()
	defer l.latchMu.Unlock()

	// Drop expired entries so the cache stays at one entry per tier window.
	now := l.clock.Now()
	for k, u := range l.latched {
		if !now.Before(u) {
			delete(l.latched, k)
		}
	}
	l.latched[key] = until
}

func (l *Limiter) readInt(ctx context.Context, key string) (int64, error) {
	v, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, apperrors.NewStoreUnavailableError("counter", "rate_limit_get", err)
	}
	if !v.Found {
		return 0, nil
	}
	n, err := strconv.ParseInt(v.Data, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt rate limit counter %s: %w", key, err)
	}
	return n, nil
}

// effective applies the emergency factor. The request ceiling never drops
// below one so emergency mode throttles rather than closes a tier.
func effective(limit Limit, emergency bool, factor float64) (requests, burst int64) {
	if !emergency {
		return limit.Requests, limit.Burst
	}
	requests = max(int64(math.Floor(float64(limit.Requests)*factor)), 1)
	burst = int64(math.Floor(float64(limit.Burst) * factor))
	return requests, burst
}

func normalize(c Config) Config {
	if c.Emergency.Factor == 0 {
		c.Emergency.Factor = DefaultEmergencyFactor
	}
	return c
}
