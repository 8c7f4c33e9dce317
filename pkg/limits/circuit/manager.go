package circuit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/counter"
)

// maxCASAttempts bounds every compare-and-swap loop.
const maxCASAttempts = 32

// ErrContention is returned when a state update keeps losing its
// compare-and-swap to concurrent writers.
var ErrContention = errors.New("circuit state contention")

// Manager tracks provider health in the shared counter store.
type Manager struct {
	store    counter.Store
	clock    clock.Clock
	logger   *slog.Logger
	listener Listener

	mu     sync.RWMutex
	config Config
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithListener registers a callback for state transitions.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listener = l }
}

// NewManager creates a circuit breaker manager.
func NewManager(store counter.Store, config Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit config: %w", err)
	}

	m := &Manager{
		store:  store,
		clock:  clock.Real{},
		logger: slog.Default().With("component", "circuit"),
		config: config,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.clock = clock.OrReal(m.clock)

	return m, nil
}

// UpdateConfig replaces the breaker settings. Stored states are kept.
func (m *Manager) UpdateConfig(config Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid circuit config: %w", err)
	}
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()

	m.logger.Info("circuit config updated", "providers", len(config.Providers))
	return nil
}

// Settings returns the effective settings for a provider.
func (m *Manager) Settings(providerID string) Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.config.Providers[providerID]; ok {
		return mergeSettings(m.config.Defaults, s).withDefaults()
	}
	return m.config.Defaults.withDefaults()
}

// Admit decides whether a request to the provider may proceed.
//
// A closed circuit admits without writing. An open circuit rejects until its
// cool-down has elapsed, then turns half-open and hands out its trial slots one
// compare-and-swap at a time.
func (m *Manager) Admit(ctx context.Context, providerID string) (*Decision, error) {
	settings := m.Settings(providerID)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		raw, current, err := m.load(ctx, providerID)
		if err != nil {
			return nil, err
		}

		now := m.clock.Now()
		next := NextState(current, now, settings)

		switch next.Status {
		case StatusClosed:
			return &Decision{Allowed: true, Status: StatusClosed}, nil

		case StatusOpen:
			return &Decision{
				Status:     StatusOpen,
				RetryAfter: max(next.RetryAt().Sub(now), 0),
			}, nil
		}

		if next.TrialsRemaining <= 0 {
			return &Decision{
				Status:     StatusHalfOpen,
				RetryAfter: max(next.RetryAt().Sub(now), 0),
			}, nil
		}

		next.TrialsRemaining--
		swapped, err := m.swap(ctx, providerID, raw, next)
		if err != nil {
			return nil, err
		}
		if !swapped {
			continue
		}

		if current.Status != StatusHalfOpen {
			m.notify(providerID, current.Status, StatusHalfOpen)
		}
		m.logger.Info("circuit trial admitted",
			"provider", providerID,
			"trials_remaining", next.TrialsRemaining,
		)
		return &Decision{Allowed: true, Status: StatusHalfOpen, Trial: true}, nil
	}

	return nil, fmt.Errorf("admit %s: %w", providerID, ErrContention)
}

// ReleaseTrial returns a trial slot taken by Admit when the request never
// reached the provider. It does nothing unless the circuit is still half-open
// with fewer slots than the provider's HalfOpenTrials.
func (m *Manager) ReleaseTrial(ctx context.Context, providerID string) error {
	settings := m.Settings(providerID)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		raw, current, err := m.load(ctx, providerID)
		if err != nil {
			return err
		}
		if current.Status != StatusHalfOpen || current.TrialsRemaining >= settings.HalfOpenTrials {
			return nil
		}

		next := current
		next.TrialsRemaining++
		swapped, err := m.swap(ctx, providerID, raw, next)
		if err != nil {
			return err
		}
		if swapped {
			m.logger.Debug("circuit trial released",
				"provider", providerID,
				"trials_remaining", next.TrialsRemaining,
			)
			return nil
		}
	}

	return fmt.Errorf("release trial %s: %w", providerID, ErrContention)
}

// ReportOutcome records the result of a provider call and returns the new state.
// Outcomes are applied to the stored state; a late success does not close an
// open circuit whose cool-down has elapsed.
func (m *Manager) ReportOutcome(ctx context.Context, providerID string, success bool, latency time.Duration) (*State, error) {
	settings := m.Settings(providerID)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		raw, current, err := m.load(ctx, providerID)
		if err != nil {
			return nil, err
		}

		next, changed := applyOutcome(current, success, m.clock.Now(), settings)
		if !changed {
			return &next, nil
		}

		swapped, err := m.swap(ctx, providerID, raw, next)
		if err != nil {
			return nil, err
		}
		if !swapped {
			continue
		}

		if next.Status != current.Status {
			m.logTransition(providerID, current, next, latency)
			m.notify(providerID, current.Status, next.Status)
		}
		return &next, nil
	}

	return nil, fmt.Errorf("report outcome %s: %w", providerID, ErrContention)
}

// Get returns the provider's state as of now, without storing the lazy transition.
func (m *Manager) Get(ctx context.Context, providerID string) (*State, error) {
	_, current, err := m.load(ctx, providerID)
	if err != nil {
		return nil, err
	}
	next := NextState(current, m.clock.Now(), m.Settings(providerID))
	return &next, nil
}

// Reset closes the provider's circuit and clears its counters.
func (m *Manager) Reset(ctx context.Context, providerID string) error {
	_, current, err := m.load(ctx, providerID)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, key(providerID)); err != nil {
		return apperrors.NewStoreUnavailableError("counter", "circuit_reset", err)
	}

	m.logger.Info("circuit reset", "provider", providerID, "from", current.Status)
	if current.Status != StatusClosed {
		m.notify(providerID, current.Status, StatusClosed)
	}
	return nil
}

func (m *Manager) load(ctx context.Context, providerID string) (string, State, error) {
	v, err := m.store.Get(ctx, key(providerID))
	if err != nil {
		return "", State{}, apperrors.NewStoreUnavailableError("counter", "circuit_get", err)
	}
	if !v.Found {
		return "", closedState(providerID), nil
	}

	var s State
	if err := json.Unmarshal([]byte(v.Data), &s); err != nil {
		return "", State{}, fmt.Errorf("decode circuit state %s: %w", providerID, err)
	}
	s.ProviderID = providerID
	return v.Data, s, nil
}

func (m *Manager) swap(ctx context.Context, providerID, prev string, next State) (bool, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("encode circuit state %s: %w", providerID, err)
	}
	ok, err := m.store.CompareAndSwap(ctx, key(providerID), prev, string(data), 0)
	if err != nil {
		return false, apperrors.NewStoreUnavailableError("counter", "circuit_cas", err)
	}
	return ok, nil
}

func (m *Manager) logTransition(providerID string, from, to State, latency time.Duration) {
	switch to.Status {
	case StatusOpen:
		m.logger.Warn("circuit opened",
			"provider", providerID,
			"from", from.Status,
			"consecutive_failures", to.ConsecutiveFailures,
			"cool_down", to.CoolDown,
			"failed_cycles", to.FailedCycles,
			"latency", latency,
		)
	case StatusClosed:
		m.logger.Info("circuit closed", "provider", providerID, "from", from.Status)
	}
}

func (m *Manager) notify(providerID string, from, to Status) {
	if m.listener != nil {
		m.listener(providerID, from, to)
	}
}

func key(providerID string) string {
	return "cb:" + providerID
}

// mergeSettings fills zero fields of override from base.
func mergeSettings(base, override Settings) Settings {
	if override.TripThreshold == 0 {
		override.TripThreshold = base.TripThreshold
	}
	if override.CoolDown == 0 {
		override.CoolDown = base.CoolDown
	}
	if override.MaxCoolDown == 0 {
		override.MaxCoolDown = base.MaxCoolDown
	}
	if override.HalfOpenTrials == 0 {
		override.HalfOpenTrials = base.HalfOpenTrials
	}
	return override
}
