package budget_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/counter"
	"mercator-hq/costgate/pkg/limits/budget"
	"mercator-hq/costgate/pkg/limits/retry"
	"mercator-hq/costgate/pkg/limits/storage"
)

var periodStart = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	clock    *clock.Manual
	repo     *storage.MemoryStore
	counters counter.Store
	registry *budget.Registry
	tracker  *budget.Tracker
	notifier *recordingNotifier
	sink     *recordingSink
}

type fixtureOption func(*budget.TrackerConfig)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		clock:    clock.NewManual(periodStart.Add(10 * 24 * time.Hour)),
		repo:     storage.NewMemoryStore(),
		notifier: &recordingNotifier{},
		sink:     &recordingSink{},
	}
	mem := counter.NewMemoryStoreWithConfig(counter.MemoryStoreConfig{Clock: f.clock})
	t.Cleanup(func() { mem.Close() })
	f.counters = mem

	var err error
	f.registry, err = budget.NewRegistry(budget.RegistryConfig{Repository: f.repo, Clock: f.clock})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	cfg := budget.TrackerConfig{
		Registry: f.registry,
		Ledger:   f.repo,
		Counters: f.counters,
		Notifier: f.notifier,
		Sink:     f.sink,
		Clock:    f.clock,
		Retry: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			MaxElapsed:      time.Second,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.counters = cfg.Counters

	f.tracker, err = budget.NewTracker(cfg)
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	return f
}

func (f *fixture) mustCreate(t *testing.T, req budget.CreateRequest) *budget.Definition {
	t.Helper()
	def, err := f.registry.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return def
}

func monthly(scope budget.ScopeType, id string, amount float64) budget.CreateRequest {
	return budget.CreateRequest{
		Name:      string(scope) + " " + id,
		Scope:     budget.Scope{Type: scope, ID: id},
		Amount:    amount,
		Currency:  "USD",
		Period:    budget.PeriodMonthly,
		StartDate: periodStart,
		Recurring: true,
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []budget.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, note budget.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

type deferredUsage struct {
	record  budget.UsageRecord
	targets []string
}

type recordingSink struct {
	mu    sync.Mutex
	items []deferredUsage
}

func (s *recordingSink) EnqueueUsage(ctx context.Context, rec *budget.UsageRecord, targetIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, deferredUsage{record: *rec, targets: append([]string(nil), targetIDs...)})
	return nil
}

// flakyCounters fails IncrByOnce for keys of the listed budgets while enabled.
type flakyCounters struct {
	counter.Store

	mu      sync.Mutex
	failing map[string]bool
}

var errInjected = errors.New("injected store failure")

func (f *flakyCounters) setFailing(budgetID string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[budgetID] = failing
}

func (f *flakyCounters) IncrByOnce(ctx context.Context, key, token string, delta int64, ttl time.Duration) (int64, bool, error) {
	f.mu.Lock()
	for id, on := range f.failing {
		if on && strings.HasPrefix(key, "budget:"+id+":") {
			f.mu.Unlock()
			return 0, false, errInjected
		}
	}
	f.mu.Unlock()
	return f.Store.IncrByOnce(ctx, key, token, delta, ttl)
}
