package circuit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/counter"
)

func newTestManager(t *testing.T, config Config, opts ...Option) (*Manager, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	store := counter.NewMemoryStoreWithConfig(counter.MemoryStoreConfig{Clock: clk})
	t.Cleanup(func() { store.Close() })

	m, err := NewManager(store, config, append([]Option{WithClock(clk)}, opts...)...)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m, clk
}

func fail(t *testing.T, m *Manager, provider string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := m.ReportOutcome(context.Background(), provider, false, 100*time.Millisecond); err != nil {
			t.Fatalf("ReportOutcome failed: %v", err)
		}
	}
}

func TestManager_TripCoolDownAndSingleTrial(t *testing.T) {
	m, clk := newTestManager(t, Config{
		Defaults: Settings{TripThreshold: 5, CoolDown: 30 * time.Second},
	})
	ctx := context.Background()

	fail(t, m, "openai", 4)
	if d, _ := m.Admit(ctx, "openai"); !d.Allowed {
		t.Fatal("Expected circuit to stay closed below threshold")
	}

	fail(t, m, "openai", 1)
	state, _ := m.Get(ctx, "openai")
	if state.Status != StatusOpen {
		t.Fatalf("Expected open after 5 failures, got %s", state.Status)
	}

	clk.Advance(29 * time.Second)
	d, err := m.Admit(ctx, "openai")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("Expected rejection during cool-down")
	}
	if d.RetryAfter != time.Second {
		t.Errorf("Expected retry after 1s, got %v", d.RetryAfter)
	}

	clk.Advance(time.Second)
	d, _ = m.Admit(ctx, "openai")
	if !d.Allowed || !d.Trial || d.Status != StatusHalfOpen {
		t.Fatalf("Expected a half-open trial admission, got %+v", d)
	}

	d, _ = m.Admit(ctx, "openai")
	if d.Allowed {
		t.Error("Expected only one trial admission")
	}
	if d.Status != StatusHalfOpen {
		t.Errorf("Expected half-open, got %s", d.Status)
	}

	state, err = m.ReportOutcome(ctx, "openai", true, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ReportOutcome failed: %v", err)
	}
	if state.Status != StatusClosed || state.ConsecutiveFailures != 0 {
		t.Errorf("Expected closed with failures reset, got %+v", state)
	}
	if d, _ := m.Admit(ctx, "openai"); !d.Allowed || d.Trial {
		t.Error("Expected normal admission after recovery")
	}
}

func TestManager_SuccessResetsConsecutiveFailures(t *testing.T) {
	m, _ := newTestManager(t, Config{Defaults: Settings{TripThreshold: 3}})
	ctx := context.Background()

	fail(t, m, "p", 2)
	m.ReportOutcome(ctx, "p", true, 0)
	fail(t, m, "p", 2)

	state, _ := m.Get(ctx, "p")
	if state.Status != StatusClosed {
		t.Errorf("Expected closed, failures are not consecutive, got %s", state.Status)
	}
	if state.ConsecutiveFailures != 2 {
		t.Errorf("Expected 2 consecutive failures, got %d", state.ConsecutiveFailures)
	}
}

func TestManager_TrialFailureReopensWithLongerCoolDown(t *testing.T) {
	m, clk := newTestManager(t, Config{
		Defaults: Settings{TripThreshold: 1, CoolDown: 10 * time.Second, MaxCoolDown: time.Minute},
	})
	ctx := context.Background()

	fail(t, m, "p", 1)
	clk.Advance(10 * time.Second)
	if d, _ := m.Admit(ctx, "p"); !d.Trial {
		t.Fatal("Expected a trial")
	}
	fail(t, m, "p", 1)

	state, _ := m.Get(ctx, "p")
	if state.Status != StatusOpen || state.CoolDown != 20*time.Second {
		t.Fatalf("Expected open with 20s cool-down, got %s/%v", state.Status, state.CoolDown)
	}

	clk.Advance(10 * time.Second)
	if d, _ := m.Admit(ctx, "p"); d.Allowed {
		t.Error("Expected rejection before the doubled cool-down elapsed")
	}
	clk.Advance(10 * time.Second)
	if d, _ := m.Admit(ctx, "p"); !d.Trial {
		t.Error("Expected a trial after the doubled cool-down")
	}
}

func TestManager_ConcurrentHalfOpenAdmitsExactlyTrialBudget(t *testing.T) {
	for _, trials := range []int{1, 3} {
		m, clk := newTestManager(t, Config{
			Defaults: Settings{TripThreshold: 1, CoolDown: time.Second, HalfOpenTrials: trials},
		})
		ctx := context.Background()

		fail(t, m, "p", 1)
		clk.Advance(time.Second)

		var admitted atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := m.Admit(ctx, "p")
				if err == nil && d.Allowed {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()

		if got := admitted.Load(); got != int64(trials) {
			t.Errorf("Expected exactly %d trial admissions, got %d", trials, got)
		}
	}
}

func TestManager_LostTrialIsRegranted(t *testing.T) {
	m, clk := newTestManager(t, Config{
		Defaults: Settings{TripThreshold: 1, CoolDown: 5 * time.Second},
	})
	ctx := context.Background()

	fail(t, m, "p", 1)
	clk.Advance(5 * time.Second)
	if d, _ := m.Admit(ctx, "p"); !d.Trial {
		t.Fatal("Expected a trial")
	}

	clk.Advance(4 * time.Second)
	d, _ := m.Admit(ctx, "p")
	if d.Allowed {
		t.Fatal("Expected no second trial while the first may still report")
	}
	if d.RetryAfter != time.Second {
		t.Errorf("Expected retry after 1s, got %v", d.RetryAfter)
	}

	clk.Advance(time.Second)
	if d, _ := m.Admit(ctx, "p"); !d.Trial {
		t.Error("Expected the trial slot to be regranted")
	}
}

func TestManager_ReleaseTrial(t *testing.T) {
	m, clk := newTestManager(t, Config{
		Defaults: Settings{TripThreshold: 1, CoolDown: 5 * time.Second, HalfOpenTrials: 2},
	})
	ctx := context.Background()

	// Nothing to release on a closed circuit.
	if err := m.ReleaseTrial(ctx, "p"); err != nil {
		t.Fatalf("ReleaseTrial failed: %v", err)
	}
	state, _ := m.Get(ctx, "p")
	if state.Status != StatusClosed {
		t.Fatalf("Expected closed, got %s", state.Status)
	}

	fail(t, m, "p", 1)
	clk.Advance(5 * time.Second)
	for i := 0; i < 2; i++ {
		if d, _ := m.Admit(ctx, "p"); !d.Trial {
			t.Fatalf("Expected trial %d", i+1)
		}
	}
	if d, _ := m.Admit(ctx, "p"); d.Allowed {
		t.Fatal("Expected trial slots to be exhausted")
	}

	if err := m.ReleaseTrial(ctx, "p"); err != nil {
		t.Fatalf("ReleaseTrial failed: %v", err)
	}
	d, _ := m.Admit(ctx, "p")
	if !d.Allowed || !d.Trial {
		t.Fatalf("Expected the released slot to be admitted again, got %+v", d)
	}

	// Releases never exceed the configured slots.
	for i := 0; i < 5; i++ {
		if err := m.ReleaseTrial(ctx, "p"); err != nil {
			t.Fatalf("ReleaseTrial failed: %v", err)
		}
	}
	state, _ = m.Get(ctx, "p")
	if state.TrialsRemaining != 2 {
		t.Errorf("Expected trials capped at 2, got %d", state.TrialsRemaining)
	}

	// A circuit that re-opened keeps its slots at zero.
	fail(t, m, "p", 1)
	if err := m.ReleaseTrial(ctx, "p"); err != nil {
		t.Fatalf("ReleaseTrial failed: %v", err)
	}
	state, _ = m.Get(ctx, "p")
	if state.Status != StatusOpen || state.TrialsRemaining != 0 {
		t.Errorf("Expected open with no trials, got %s with %d", state.Status, state.TrialsRemaining)
	}
}

func TestManager_ProviderOverrides(t *testing.T) {
	m, _ := newTestManager(t, Config{
		Defaults:  Settings{TripThreshold: 5, CoolDown: 30 * time.Second},
		Providers: map[string]Settings{"flaky": {TripThreshold: 2}},
	})

	s := m.Settings("flaky")
	if s.TripThreshold != 2 || s.CoolDown != 30*time.Second {
		t.Errorf("Expected override merged with defaults, got %+v", s)
	}

	fail(t, m, "flaky", 2)
	fail(t, m, "stable", 2)

	ctx := context.Background()
	if d, _ := m.Admit(ctx, "flaky"); d.Allowed {
		t.Error("Expected flaky provider to be open")
	}
	if d, _ := m.Admit(ctx, "stable"); !d.Allowed {
		t.Error("Expected stable provider to be closed")
	}
}

func TestManager_ResetAndListener(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	listener := func(provider string, from, to Status) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, string(from)+">"+string(to))
	}

	m, _ := newTestManager(t, Config{Defaults: Settings{TripThreshold: 1}}, WithListener(listener))
	ctx := context.Background()

	fail(t, m, "p", 1)
	if err := m.Reset(ctx, "p"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	state, _ := m.Get(ctx, "p")
	if state.Status != StatusClosed || state.ConsecutiveFailures != 0 {
		t.Errorf("Expected clean closed state after reset, got %+v", state)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"closed>open", "open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("Expected transition %s, got %s", want[i], transitions[i])
		}
	}
}

type brokenStore struct {
	counter.Store
}

func (brokenStore) Get(context.Context, string) (counter.Value, error) {
	return counter.Value{}, errors.New("dial tcp: connection refused")
}

func TestManager_StoreFailure(t *testing.T) {
	m, err := NewManager(brokenStore{}, Config{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	d, err := m.Admit(context.Background(), "p")
	if d != nil {
		t.Error("Expected no decision on store failure")
	}
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("Expected store unavailable error, got %v", err)
	}
}

func TestManager_ConfigValidation(t *testing.T) {
	if _, err := NewManager(nil, Config{}); err == nil {
		t.Error("Expected error for nil store")
	}

	m, _ := newTestManager(t, Config{})
	if err := m.UpdateConfig(Config{Defaults: Settings{TripThreshold: -1}}); err == nil {
		t.Error("Expected negative threshold to be rejected")
	}
	if err := m.UpdateConfig(Config{Defaults: Settings{TripThreshold: 2}}); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	if m.Settings("any").TripThreshold != 2 {
		t.Error("Expected updated threshold")
	}
}

func TestManager_SharedRedisState(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	newInstance := func() *Manager {
		store, err := counter.NewRedisStore(ctx, counter.RedisConfig{Addr: mr.Addr()})
		if err != nil {
			t.Fatalf("NewRedisStore failed: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		m, err := NewManager(store, Config{Defaults: Settings{TripThreshold: 2, CoolDown: time.Minute}})
		if err != nil {
			t.Fatalf("NewManager failed: %v", err)
		}
		return m
	}

	a, b := newInstance(), newInstance()

	fail(t, a, "openai", 1)
	fail(t, b, "openai", 1)

	d, err := a.Admit(ctx, "openai")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if d.Allowed {
		t.Error("Expected failures from both instances to trip the shared circuit")
	}
	if !mr.Exists("cb:openai") {
		t.Error("Expected circuit state stored under cb:openai")
	}
	if ttl := mr.TTL("cb:openai"); ttl != 0 {
		t.Errorf("Expected circuit state without expiry, got %v", ttl)
	}
}
