package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/counter"
)

var testStart = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T, config Config) (*Limiter, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(testStart)
	store := counter.NewMemoryStoreWithConfig(counter.MemoryStoreConfig{Clock: clk})
	t.Cleanup(func() { store.Close() })

	limiter, err := NewLimiter(store, config, WithClock(clk))
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	return limiter, clk
}

// failingStore returns an error from every counter operation.
type failingStore struct {
	counter.Store
}

var errStoreDown = errors.New("connection refused")

func (failingStore) IncrBy(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errStoreDown
}

func (failingStore) Get(context.Context, string) (counter.Value, error) {
	return counter.Value{}, errStoreDown
}

func (failingStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errStoreDown
}

// =============================================================================
// Construction
// =============================================================================

func TestNewLimiter_Validation(t *testing.T) {
	store := counter.NewMemoryStore()
	defer store.Close()

	tests := []struct {
		name   string
		config Config
	}{
		{"zero requests", Config{Global: &Limit{Requests: 0, Window: time.Minute}}},
		{"zero window", Config{PerUser: &Limit{Requests: 10}}},
		{"negative burst", Config{DefaultProvider: &Limit{Requests: 10, Window: time.Minute, Burst: -1}}},
		{"bad provider", Config{PerProvider: map[string]Limit{"openai": {Requests: -1, Window: time.Minute}}}},
		{"threshold out of range", Config{Emergency: EmergencyConfig{Enabled: true, Threshold: 1.5}}},
		{"factor out of range", Config{Emergency: EmergencyConfig{Enabled: true, Factor: 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLimiter(store, tt.config); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	if _, err := NewLimiter(nil, Config{}); err == nil {
		t.Error("Expected error for nil store")
	}
}

// =============================================================================
// Fixed window with burst
// =============================================================================

func TestLimiter_BurstThenReject(t *testing.T) {
	limiter, clk := newTestLimiter(t, Config{
		PerUser: &Limit{Requests: 100, Window: time.Minute, Burst: 10},
	})
	ctx := context.Background()

	clk.Advance(15 * time.Second)

	for i := 0; i < 110; i++ {
		d, err := limiter.Admit(ctx, TierUser, "u1")
		if err != nil {
			t.Fatalf("Admit %d failed: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
		if i < 100 && d.UsedBurst {
			t.Errorf("Request %d should not use burst", i+1)
		}
		if i >= 100 && !d.UsedBurst {
			t.Errorf("Request %d should use burst", i+1)
		}
	}

	d, err := limiter.Admit(ctx, TierUser, "u1")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("Expected request 111 to be rejected")
	}
	if d.Tier != TierUser || d.Key != "u1" {
		t.Errorf("Expected user/u1 in decision, got %s/%s", d.Tier, d.Key)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("Expected retry after within the window, got %v", d.RetryAfter)
	}
	if d.RetryAfter != 45*time.Second {
		t.Errorf("Expected retry after 45s, got %v", d.RetryAfter)
	}
}

func TestLimiter_WindowReset(t *testing.T) {
	limiter, clk := newTestLimiter(t, Config{
		Global: &Limit{Requests: 2, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, _ := limiter.Admit(ctx, TierGlobal, GlobalKey); !d.Allowed {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
	}
	if d, _ := limiter.Admit(ctx, TierGlobal, GlobalKey); d.Allowed {
		t.Fatal("Expected third request to be rejected")
	}

	clk.Advance(time.Minute)

	d, err := limiter.Admit(ctx, TierGlobal, GlobalKey)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !d.Allowed {
		t.Error("Expected request to be allowed in the next window")
	}
	if d.Remaining != 1 {
		t.Errorf("Expected 1 remaining, got %d", d.Remaining)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		PerUser: &Limit{Requests: 1, Window: time.Minute},
	})
	ctx := context.Background()

	if d, _ := limiter.Admit(ctx, TierUser, "alice"); !d.Allowed {
		t.Fatal("Expected alice to be allowed")
	}
	if d, _ := limiter.Admit(ctx, TierUser, "bob"); !d.Allowed {
		t.Error("Expected bob to have his own window")
	}
	if d, _ := limiter.Admit(ctx, TierUser, "alice"); d.Allowed {
		t.Error("Expected alice's second request to be rejected")
	}
}

func TestLimiter_UnconfiguredTierAllows(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{})
	ctx := context.Background()

	for _, tier := range []Tier{TierGlobal, TierProvider, TierUser} {
		d, err := limiter.Admit(ctx, tier, "k")
		if err != nil {
			t.Fatalf("Admit failed: %v", err)
		}
		if !d.Allowed || d.Limit != 0 {
			t.Errorf("Expected unlimited allow for %s, got %+v", tier, d)
		}
	}
}

func TestLimiter_ProviderOverridesDefault(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		PerProvider:     map[string]Limit{"openai": {Requests: 5, Window: time.Minute}},
		DefaultProvider: &Limit{Requests: 1, Window: time.Minute},
	})
	ctx := context.Background()

	d, _ := limiter.Admit(ctx, TierProvider, "openai")
	if d.Limit != 5 {
		t.Errorf("Expected openai limit 5, got %d", d.Limit)
	}
	d, _ = limiter.Admit(ctx, TierProvider, "anthropic")
	if d.Limit != 1 {
		t.Errorf("Expected default provider limit 1, got %d", d.Limit)
	}
}

func TestLimiter_ConcurrentAdmit(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		Global: &Limit{Requests: 50, Window: time.Minute, Burst: 5},
	})
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Admit(ctx, TierGlobal, GlobalKey)
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 55 {
		t.Errorf("Expected exactly 55 admitted, got %d", got)
	}
}

// =============================================================================
// Chain
// =============================================================================

func TestLimiter_AdmitChainOrder(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		Global:          &Limit{Requests: 100, Window: time.Minute},
		DefaultProvider: &Limit{Requests: 100, Window: time.Minute},
		PerUser:         &Limit{Requests: 1, Window: time.Minute},
	})
	ctx := context.Background()

	d, err := limiter.AdmitChain(ctx, "openai", "u1")
	if err != nil {
		t.Fatalf("AdmitChain failed: %v", err)
	}
	if !d.Allowed {
		t.Fatal("Expected first request to be allowed")
	}

	d, err = limiter.AdmitChain(ctx, "openai", "u1")
	if err != nil {
		t.Fatalf("AdmitChain failed: %v", err)
	}
	if d.Allowed || d.Tier != TierUser {
		t.Errorf("Expected rejection at user tier, got %+v", d)
	}

	// Anonymous requests skip the user tier.
	d, _ = limiter.AdmitChain(ctx, "openai", "")
	if !d.Allowed {
		t.Error("Expected anonymous request to skip the user tier")
	}
}

func TestLimiter_AdmitChainStopsAtFirstRejection(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		Global:  &Limit{Requests: 1, Window: time.Minute},
		PerUser: &Limit{Requests: 10, Window: time.Minute},
	})
	ctx := context.Background()

	limiter.AdmitChain(ctx, "openai", "u1")
	d, _ := limiter.AdmitChain(ctx, "openai", "u1")
	if d.Allowed || d.Tier != TierGlobal {
		t.Fatalf("Expected global rejection, got %+v", d)
	}

	peek, err := limiter.Peek(ctx, TierUser, "u1")
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if peek.Remaining != 9 {
		t.Errorf("Expected user tier untouched by rejected request, got remaining %d", peek.Remaining)
	}
}

// =============================================================================
// Emergency mode
// =============================================================================

func TestLimiter_EmergencyScalesLimits(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		PerUser:   &Limit{Requests: 10, Window: time.Minute, Burst: 4},
		Emergency: EmergencyConfig{Enabled: true, Threshold: 0.2},
	})
	ctx := context.Background()

	limiter.SetErrorRate(0.5)

	admitted := 0
	for i := 0; i < 20; i++ {
		d, err := limiter.Admit(ctx, TierUser, "u1")
		if err != nil {
			t.Fatalf("Admit failed: %v", err)
		}
		if !d.Emergency {
			t.Error("Expected emergency flag on decision")
		}
		if d.Allowed {
			admitted++
		}
	}

	// floor(10*0.5) + floor(4*0.5)
	if admitted != 7 {
		t.Errorf("Expected 7 admitted in emergency mode, got %d", admitted)
	}
}

func TestLimiter_EmergencyMinimumOne(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		PerUser:   &Limit{Requests: 1, Window: time.Minute},
		Emergency: EmergencyConfig{Enabled: true, Threshold: 0.1, Factor: 0.1},
	})
	ctx := context.Background()
	limiter.SetErrorRate(0.9)

	d, _ := limiter.Admit(ctx, TierUser, "u1")
	if !d.Allowed || d.Limit != 1 {
		t.Errorf("Expected one request admitted with limit 1, got %+v", d)
	}
}

func TestLimiter_EmergencyLatchedForWindow(t *testing.T) {
	limiter, clk := newTestLimiter(t, Config{
		Global:    &Limit{Requests: 10, Window: time.Minute},
		Emergency: EmergencyConfig{Enabled: true, Threshold: 0.2},
	})
	ctx := context.Background()

	limiter.SetErrorRate(0.5)
	if d, _ := limiter.Admit(ctx, TierGlobal, GlobalKey); !d.Emergency {
		t.Fatal("Expected emergency mode")
	}

	// Recovery inside the window does not release the latch.
	limiter.SetErrorRate(0)
	clk.Advance(30 * time.Second)
	if d, _ := limiter.Admit(ctx, TierGlobal, GlobalKey); !d.Emergency || d.Limit != 5 {
		t.Errorf("Expected emergency to hold for the window, got %+v", d)
	}

	clk.Advance(30 * time.Second)
	d, _ := limiter.Admit(ctx, TierGlobal, GlobalKey)
	if d.Emergency || d.Limit != 10 {
		t.Errorf("Expected normal limits in the next window, got %+v", d)
	}
}

func TestLimiter_EmergencySharedAcrossInstances(t *testing.T) {
	clk := clock.NewManual(testStart)
	store := counter.NewMemoryStoreWithConfig(counter.MemoryStoreConfig{Clock: clk})
	defer store.Close()

	config := Config{
		Global:    &Limit{Requests: 10, Window: time.Minute},
		Emergency: EmergencyConfig{Enabled: true, Threshold: 0.2},
	}
	a, _ := NewLimiter(store, config, WithClock(clk))
	b, _ := NewLimiter(store, config, WithClock(clk))
	ctx := context.Background()

	a.SetErrorRate(0.9)
	a.Admit(ctx, TierGlobal, GlobalKey)

	d, err := b.Admit(ctx, TierGlobal, GlobalKey)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !d.Emergency {
		t.Error("Expected the second instance to observe the shared latch")
	}
}

type fixedRate float64

func (r fixedRate) ErrorRate() float64 { return float64(r) }

func TestLimiter_ErrorRateSource(t *testing.T) {
	clk := clock.NewManual(testStart)
	store := counter.NewMemoryStoreWithConfig(counter.MemoryStoreConfig{Clock: clk})
	defer store.Close()

	limiter, err := NewLimiter(store, Config{
		Global:    &Limit{Requests: 4, Window: time.Minute},
		Emergency: EmergencyConfig{Enabled: true, Threshold: 0.3},
	}, WithClock(clk), WithErrorRateSource(fixedRate(0.4)))
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	if limiter.ErrorRate() != 0.4 {
		t.Errorf("Expected error rate from source, got %v", limiter.ErrorRate())
	}
	d, _ := limiter.Admit(context.Background(), TierGlobal, GlobalKey)
	if !d.Emergency || d.Limit != 2 {
		t.Errorf("Expected emergency limit 2, got %+v", d)
	}
}

// =============================================================================
// Config and failures
// =============================================================================

func TestLimiter_UpdateConfig(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		PerUser: &Limit{Requests: 1, Window: time.Minute},
	})
	ctx := context.Background()

	limiter.Admit(ctx, TierUser, "u1")
	if d, _ := limiter.Admit(ctx, TierUser, "u1"); d.Allowed {
		t.Fatal("Expected rejection before update")
	}

	if err := limiter.UpdateConfig(Config{PerUser: &Limit{Requests: 5, Window: time.Minute}}); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	if d, _ := limiter.Admit(ctx, TierUser, "u1"); !d.Allowed {
		t.Error("Expected raised limit to admit within the same window")
	}

	if err := limiter.UpdateConfig(Config{PerUser: &Limit{}}); err == nil {
		t.Error("Expected invalid config to be rejected")
	}
	if limiter.Config().PerUser.Requests != 5 {
		t.Error("Expected config unchanged after failed update")
	}
}

func TestLimiter_StoreFailureFailsClosed(t *testing.T) {
	limiter, err := NewLimiter(failingStore{}, Config{
		Global: &Limit{Requests: 10, Window: time.Minute},
	})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	d, err := limiter.Admit(context.Background(), TierGlobal, GlobalKey)
	if err == nil {
		t.Fatal("Expected error from failing store")
	}
	if d != nil {
		t.Error("Expected no decision on store failure")
	}
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("Expected store unavailable error, got %v", err)
	}
	if !errors.Is(err, errStoreDown) {
		t.Errorf("Expected cause to be preserved, got %v", err)
	}
}

func TestLimiter_Peek(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		Global: &Limit{Requests: 3, Window: time.Minute},
	})
	ctx := context.Background()

	limiter.Admit(ctx, TierGlobal, GlobalKey)
	limiter.Admit(ctx, TierGlobal, GlobalKey)

	for i := 0; i < 2; i++ {
		d, err := limiter.Peek(ctx, TierGlobal, GlobalKey)
		if err != nil {
			t.Fatalf("Peek failed: %v", err)
		}
		if d.Remaining != 1 || !d.Allowed {
			t.Errorf("Expected 1 remaining and allowed, got %+v", d)
		}
	}
}
