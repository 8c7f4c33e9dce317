package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/limits/budget"
)

// newTestSQLiteStore creates a SQLite store in a temp directory.
func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "budgets.db"))
	if err != nil {
		t.Fatalf("Failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// forEachStore runs fn against every backend.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newTestSQLiteStore(t))
	})
}

var baseTime = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func testBudget(id string, scope budget.Scope, parent string, created time.Time) *budget.Definition {
	return &budget.Definition{
		ID:        id,
		Name:      "budget " + id,
		Scope:     scope,
		Amount:    100,
		Currency:  "USD",
		Period:    budget.PeriodMonthly,
		StartDate: baseTime,
		Recurring: true,
		Alerts: []budget.Alert{
			{Threshold: 50, Actions: []string{"notify"}, NotificationTargets: []string{"ops@example.com"}},
			{Threshold: 90, Actions: []string{"auto-downgrade"}},
		},
		ParentBudgetID: parent,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

// ============================================================================
// Budgets
// ============================================================================

func TestStore_CreateAndGetBudget(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		def := testBudget("b1", budget.Scope{Type: budget.ScopeTeam, ID: "t1"}, "", baseTime)
		end := baseTime.AddDate(1, 0, 0)
		def.EndDate = &end

		if err := s.CreateBudget(ctx, def); err != nil {
			t.Fatalf("CreateBudget failed: %v", err)
		}

		got, err := s.GetBudget(ctx, "b1")
		if err != nil {
			t.Fatalf("GetBudget failed: %v", err)
		}
		if got.Name != def.Name {
			t.Errorf("Expected name %s, got %s", def.Name, got.Name)
		}
		if got.Scope != def.Scope {
			t.Errorf("Expected scope %v, got %v", def.Scope, got.Scope)
		}
		if !got.StartDate.Equal(def.StartDate) {
			t.Errorf("Expected start %v, got %v", def.StartDate, got.StartDate)
		}
		if got.EndDate == nil || !got.EndDate.Equal(end) {
			t.Errorf("Expected end %v, got %v", end, got.EndDate)
		}
		if len(got.Alerts) != 2 || got.Alerts[1].Threshold != 90 {
			t.Errorf("Expected alerts to round-trip, got %+v", got.Alerts)
		}
		if got.Alerts[0].NotificationTargets[0] != "ops@example.com" {
			t.Errorf("Expected notification target to round-trip, got %v", got.Alerts[0].NotificationTargets)
		}
		if !got.Recurring {
			t.Error("Expected recurring to round-trip")
		}
	})
}

func TestStore_GetBudgetNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetBudget(context.Background(), "missing")
		if !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_UpdateBudget(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		def := testBudget("b1", budget.Scope{Type: budget.ScopeUser, ID: "u1"}, "", baseTime)
		if err := s.CreateBudget(ctx, def); err != nil {
			t.Fatalf("CreateBudget failed: %v", err)
		}

		deleted := baseTime.Add(time.Hour)
		def.Amount = 250
		def.DeletedAt = &deleted
		def.ParentBudgetID = "p1"
		if err := s.UpdateBudget(ctx, def); err != nil {
			t.Fatalf("UpdateBudget failed: %v", err)
		}

		got, err := s.GetBudget(ctx, "b1")
		if err != nil {
			t.Fatalf("GetBudget failed: %v", err)
		}
		if got.Amount != 250 {
			t.Errorf("Expected amount 250, got %v", got.Amount)
		}
		if !got.Deleted() {
			t.Error("Expected budget to be soft-deleted")
		}
		if got.ParentBudgetID != "p1" {
			t.Errorf("Expected parent p1, got %s", got.ParentBudgetID)
		}

		missing := testBudget("nope", budget.Scope{Type: budget.ScopeUser, ID: "u1"}, "", baseTime)
		if err := s.UpdateBudget(ctx, missing); !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for unknown budget, got %v", err)
		}
	})
}

func TestStore_ListByScopeAndChildren(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		team := budget.Scope{Type: budget.ScopeTeam, ID: "t1"}
		user := budget.Scope{Type: budget.ScopeUser, ID: "u1"}

		for _, def := range []*budget.Definition{
			testBudget("team-b", team, "", baseTime.Add(2*time.Second)),
			testBudget("team-a", team, "", baseTime.Add(time.Second)),
			testBudget("user-1", user, "team-a", baseTime.Add(3*time.Second)),
			testBudget("user-2", user, "team-a", baseTime.Add(4*time.Second)),
		} {
			if err := s.CreateBudget(ctx, def); err != nil {
				t.Fatalf("CreateBudget %s failed: %v", def.ID, err)
			}
		}

		teamBudgets, err := s.ListBudgetsByScope(ctx, team)
		if err != nil {
			t.Fatalf("ListBudgetsByScope failed: %v", err)
		}
		if len(teamBudgets) != 2 {
			t.Fatalf("Expected 2 team budgets, got %d", len(teamBudgets))
		}
		if teamBudgets[0].ID != "team-a" {
			t.Errorf("Expected creation order, got %s first", teamBudgets[0].ID)
		}

		children, err := s.ListChildBudgets(ctx, "team-a")
		if err != nil {
			t.Fatalf("ListChildBudgets failed: %v", err)
		}
		if len(children) != 2 {
			t.Errorf("Expected 2 children, got %d", len(children))
		}

		none, err := s.ListBudgetsByScope(ctx, budget.Scope{Type: budget.ScopeOrganization, ID: "o1"})
		if err != nil {
			t.Fatalf("ListBudgetsByScope failed: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("Expected no budgets, got %d", len(none))
		}
	})
}

// ============================================================================
// Usage ledger
// ============================================================================

func TestStore_AppendAndListUsage(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		for i, amount := range []float64{1.5, 2.5, 3.5} {
			rec := &budget.UsageRecord{
				ID:        string(rune('a' + i)),
				BudgetID:  "b1",
				Amount:    amount,
				Currency:  "USD",
				Timestamp: baseTime.Add(time.Duration(i) * time.Hour),
				Source:    "api",
				Metadata: budget.UsageMetadata{
					RequestID:  "req",
					ProviderID: "openai",
					Tags:       map[string]string{"env": "test"},
				},
			}
			if err := s.AppendUsage(ctx, rec); err != nil {
				t.Fatalf("AppendUsage failed: %v", err)
			}
		}

		all, err := s.ListUsage(ctx, "b1", time.Time{}, time.Time{})
		if err != nil {
			t.Fatalf("ListUsage failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("Expected 3 records, got %d", len(all))
		}
		if all[0].Metadata.Tags["env"] != "test" {
			t.Errorf("Expected metadata to round-trip, got %+v", all[0].Metadata)
		}

		window, err := s.ListUsage(ctx, "b1", baseTime.Add(time.Hour), baseTime.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("ListUsage failed: %v", err)
		}
		if len(window) != 1 || window[0].Amount != 2.5 {
			t.Errorf("Expected only the middle record, got %+v", window)
		}
	})
}

func TestStore_AppendUsageIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := &budget.UsageRecord{ID: "r1", BudgetID: "b1", Amount: 5, Currency: "USD", Timestamp: baseTime, Source: "api"}

		for i := 0; i < 3; i++ {
			if err := s.AppendUsage(ctx, rec); err != nil {
				t.Fatalf("AppendUsage attempt %d failed: %v", i, err)
			}
		}

		recs, err := s.ListUsage(ctx, "b1", time.Time{}, time.Time{})
		if err != nil {
			t.Fatalf("ListUsage failed: %v", err)
		}
		if len(recs) != 1 {
			t.Errorf("Expected 1 record after duplicate appends, got %d", len(recs))
		}
	})
}

func TestStore_ConcurrentAppends(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := &budget.UsageRecord{
					ID:        "r" + strconv.Itoa(i),
					BudgetID:  "b1",
					Amount:    1,
					Currency:  "USD",
					Timestamp: baseTime,
					Source:    "api",
				}
				if err := s.AppendUsage(ctx, rec); err != nil {
					t.Errorf("AppendUsage failed: %v", err)
				}
			}(i)
		}
		wg.Wait()

		recs, err := s.ListUsage(ctx, "b1", time.Time{}, time.Time{})
		if err != nil {
			t.Fatalf("ListUsage failed: %v", err)
		}
		if len(recs) != 50 {
			t.Errorf("Expected 50 records, got %d", len(recs))
		}
	})
}

func TestSQLiteStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s1.CreateBudget(ctx, testBudget("b1", budget.Scope{Type: budget.ScopeTeam, ID: "t1"}, "", baseTime)); err != nil {
		t.Fatalf("CreateBudget failed: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent.
	if err := s1.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s2.Close()

	if _, err := s2.GetBudget(ctx, "b1"); err != nil {
		t.Errorf("Expected budget to persist, got %v", err)
	}
	if err := s2.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore(""); err == nil {
		t.Error("Expected error for empty path")
	}
}
