package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/limits/budget"
)

// MemoryStore implements Store using in-memory maps.
// All data is lost when the process exits.
//
// MemoryStore is thread-safe and supports concurrent access using sync.RWMutex.
type MemoryStore struct {
	budgets map[string]*budget.Definition

	// usage maps budget id to its records in append order.
	usage map[string][]*budget.UsageRecord

	// usageIDs deduplicates appends.
	usageIDs map[string]struct{}

	mu     sync.RWMutex
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		budgets:  make(map[string]*budget.Definition),
		usage:    make(map[string][]*budget.UsageRecord),
		usageIDs: make(map[string]struct{}),
	}
}

// CreateBudget stores a new budget definition.
func (m *MemoryStore) CreateBudget(ctx context.Context, def *budget.Definition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("budget id cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}
	if _, exists := m.budgets[def.ID]; exists {
		return apperrors.NewConflictError("budget", def.ID, "already exists")
	}
	m.budgets[def.ID] = def.Clone()
	return nil
}

// GetBudget returns a budget, including soft-deleted ones.
func (m *MemoryStore) GetBudget(ctx context.Context, id string) (*budget.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errClosed
	}
	def, ok := m.budgets[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("budget", id)
	}
	return def.Clone(), nil
}

// UpdateBudget replaces an existing budget definition.
func (m *MemoryStore) UpdateBudget(ctx context.Context, def *budget.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}
	if _, ok := m.budgets[def.ID]; !ok {
		return apperrors.NewNotFoundError("budget", def.ID)
	}
	m.budgets[def.ID] = def.Clone()
	return nil
}

// ListBudgetsByScope returns every budget of a scope ordered by creation time.
func (m *MemoryStore) ListBudgetsByScope(ctx context.Context, scope budget.Scope) ([]*budget.Definition, error) {
	return m.filter(func(d *budget.Definition) bool { return d.Scope == scope })
}

// ListChildBudgets returns the direct children of a budget.
func (m *MemoryStore) ListChildBudgets(ctx context.Context, parentID string) ([]*budget.Definition, error) {
	return m.filter(func(d *budget.Definition) bool { return d.ParentBudgetID == parentID })
}

func (m *MemoryStore) filter(keep func(*budget.Definition) bool) ([]*budget.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errClosed
	}

	out := []*budget.Definition{}
	for _, d := range m.budgets {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// AppendUsage appends a usage record. Appending the same id twice is a no-op.
func (m *MemoryStore) AppendUsage(ctx context.Context, rec *budget.UsageRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("usage record id cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}
	if _, dup := m.usageIDs[rec.ID]; dup {
		return nil
	}

	cp := *rec
	m.usageIDs[rec.ID] = struct{}{}
	m.usage[rec.BudgetID] = append(m.usage[rec.BudgetID], &cp)
	return nil
}

// ListUsage returns a budget's records with since <= timestamp < until.
// Zero bounds are open.
func (m *MemoryStore) ListUsage(ctx context.Context, budgetID string, since, until time.Time) ([]*budget.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errClosed
	}

	out := []*budget.UsageRecord{}
	for _, r := range m.usage[budgetID] {
		if inRange(r.Timestamp, since, until) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Ping reports whether the store is open.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Size returns the number of stored budgets.
// This is useful for monitoring and testing.
func (m *MemoryStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.budgets)
}

func inRange(ts, since, until time.Time) bool {
	if !since.IsZero() && ts.Before(since) {
		return false
	}
	if !until.IsZero() && !ts.Before(until) {
		return false
	}
	return true
}
