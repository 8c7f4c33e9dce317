package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/apperrors"
)

// maxDepth bounds ancestor walks so corrupted data cannot loop forever.
const maxDepth = 32

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	Repository Repository

	// Resolver checks parent/child scope ancestry. Default: RankResolver.
	Resolver ScopeResolver

	Clock  clock.Clock
	Logger *slog.Logger
}

// Registry owns budget definitions and their hierarchy.
type Registry struct {
	repo     Repository
	resolver ScopeResolver
	clock    clock.Clock
	logger   *slog.Logger
}

// NewRegistry creates a budget registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("repository cannot be nil")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = RankResolver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "budget.registry")
	}

	return &Registry{
		repo:     cfg.Repository,
		resolver: cfg.Resolver,
		clock:    clock.OrReal(cfg.Clock),
		logger:   cfg.Logger,
	}, nil
}

// Create validates req and stores a new budget.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Definition, error) {
	now := r.clock.Now()

	def := &Definition{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(req.Name),
		Scope:          Scope{Type: req.Scope.Type, ID: strings.TrimSpace(req.Scope.ID)},
		Amount:         req.Amount,
		Currency:       normalizeCurrency(req.Currency),
		Period:         req.Period,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Recurring:      req.Recurring,
		Alerts:         req.Alerts,
		ParentBudgetID: strings.TrimSpace(req.ParentBudgetID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if def.Alerts == nil {
		def.Alerts = []Alert{}
	}
	if def.Period == PeriodCustom {
		def.Recurring = false
	}

	verr := &apperrors.ValidationError{}
	validateDefinition(def, verr)
	if verr.HasErrors() {
		return nil, verr
	}
	if err := r.validateParent(ctx, def, verr); err != nil {
		return nil, err
	}
	if verr.HasErrors() {
		return nil, verr
	}

	if err := r.repo.CreateBudget(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to create budget: %w", err)
	}

	r.logger.Info("budget created",
		"budget_id", def.ID,
		"scope_type", def.Scope.Type,
		"scope_id", def.Scope.ID,
		"amount", def.Amount,
		"currency", def.Currency,
		"period", def.Period,
		"parent_budget_id", def.ParentBudgetID,
	)

	return def.Clone(), nil
}

// Get returns a live (not deleted) budget.
func (r *Registry) Get(ctx context.Context, id string) (*Definition, error) {
	def, err := r.repo.GetBudget(ctx, id)
	if err != nil {
		return nil, err
	}
	if def.Deleted() {
		return nil, apperrors.NewNotFoundError("budget", id)
	}
	return def, nil
}

// Update applies a partial update. The result must satisfy the same rules as
// a new budget, and re-parenting must not create a cycle.
func (r *Registry) Update(ctx context.Context, id string, req UpdateRequest) (*Definition, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	def := current.Clone()
	if req.Name != nil {
		def.Name = strings.TrimSpace(*req.Name)
	}
	if req.Amount != nil {
		def.Amount = *req.Amount
	}
	if req.EndDate != nil {
		end := *req.EndDate
		def.EndDate = &end
	}
	if req.Recurring != nil && def.Period != PeriodCustom {
		def.Recurring = *req.Recurring
	}
	if req.Alerts != nil {
		def.Alerts = append([]Alert{}, (*req.Alerts)...)
	}
	parentChanged := false
	if req.ParentBudgetID != nil {
		parentChanged = strings.TrimSpace(*req.ParentBudgetID) != def.ParentBudgetID
		def.ParentBudgetID = strings.TrimSpace(*req.ParentBudgetID)
	}

	verr := &apperrors.ValidationError{}
	validateDefinition(def, verr)
	if verr.HasErrors() {
		return nil, verr
	}
	if parentChanged {
		if err := r.validateParent(ctx, def, verr); err != nil {
			return nil, err
		}
		if verr.HasErrors() {
			return nil, verr
		}
	}

	def.UpdatedAt = r.clock.Now()
	if err := r.repo.UpdateBudget(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to update budget: %w", err)
	}

	r.logger.Info("budget updated", "budget_id", def.ID)
	return def.Clone(), nil
}

// Delete soft-deletes a budget. Budgets with active children cannot be deleted.
func (r *Registry) Delete(ctx context.Context, id string) error {
	def, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	children, err := r.repo.ListChildBudgets(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list child budgets: %w", err)
	}
	now := r.clock.Now()
	for _, c := range children {
		if c.Active(now) {
			return apperrors.NewConflictError("budget", id,
				fmt.Sprintf("has active child budget %s", c.ID))
		}
	}

	def.DeletedAt = &now
	def.UpdatedAt = now
	if err := r.repo.UpdateBudget(ctx, def); err != nil {
		return fmt.Errorf("failed to delete budget: %w", err)
	}

	r.logger.Info("budget deleted", "budget_id", id)
	return nil
}

// ListByScope returns the budgets owned by a scope. Deleted and ended budgets
// are included only when includeInactive is set.
func (r *Registry) ListByScope(ctx context.Context, scopeType ScopeType, scopeID string, includeInactive bool) ([]*Definition, error) {
	if !scopeType.Valid() {
		return nil, apperrors.NewValidationError("scope.type", fmt.Sprintf("unknown scope type %q", scopeType))
	}

	defs, err := r.repo.ListBudgetsByScope(ctx, Scope{Type: scopeType, ID: scopeID})
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("database", "list_budgets", err)
	}

	if includeInactive {
		return defs, nil
	}

	now := r.clock.Now()
	active := make([]*Definition, 0, len(defs))
	for _, d := range defs {
		if d.Active(now) {
			active = append(active, d)
		}
	}
	return active, nil
}

// Ancestors returns the parent chain of id, nearest first. Deleted ancestors
// end the chain.
func (r *Registry) Ancestors(ctx context.Context, id string) ([]*Definition, error) {
	def, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.ancestorsOf(ctx, def)
}

func (r *Registry) ancestorsOf(ctx context.Context, def *Definition) ([]*Definition, error) {
	var chain []*Definition
	seen := map[string]bool{def.ID: true}

	parentID := def.ParentBudgetID
	for depth := 0; parentID != ""; depth++ {
		if depth >= maxDepth || seen[parentID] {
			return nil, fmt.Errorf("budget hierarchy of %s is cyclic or too deep", def.ID)
		}
		seen[parentID] = true

		parent, err := r.repo.GetBudget(ctx, parentID)
		if errors.Is(err, apperrors.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load parent budget %s: %w", parentID, err)
		}
		if parent.Deleted() {
			break
		}

		chain = append(chain, parent)
		parentID = parent.ParentBudgetID
	}

	return chain, nil
}

// validateParent checks the parent reference of def. Rule violations are
// added to verr; the returned error is reserved for storage failures.
func (r *Registry) validateParent(ctx context.Context, def *Definition, verr *apperrors.ValidationError) error {
	if def.ParentBudgetID == "" {
		return nil
	}
	if def.ParentBudgetID == def.ID {
		verr.Add("parent_budget_id", "a budget cannot be its own parent")
		return nil
	}

	parent, err := r.repo.GetBudget(ctx, def.ParentBudgetID)
	if errors.Is(err, apperrors.ErrNotFound) || (err == nil && parent.Deleted()) {
		verr.Add("parent_budget_id", fmt.Sprintf("parent budget %s does not exist", def.ParentBudgetID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load parent budget: %w", err)
	}

	ok, err := r.resolver.IsAncestor(ctx, parent.Scope, def.Scope)
	if err != nil {
		return fmt.Errorf("failed to resolve scope ancestry: %w", err)
	}
	if !ok {
		verr.Add("parent_budget_id", fmt.Sprintf("parent scope %s/%s is not an ancestor of %s/%s",
			parent.Scope.Type, parent.Scope.ID, def.Scope.Type, def.Scope.ID))
	}

	if parent.Currency != def.Currency {
		verr.Add("currency", fmt.Sprintf("must match parent budget currency %s", parent.Currency))
	}

	chain, err := r.ancestorsOf(ctx, parent)
	if err != nil {
		verr.Add("parent_budget_id", err.Error())
		return nil
	}
	for _, a := range chain {
		if a.ID == def.ID {
			verr.Add("parent_budget_id", "re-parenting would create a cycle")
			break
		}
	}

	return nil
}
