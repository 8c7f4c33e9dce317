package budget

import (
	"context"
	"time"
)

// ScopeType is the ownership dimension of a budget.
type ScopeType string

const (
	ScopeOrganization ScopeType = "organization"
	ScopeTeam         ScopeType = "team"
	ScopeProject      ScopeType = "project"
	ScopeUser         ScopeType = "user"
)

// Valid reports whether s is a known scope type.
func (s ScopeType) Valid() bool {
	switch s {
	case ScopeOrganization, ScopeTeam, ScopeProject, ScopeUser:
		return true
	}
	return false
}

// Scope identifies the owner of a budget.
type Scope struct {
	Type ScopeType `json:"type"`
	ID   string    `json:"id"`
}

// Period is the budget reset cadence.
type Period string

const (
	PeriodDaily     Period = "daily"
	PeriodWeekly    Period = "weekly"
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
	PeriodAnnual    Period = "annual"
	PeriodCustom    Period = "custom"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodAnnual, PeriodCustom:
		return true
	}
	return false
}

// Alert is a threshold on percent used with the actions to take when crossed.
type Alert struct {
	// Threshold is a percentage in (0, 100].
	Threshold float64 `json:"threshold"`

	// Actions are enforcement actions, e.g. "notify", "auto-downgrade",
	// "require-approval", "block-all".
	Actions []string `json:"actions"`

	// NotificationTargets are opaque addresses handed to the Notifier.
	NotificationTargets []string `json:"notification_targets,omitempty"`
}

// Definition is a budget.
type Definition struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Scope          Scope      `json:"scope"`
	Amount         float64    `json:"amount"`
	Currency       string     `json:"currency"`
	Period         Period     `json:"period"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	Recurring      bool       `json:"recurring"`
	Alerts         []Alert    `json:"alerts"`
	ParentBudgetID string     `json:"parent_budget_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the budget was soft-deleted.
func (d *Definition) Deleted() bool {
	return d.DeletedAt != nil
}

// Ended reports whether the budget's end date has passed at now. A
// non-recurring budget also ends when its single period does.
func (d *Definition) Ended(now time.Time) bool {
	if d.EndDate != nil && !now.Before(*d.EndDate) {
		return true
	}
	if d.Recurring || d.Period == PeriodCustom {
		return false
	}
	_, end := PeriodBounds(d, d.StartDate)
	return !now.Before(end)
}

// Active reports whether the budget is neither deleted nor ended.
func (d *Definition) Active(now time.Time) bool {
	return !d.Deleted() && !d.Ended(now)
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	cp := *d
	if d.EndDate != nil {
		end := *d.EndDate
		cp.EndDate = &end
	}
	if d.DeletedAt != nil {
		del := *d.DeletedAt
		cp.DeletedAt = &del
	}
	cp.Alerts = make([]Alert, len(d.Alerts))
	for i, a := range d.Alerts {
		cp.Alerts[i] = Alert{
			Threshold:           a.Threshold,
			Actions:             append([]string(nil), a.Actions...),
			NotificationTargets: append([]string(nil), a.NotificationTargets...),
		}
	}
	return &cp
}

// CreateRequest describes a new budget.
type CreateRequest struct {
	Name           string     `json:"name"`
	Scope          Scope      `json:"scope"`
	Amount         float64    `json:"amount"`
	Currency       string     `json:"currency"`
	Period         Period     `json:"period"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	Recurring      bool       `json:"recurring"`
	Alerts         []Alert    `json:"alerts"`
	ParentBudgetID string     `json:"parent_budget_id,omitempty"`
}

// UpdateRequest is a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	Name      *string    `json:"name,omitempty"`
	Amount    *float64   `json:"amount,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Recurring *bool      `json:"recurring,omitempty"`
	Alerts    *[]Alert   `json:"alerts,omitempty"`

	// ParentBudgetID re-parents the budget; an empty string detaches it.
	ParentBudgetID *string `json:"parent_budget_id,omitempty"`
}

// UsageMetadata describes where a usage record came from.
type UsageMetadata struct {
	RequestID  string            `json:"request_id,omitempty"`
	ProviderID string            `json:"provider_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	TeamID     string            `json:"team_id,omitempty"`
	ProjectID  string            `json:"project_id,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// UsageRecord is one immutable spend event.
type UsageRecord struct {
	ID        string        `json:"id"`
	BudgetID  string        `json:"budget_id"`
	Amount    float64       `json:"amount"`
	Currency  string        `json:"currency"`
	Timestamp time.Time     `json:"timestamp"`
	Source    string        `json:"source"`
	Metadata  UsageMetadata `json:"metadata"`
}

// Status classifies how much of a budget is used.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusExceeded Status = "exceeded"
)

// rank orders statuses by severity.
func (s Status) rank() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusCritical:
		return 2
	case StatusExceeded:
		return 3
	}
	return 0
}

// AlertStatus is a triggered alert in the current period.
type AlertStatus struct {
	Threshold    float64   `json:"threshold"`
	Actions      []string  `json:"actions"`
	TriggeredAt  time.Time `json:"triggered_at"`
	Acknowledged bool      `json:"acknowledged"`
}

// StatusInfo is the derived state of a budget in its current period.
type StatusInfo struct {
	BudgetID       string        `json:"budget_id"`
	CurrentAmount  float64       `json:"current_amount"`
	Limit          float64       `json:"limit"`
	Currency       string        `json:"currency"`
	PercentUsed    float64       `json:"percent_used"`
	Remaining      float64       `json:"remaining"`
	DaysRemaining  int           `json:"days_remaining"`
	BurnRate       float64       `json:"burn_rate"`
	ProjectedTotal float64       `json:"projected_total"`
	Status         Status        `json:"status"`
	ActiveAlerts   []AlertStatus `json:"active_alerts"`
	PeriodStart    time.Time     `json:"period_start"`
	PeriodEnd      time.Time     `json:"period_end"`
}

// ConstraintCheck answers whether a request with an estimated cost may proceed.
type ConstraintCheck struct {
	BudgetID         string   `json:"budget_id"`
	CanProceed       bool     `json:"can_proceed"`
	Reason           string   `json:"reason,omitempty"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	CurrentAmount    float64  `json:"current_amount"`
	Limit            float64  `json:"limit"`
	Status           Status   `json:"status"`
}

// Repository persists budget definitions. GetBudget returns an
// apperrors.NotFoundError for unknown ids and returns deleted definitions
// too; the Registry decides visibility.
type Repository interface {
	CreateBudget(ctx context.Context, def *Definition) error
	GetBudget(ctx context.Context, id string) (*Definition, error)
	UpdateBudget(ctx context.Context, def *Definition) error
	ListBudgetsByScope(ctx context.Context, scope Scope) ([]*Definition, error)
	ListChildBudgets(ctx context.Context, parentID string) ([]*Definition, error)
}

// Ledger is the append-only store of usage records.
type Ledger interface {
	AppendUsage(ctx context.Context, rec *UsageRecord) error
	ListUsage(ctx context.Context, budgetID string, since, until time.Time) ([]*UsageRecord, error)
}

// ScopeResolver decides whether parent is an ancestor scope of child.
type ScopeResolver interface {
	IsAncestor(ctx context.Context, parent, child Scope) (bool, error)
}

// Notifier delivers fired alerts.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Notification is a fired alert handed to a Notifier.
type Notification struct {
	BudgetID    string
	BudgetName  string
	Scope       Scope
	Threshold   float64
	PercentUsed float64
	Actions     []string
	Targets     []string
	PeriodStart time.Time
	FiredAt     time.Time
}

// UsageSink receives usage whose counter updates could not be applied, for
// later replay through Tracker.ApplyUsage.
type UsageSink interface {
	EnqueueUsage(ctx context.Context, rec *UsageRecord, targetIDs []string) error
}
