package limits

import (
	"context"
	"time"

	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/limits/ratelimit"
)

// RejectedBy names the check that denied a request.
type RejectedBy string

const (
	RejectedByCircuit   RejectedBy = "circuit"
	RejectedByRateLimit RejectedBy = "rate_limit"
	RejectedByBudget    RejectedBy = "budget"
)

// ScopeIDs identifies the caller at every scope level. Empty ids are skipped.
type ScopeIDs struct {
	UserID         string `json:"user_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	TeamID         string `json:"team_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// AdmitRequest is a request for permission to call a provider.
type AdmitRequest struct {
	ProviderID    string   `json:"provider_id"`
	Scope         ScopeIDs `json:"scope"`
	EstimatedCost float64  `json:"estimated_cost"`
	Currency      string   `json:"currency,omitempty"`

	// Model is the requested model, used to suggest a downgrade.
	Model string `json:"model,omitempty"`
}

// AdmitDecision is the single structured answer to an AdmitRequest.
type AdmitDecision struct {
	Allow      bool       `json:"allow"`
	RejectedBy RejectedBy `json:"rejected_by,omitempty"`
	Reason     string     `json:"reason,omitempty"`

	// SuggestedActions are the actions of the deciding budget alert, verbatim.
	SuggestedActions []string `json:"suggested_actions,omitempty"`

	// RetryAfter is set for rate limit and circuit rejections.
	RetryAfter time.Duration `json:"-"`

	// RetryAfterMs is RetryAfter in whole milliseconds, rounded up.
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`

	// Tier is the rate limit tier that rejected.
	Tier ratelimit.Tier `json:"tier,omitempty"`

	// BudgetID is the budget that rejected or produced a warning.
	BudgetID string `json:"budget_id,omitempty"`

	// DowngradedModel is a cheaper model suggested by an auto-downgrade alert.
	DowngradedModel string `json:"downgraded_model,omitempty"`

	// RequiresApproval is set when a triggered alert asks for approval.
	RequiresApproval bool `json:"requires_approval,omitempty"`

	// Warnings describe conditions that did not deny the request.
	Warnings []string `json:"warnings,omitempty"`
}

// SetRetryAfter sets the wait before a rejected request may be retried.
func (d *AdmitDecision) SetRetryAfter(wait time.Duration) {
	if wait < 0 {
		wait = 0
	}
	d.RetryAfter = wait
	d.RetryAfterMs = int64((wait + time.Millisecond - 1) / time.Millisecond)
}

// Wait returns the retry wait, falling back to RetryAfterMs for a decision
// decoded from JSON.
func (d *AdmitDecision) Wait() time.Duration {
	if d.RetryAfter > 0 {
		return d.RetryAfter
	}
	return time.Duration(d.RetryAfterMs) * time.Millisecond
}

// Err returns the typed error describing a rejection, or nil when allowed.
func (d *AdmitDecision) Err(req AdmitRequest) error {
	if d.Allow {
		return nil
	}
	switch d.RejectedBy {
	case RejectedByCircuit:
		return &apperrors.CircuitOpenError{ProviderID: req.ProviderID, RetryAfter: d.Wait()}
	case RejectedByRateLimit:
		return &apperrors.RateLimitError{Tier: string(d.Tier), Key: rateLimitKey(d.Tier, req), RetryAfter: d.Wait()}
	default:
		return &apperrors.BudgetConstraintError{BudgetID: d.BudgetID, Reason: d.Reason, SuggestedActions: d.SuggestedActions}
	}
}

func rateLimitKey(tier ratelimit.Tier, req AdmitRequest) string {
	switch tier {
	case ratelimit.TierProvider:
		return req.ProviderID
	case ratelimit.TierUser:
		return req.Scope.UserID
	}
	return ratelimit.GlobalKey
}

// UsageReport is the actual cost of a completed provider call.
type UsageReport struct {
	RequestID  string    `json:"request_id,omitempty"`
	ProviderID string    `json:"provider_id"`
	Scope      ScopeIDs  `json:"scope"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitzero"`

	Tags map[string]string `json:"tags,omitempty"`
}

// Outcome is the result of a provider call, fed to the circuit breaker.
type Outcome struct {
	ID         string        `json:"id"`
	ProviderID string        `json:"provider_id"`
	Success    bool          `json:"success"`
	Latency    time.Duration `json:"latency"`
	Timestamp  time.Time     `json:"timestamp"`
}

// OutcomeSink receives outcomes that could not be applied after retries.
type OutcomeSink interface {
	EnqueueOutcome(ctx context.Context, o Outcome) error
}
