package types

import (
	"time"

	"mercator-hq/costgate/pkg/limits/budget"
)

// RecordUsageRequest is the body of POST /budgets/{id}/usage.
type RecordUsageRequest struct {
	ID        string               `json:"id,omitempty"`
	Amount    float64              `json:"amount"`
	Currency  string               `json:"currency"`
	Timestamp time.Time            `json:"timestamp,omitzero"`
	Source    string               `json:"source,omitempty"`
	Metadata  budget.UsageMetadata `json:"metadata"`
}

// CheckConstraintsRequest is the body of POST /budgets/{id}/check-constraints.
type CheckConstraintsRequest struct {
	EstimatedCost float64 `json:"estimated_cost"`
}

// OutcomeRequest is the body of POST /admission/outcome.
type OutcomeRequest struct {
	ID         string    `json:"id,omitempty"`
	ProviderID string    `json:"provider_id"`
	Success    bool      `json:"success"`
	LatencyMS  float64   `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp,omitzero"`
}

// Latency converts LatencyMS to a duration.
func (r OutcomeRequest) Latency() time.Duration {
	return time.Duration(r.LatencyMS * float64(time.Millisecond))
}

// ErrorRateRequest is the body of PUT /admission/error-rate.
type ErrorRateRequest struct {
	// ErrorRate is the rolling provider error rate in [0, 1].
	ErrorRate *float64 `json:"error_rate"`
}
