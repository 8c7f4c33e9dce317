package types

import (
	"mercator-hq/costgate/pkg/limits"
	"mercator-hq/costgate/pkg/limits/budget"
	"mercator-hq/costgate/pkg/limits/circuit"
)

// BudgetListResponse is the body of GET /budgets/scope/{type}/{id}.
type BudgetListResponse struct {
	Budgets []*budget.Definition `json:"budgets"`
	Count   int                  `json:"count"`
}

// UsageListResponse is the body of GET /budgets/{id}/usage.
type UsageListResponse struct {
	Records []*budget.UsageRecord `json:"records"`
	Count   int                   `json:"count"`
	Total   float64               `json:"total"`
}

// AdmitResponse is the body of POST /admission/check.
type AdmitResponse struct {
	*limits.AdmitDecision

	// RetryAfterSeconds mirrors the Retry-After header on rejections.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// UsageReportResponse is the body of POST /admission/usage.
type UsageReportResponse struct {
	Records []*budget.UsageRecord `json:"records"`
	Count   int                   `json:"count"`
}

// CircuitResponse is the body of GET /circuits/{provider}.
type CircuitResponse struct {
	*circuit.State

	Settings          circuit.Settings `json:"settings"`
	RetryAfterSeconds int              `json:"retry_after_seconds,omitempty"`
}
