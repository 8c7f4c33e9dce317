package client

import (
	"fmt"
	"time"

	"mercator-hq/costgate/pkg/api/types"
	"mercator-hq/costgate/pkg/apperrors"
)

// APIError is a non-2xx response from the costgate API.
//
// It unwraps to the matching apperrors sentinel, so callers can test it with
// errors.Is(err, apperrors.ErrNotFound) and friends.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Type is the error type from the response envelope.
	Type string

	// Message is the human-readable message from the envelope.
	Message string

	// Fields lists per-field problems of a validation error.
	Fields []types.FieldError

	// SuggestedActions lists remediations for budget constraint errors.
	SuggestedActions []string

	// RetryAfter is parsed from the Retry-After header when present.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("costgate API error (status %d, %s, retry after %s): %s",
			e.StatusCode, e.Type, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("costgate API error (status %d, %s): %s", e.StatusCode, e.Type, e.Message)
}

// Unwrap maps the envelope type back to the domain sentinel.
func (e *APIError) Unwrap() error {
	switch e.Type {
	case types.ErrorTypeValidation:
		return apperrors.ErrValidation
	case types.ErrorTypeNotFound:
		return apperrors.ErrNotFound
	case types.ErrorTypeConflict:
		return apperrors.ErrConflict
	case types.ErrorTypeRateLimitExceeded:
		return apperrors.ErrRateLimited
	case types.ErrorTypeCircuitOpen:
		return apperrors.ErrCircuitOpen
	case types.ErrorTypeBudgetExceeded:
		return apperrors.ErrBudgetConstraint
	case types.ErrorTypeServiceUnavailable:
		return apperrors.ErrStoreUnavailable
	}
	return nil
}
