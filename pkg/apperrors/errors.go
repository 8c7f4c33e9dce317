// Package apperrors defines the error taxonomy shared by the admission core,
// the REST surface and the CLI.
//
// Every typed error unwraps to one of the sentinel values below so callers can
// branch with errors.Is, and can recover the details with errors.As.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for errors.Is checks.
var (
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when an entity does not exist or was deleted.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an operation would break an invariant.
	ErrConflict = errors.New("conflict")

	// ErrRateLimited is returned when a request exceeds a rate limit tier.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCircuitOpen is returned when a provider circuit rejects a request.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrBudgetConstraint is returned when a budget denies a request.
	ErrBudgetConstraint = errors.New("budget constraint violation")

	// ErrStoreUnavailable is returned when the counter store or the database fails.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// FieldError describes one invalid field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects every invalid field of a request.
type ValidationError struct {
	Errors []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return ErrValidation.Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(msgs, "; "))
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Add appends a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// HasErrors reports whether any field error was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// OrNil returns e when it holds field errors and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// NewValidationError creates a ValidationError with a single field error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError reports an operation that would violate an invariant,
// such as deleting a budget that still has active children.
type ConflictError struct {
	Resource string
	ID       string
	Message  string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Resource, e.ID, e.Message)
}

// Unwrap returns ErrConflict.
func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// NewConflictError creates a ConflictError.
func NewConflictError(resource, id, message string) *ConflictError {
	return &ConflictError{Resource: resource, ID: id, Message: message}
}

// RateLimitError reports a rejection by one rate limit tier.
type RateLimitError struct {
	Tier       string
	Key        string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s tier (key=%s), retry after %s",
		e.Tier, e.Key, e.RetryAfter.Round(time.Millisecond))
}

// Unwrap returns ErrRateLimited.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// CircuitOpenError reports a provider whose circuit is not admitting requests.
type CircuitOpenError struct {
	ProviderID string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %s, retry after %s",
		e.ProviderID, e.RetryAfter.Round(time.Millisecond))
}

// Unwrap returns ErrCircuitOpen.
func (e *CircuitOpenError) Unwrap() error {
	return ErrCircuitOpen
}

// BudgetConstraintError reports a request denied by a budget.
type BudgetConstraintError struct {
	BudgetID         string
	Reason           string
	SuggestedActions []string
}

// Error implements the error interface.
func (e *BudgetConstraintError) Error() string {
	return fmt.Sprintf("budget %s: %s", e.BudgetID, e.Reason)
}

// Unwrap returns ErrBudgetConstraint.
func (e *BudgetConstraintError) Unwrap() error {
	return ErrBudgetConstraint
}

// StoreUnavailableError wraps a failure of the counter store or database.
type StoreUnavailableError struct {
	Store     string // "counter", "database", "queue"
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s store unavailable [operation=%s]: %v", e.Store, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StoreUnavailableError) Unwrap() error {
	return e.Cause
}

// Is matches ErrStoreUnavailable in addition to the wrapped cause.
func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// NewStoreUnavailableError creates a StoreUnavailableError.
func NewStoreUnavailableError(store, operation string, cause error) *StoreUnavailableError {
	return &StoreUnavailableError{Store: store, Operation: operation, Cause: cause}
}

// IsRetryable reports whether err is a transient store failure worth retrying.
// Validation, not-found and conflict errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return false
	}
	return errors.Is(err, ErrStoreUnavailable)
}
