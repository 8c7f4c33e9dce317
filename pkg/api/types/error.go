package types

// ErrorResponse is the body of every error answer:
//
//	{"error": {"type": "not_found", "message": "budget \"b-1\" not found", "code": 404}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	// Type categorizes the error; see the ErrorType constants.
	Type string `json:"type"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Code repeats the HTTP status code.
	Code int `json:"code"`

	// Fields lists invalid fields for validation errors.
	Fields []FieldError `json:"fields,omitempty"`

	// SuggestedActions are the alert actions of a denying budget.
	SuggestedActions []string `json:"suggested_actions,omitempty"`

	// RetryAfterSeconds mirrors the Retry-After header.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// FieldError is one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error types.
const (
	ErrorTypeInvalidRequest     = "invalid_request"
	ErrorTypeValidation         = "validation_error"
	ErrorTypeNotFound           = "not_found"
	ErrorTypeConflict           = "conflict"
	ErrorTypeRateLimitExceeded  = "rate_limit_exceeded"
	ErrorTypeCircuitOpen        = "circuit_open"
	ErrorTypeBudgetExceeded     = "budget_constraint"
	ErrorTypeServiceUnavailable = "service_unavailable"
	ErrorTypeRequestTooLarge    = "request_too_large"
	ErrorTypeServerError        = "server_error"
)

// NewErrorResponse creates an error response.
func NewErrorResponse(errorType, message string, code int) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{
			Type:    errorType,
			Message: message,
			Code:    code,
		},
	}
}

// NewServerError creates a 500 response that hides internal detail.
func NewServerError() *ErrorResponse {
	return NewErrorResponse(ErrorTypeServerError, "An internal error occurred. Please try again later.", 500)
}
