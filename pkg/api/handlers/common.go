package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/costgate/pkg/api/types"
	"mercator-hq/costgate/pkg/apperrors"
)

// statusFor maps an error to its HTTP status and error type.
func statusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, types.ErrorTypeRequestTooLarge
	case errors.Is(err, errInvalidBody):
		return http.StatusBadRequest, types.ErrorTypeInvalidRequest
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusUnprocessableEntity, types.ErrorTypeValidation
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, types.ErrorTypeNotFound
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, types.ErrorTypeConflict
	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests, types.ErrorTypeRateLimitExceeded
	case errors.Is(err, apperrors.ErrCircuitOpen):
		return http.StatusServiceUnavailable, types.ErrorTypeCircuitOpen
	case errors.Is(err, apperrors.ErrBudgetConstraint):
		return http.StatusPaymentRequired, types.ErrorTypeBudgetExceeded
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, types.ErrorTypeServiceUnavailable
	}
	return http.StatusInternalServerError, types.ErrorTypeServerError
}

// writeError writes the error envelope for err. Server errors are logged and
// their detail is withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code, errType := statusFor(err)
	resp := types.NewErrorResponse(errType, err.Error(), code)

	var (
		verr *apperrors.ValidationError
		rerr *apperrors.RateLimitError
		cerr *apperrors.CircuitOpenError
		berr *apperrors.BudgetConstraintError
	)
	switch {
	case errors.As(err, &verr):
		for _, fe := range verr.Errors {
			resp.Error.Fields = append(resp.Error.Fields, types.FieldError{Field: fe.Field, Message: fe.Message})
		}
	case errors.As(err, &rerr):
		resp.Error.RetryAfterSeconds = setRetryAfter(w, rerr.RetryAfter)
	case errors.As(err, &cerr):
		resp.Error.RetryAfterSeconds = setRetryAfter(w, cerr.RetryAfter)
	case errors.As(err, &berr):
		resp.Error.SuggestedActions = berr.SuggestedActions
	}

	switch {
	case code == http.StatusInternalServerError:
		logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp = types.NewServerError()
	case code == http.StatusServiceUnavailable:
		logger.WarnContext(r.Context(), "request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	writeJSON(w, r, logger, code, resp)
}

// setRetryAfter sets the Retry-After header in whole seconds, rounding up,
// and returns the value written. Zero durations write nothing.
func setRetryAfter(w http.ResponseWriter, d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(math.Ceil(d.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	return secs
}

func writeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.ErrorContext(r.Context(), "failed to write response", "error", err)
	}
}

var errInvalidBody = errors.New("invalid request body")

// decodeJSON decodes the request body into dst, rejecting unknown fields and
// trailing data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: body is empty", errInvalidBody)
		}
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON body", errInvalidBody)
	}
	return nil
}

// queryTime parses an optional RFC 3339 query parameter.
func queryTime(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError(name, "must be an RFC 3339 timestamp")
	}
	return t, nil
}
