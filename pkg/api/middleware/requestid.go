package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"mercator-hq/costgate/pkg/telemetry/logging"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength bounds client-supplied ids.
const maxRequestIDLength = 128

// RequestID assigns every request an id, reusing a client-supplied
// X-Request-ID when present. The id is stored in the context, where the
// logging handler picks it up, and echoed in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := logging.WithRequestID(r.Context(), requestID)
		req := r.WithContext(ctx)
		next.ServeHTTP(w, req)

		// ServeMux records the matched route on the copy; outer middleware
		// labels metrics and spans with it.
		r.Pattern = req.Pattern
	})
}
