package handlers

import (
	"log/slog"
	"net/http"

	"mercator-hq/costgate/pkg/api/types"
	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/limits"
	"mercator-hq/costgate/pkg/telemetry/logging"
)

// AdmissionHandler serves the admission gateway.
type AdmissionHandler struct {
	gateway *limits.Gateway
	logger  *slog.Logger
}

// NewAdmissionHandler creates an admission handler.
func NewAdmissionHandler(gateway *limits.Gateway, logger *slog.Logger) *AdmissionHandler {
	if logger == nil {
		logger = slog.Default().With("component", "api")
	}
	return &AdmissionHandler{gateway: gateway, logger: logger}
}

// Register mounts the admission routes on mux.
func (h *AdmissionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /admission/check", h.check)
	mux.HandleFunc("POST /admission/usage", h.usage)
	mux.HandleFunc("POST /admission/outcome", h.outcome)
	mux.HandleFunc("PUT /admission/error-rate", h.errorRate)
}

// check answers 200 with the decision whether or not the request is
// admitted. Rate limit and circuit rejections carry Retry-After. Only a
// failure to reach a decision is an error response.
func (h *AdmissionHandler) check(w http.ResponseWriter, r *http.Request) {
	var req limits.AdmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := logging.WithProvider(r.Context(), req.ProviderID)
	if req.Scope.UserID != "" {
		ctx = logging.WithUser(ctx, req.Scope.UserID)
	}

	decision, err := h.gateway.Admit(ctx, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := types.AdmitResponse{AdmitDecision: decision}
	if !decision.Allow {
		resp.RetryAfterSeconds = setRetryAfter(w, decision.RetryAfter)
		h.logger.InfoContext(ctx, "request not admitted",
			"rejected_by", decision.RejectedBy,
			"reason", decision.Reason,
		)
	}
	writeJSON(w, r, h.logger, http.StatusOK, resp)
}

func (h *AdmissionHandler) usage(w http.ResponseWriter, r *http.Request) {
	var report limits.UsageReport
	if err := decodeJSON(r, &report); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if report.RequestID == "" {
		report.RequestID = logging.GetRequestID(r.Context())
	}

	records, err := h.gateway.ReportUsage(r.Context(), report)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusAccepted, types.UsageReportResponse{Records: records, Count: len(records)})
}

func (h *AdmissionHandler) outcome(w http.ResponseWriter, r *http.Request) {
	var req types.OutcomeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.LatencyMS < 0 {
		writeError(w, r, h.logger, apperrors.NewValidationError("latency_ms", "must not be negative"))
		return
	}

	err := h.gateway.ReportOutcome(r.Context(), limits.Outcome{
		ID:         req.ID,
		ProviderID: req.ProviderID,
		Success:    req.Success,
		Latency:    req.Latency(),
		Timestamp:  req.Timestamp,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *AdmissionHandler) errorRate(w http.ResponseWriter, r *http.Request) {
	var req types.ErrorRateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.ErrorRate == nil {
		writeError(w, r, h.logger, apperrors.NewValidationError("error_rate", "is required"))
		return
	}
	if err := h.gateway.SetErrorRate(*req.ErrorRate); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
