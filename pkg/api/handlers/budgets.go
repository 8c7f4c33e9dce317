package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"mercator-hq/costgate/pkg/api/types"
	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/limits/budget"
)

// BudgetHandler serves budget definitions, status, usage and alerts.
type BudgetHandler struct {
	registry *budget.Registry
	tracker  *budget.Tracker
	logger   *slog.Logger
}

// NewBudgetHandler creates a budget handler.
func NewBudgetHandler(registry *budget.Registry, tracker *budget.Tracker, logger *slog.Logger) *BudgetHandler {
	if logger == nil {
		logger = slog.Default().With("component", "api")
	}
	return &BudgetHandler{registry: registry, tracker: tracker, logger: logger}
}

// Register mounts the budget routes on mux.
func (h *BudgetHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /budgets", h.create)
	mux.HandleFunc("GET /budgets/{id}", h.get)
	mux.HandleFunc("PUT /budgets/{id}", h.update)
	mux.HandleFunc("DELETE /budgets/{id}", h.delete)
	mux.HandleFunc("GET /budgets/scope/{type}/{id}", h.listByScope)
	mux.HandleFunc("GET /budgets/{id}/status", h.status)
	mux.HandleFunc("POST /budgets/{id}/usage", h.recordUsage)
	mux.HandleFunc("GET /budgets/{id}/usage", h.listUsage)
	mux.HandleFunc("POST /budgets/{id}/alerts/{threshold}/acknowledge", h.acknowledge)
	mux.HandleFunc("POST /budgets/{id}/check-constraints", h.checkConstraints)
}

func (h *BudgetHandler) create(w http.ResponseWriter, r *http.Request) {
	var req budget.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	def, err := h.registry.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", "/budgets/"+def.ID)
	writeJSON(w, r, h.logger, http.StatusCreated, def)
}

func (h *BudgetHandler) get(w http.ResponseWriter, r *http.Request) {
	def, err := h.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, def)
}

func (h *BudgetHandler) update(w http.ResponseWriter, r *http.Request) {
	var req budget.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	def, err := h.registry.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, def)
}

func (h *BudgetHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BudgetHandler) listByScope(w http.ResponseWriter, r *http.Request) {
	includeInactive := false
	if v := r.URL.Query().Get("include_inactive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, h.logger, apperrors.NewValidationError("include_inactive", "must be a boolean"))
			return
		}
		includeInactive = b
	}

	defs, err := h.registry.ListByScope(r.Context(), budget.ScopeType(r.PathValue("type")), r.PathValue("id"), includeInactive)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if defs == nil {
		defs = []*budget.Definition{}
	}
	writeJSON(w, r, h.logger, http.StatusOK, types.BudgetListResponse{Budgets: defs, Count: len(defs)})
}

func (h *BudgetHandler) status(w http.ResponseWriter, r *http.Request) {
	info, err := h.tracker.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, info)
}

func (h *BudgetHandler) recordUsage(w http.ResponseWriter, r *http.Request) {
	var req types.RecordUsageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	rec, err := h.tracker.RecordUsage(r.Context(), budget.UsageRecord{
		ID:        req.ID,
		BudgetID:  r.PathValue("id"),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Timestamp: req.Timestamp,
		Source:    req.Source,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusCreated, rec)
}

func (h *BudgetHandler) listUsage(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	until, err := queryTime(r, "until")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	recs, err := h.tracker.ListUsage(r.Context(), r.PathValue("id"), since, until)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := types.UsageListResponse{Records: recs, Count: len(recs)}
	if resp.Records == nil {
		resp.Records = []*budget.UsageRecord{}
	}
	for _, rec := range recs {
		resp.Total += rec.Amount
	}
	writeJSON(w, r, h.logger, http.StatusOK, resp)
}

func (h *BudgetHandler) acknowledge(w http.ResponseWriter, r *http.Request) {
	threshold, err := strconv.ParseFloat(r.PathValue("threshold"), 64)
	if err != nil {
		writeError(w, r, h.logger, apperrors.NewValidationError("threshold", "must be a number"))
		return
	}
	if err := h.tracker.AcknowledgeAlert(r.Context(), r.PathValue("id"), threshold); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BudgetHandler) checkConstraints(w http.ResponseWriter, r *http.Request) {
	var req types.CheckConstraintsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	check, err := h.tracker.CheckConstraints(r.Context(), r.PathValue("id"), req.EstimatedCost)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, check)
}
