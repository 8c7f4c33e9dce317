package handlers

import (
	"log/slog"
	"net/http"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/api/types"
	"mercator-hq/costgate/pkg/limits/circuit"
)

// CircuitHandler exposes provider circuit state for operators.
type CircuitHandler struct {
	circuits *circuit.Manager
	clock    clock.Clock
	logger   *slog.Logger
}

// NewCircuitHandler creates a circuit handler. A nil clock uses real time.
func NewCircuitHandler(circuits *circuit.Manager, c clock.Clock, logger *slog.Logger) *CircuitHandler {
	if logger == nil {
		logger = slog.Default().With("component", "api")
	}
	return &CircuitHandler{circuits: circuits, clock: clock.OrReal(c), logger: logger}
}

// Register mounts the circuit routes on mux.
func (h *CircuitHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /circuits/{provider}", h.get)
	mux.HandleFunc("POST /circuits/{provider}/reset", h.reset)
}

func (h *CircuitHandler) get(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	state, err := h.circuits.Get(r.Context(), provider)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := types.CircuitResponse{State: state, Settings: h.circuits.Settings(provider)}
	if at := state.RetryAt(); !at.IsZero() {
		if wait := at.Sub(h.clock.Now()); wait > 0 {
			resp.RetryAfterSeconds = setRetryAfter(w, wait)
		}
	}
	writeJSON(w, r, h.logger, http.StatusOK, resp)
}

func (h *CircuitHandler) reset(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	if err := h.circuits.Reset(r.Context(), provider); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "circuit reset by operator", "provider", provider)
	w.WriteHeader(http.StatusNoContent)
}
