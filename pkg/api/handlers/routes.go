package handlers

import (
	"log/slog"
	"net/http"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/limits"
	"mercator-hq/costgate/pkg/limits/budget"
	"mercator-hq/costgate/pkg/limits/circuit"
)

// Dependencies are the components served by the REST API.
type Dependencies struct {
	Registry *budget.Registry
	Tracker  *budget.Tracker
	Gateway  *limits.Gateway
	Circuits *circuit.Manager
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Register mounts every budget, admission and circuit route on mux.
func Register(mux *http.ServeMux, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "api")
	}

	NewBudgetHandler(deps.Registry, deps.Tracker, logger).Register(mux)
	NewAdmissionHandler(deps.Gateway, logger).Register(mux)
	NewCircuitHandler(deps.Circuits, deps.Clock, logger).Register(mux)
}
