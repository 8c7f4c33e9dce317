package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/costgate/pkg/limits/circuit"
)

// Metrics contains Prometheus metrics for admission control.
type Metrics struct {
	// Admission decisions
	decisions     *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec

	// Rate limiting
	rateLimitHits *prometheus.CounterVec

	// Budgets
	budgetHits       *prometheus.CounterVec
	budgetUsage      *prometheus.GaugeVec
	usageRecorded    *prometheus.CounterVec
	outcomesDeferred prometheus.Counter
	enforcementHit   *prometheus.CounterVec

	// Circuits
	circuitState       *prometheus.GaugeVec
	circuitTransitions *prometheus.CounterVec
	providerOutcomes   *prometheus.CounterVec
	providerLatency    *prometheus.HistogramVec

	storeErrors *prometheus.CounterVec
}

// NewMetrics registers the admission metrics with reg. A nil reg uses the
// default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_admission_decisions_total",
				Help: "Total number of admission decisions",
			},
			[]string{"result", "rejected_by"},
		),

		checkDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "costgate_admission_check_duration_seconds",
				Help:    "Duration of admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to 160ms
			},
			[]string{"stage"},
		),

		rateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_rate_limit_hits_total",
				Help: "Total number of rate limit rejections",
			},
			[]string{"tier", "emergency"},
		),

		budgetHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_budget_hits_total",
				Help: "Total number of budget rejections",
			},
			[]string{"scope_type"},
		),

		budgetUsage: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "costgate_budget_usage_percent",
				Help: "Budget usage percentage observed at the last admission check",
			},
			[]string{"budget_id"},
		),

		usageRecorded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_usage_recorded_total",
				Help: "Total reported usage amount",
			},
			[]string{"currency"},
		),

		outcomesDeferred: f.NewCounter(
			prometheus.CounterOpts{
				Name: "costgate_outcomes_deferred_total",
				Help: "Total number of provider outcomes queued for reconciliation",
			},
		),

		enforcementHit: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_enforcement_actions_total",
				Help: "Total number of budget alert actions applied to admitted requests",
			},
			[]string{"action"},
		),

		circuitState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "costgate_circuit_state",
				Help: "Circuit state per provider (0=closed, 1=half_open, 2=open)",
			},
			[]string{"provider"},
		),

		circuitTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_circuit_transitions_total",
				Help: "Total number of circuit state transitions",
			},
			[]string{"provider", "to"},
		),

		providerOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_provider_outcomes_total",
				Help: "Total number of reported provider call outcomes",
			},
			[]string{"provider", "result"},
		),

		providerLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "costgate_provider_latency_seconds",
				Help:    "Reported provider call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		storeErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_store_errors_total",
				Help: "Total number of store errors seen during admission",
			},
			[]string{"stage"},
		),
	}
}

// RecordDecision records an admission decision.
func (m *Metrics) RecordDecision(d *AdmitDecision) {
	result := "allowed"
	if !d.Allow {
		result = "rejected"
	}
	m.decisions.WithLabelValues(result, string(d.RejectedBy)).Inc()
}

// RecordCheckDuration records the duration of one admission stage.
func (m *Metrics) RecordCheckDuration(stage string, seconds float64) {
	m.checkDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordRateLimitHit records a rate limit rejection.
func (m *Metrics) RecordRateLimitHit(tier string, emergency bool) {
	e := "false"
	if emergency {
		e = "true"
	}
	m.rateLimitHits.WithLabelValues(tier, e).Inc()
}

// RecordBudgetHit records a budget rejection.
func (m *Metrics) RecordBudgetHit(scopeType string) {
	m.budgetHits.WithLabelValues(scopeType).Inc()
}

// UpdateBudgetUsage sets the observed usage percentage of a budget.
func (m *Metrics) UpdateBudgetUsage(budgetID string, percent float64) {
	m.budgetUsage.WithLabelValues(budgetID).Set(percent)
}

// RecordUsage adds a reported amount.
func (m *Metrics) RecordUsage(currency string, amount float64) {
	m.usageRecorded.WithLabelValues(currency).Add(amount)
}

// RecordOutcomeDeferred counts an outcome handed to the reconcile queue.
func (m *Metrics) RecordOutcomeDeferred() {
	m.outcomesDeferred.Inc()
}

// RecordEnforcementAction records an alert action applied to an admitted request.
func (m *Metrics) RecordEnforcementAction(action string) {
	m.enforcementHit.WithLabelValues(action).Inc()
}

// RecordCircuitTransition updates the circuit state gauge.
func (m *Metrics) RecordCircuitTransition(provider string, to circuit.Status) {
	m.circuitTransitions.WithLabelValues(provider, string(to)).Inc()
	m.circuitState.WithLabelValues(provider).Set(circuitStateValue(to))
}

// CircuitListener returns a circuit.Listener that keeps the circuit metrics current.
func (m *Metrics) CircuitListener() circuit.Listener {
	return func(provider string, _, to circuit.Status) {
		m.RecordCircuitTransition(provider, to)
	}
}

// RecordOutcome records a provider call outcome.
func (m *Metrics) RecordOutcome(provider string, success bool, seconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.providerOutcomes.WithLabelValues(provider, result).Inc()
	if seconds > 0 {
		m.providerLatency.WithLabelValues(provider).Observe(seconds)
	}
}

// RecordStoreError counts a store failure during an admission stage.
func (m *Metrics) RecordStoreError(stage string) {
	m.storeErrors.WithLabelValues(stage).Inc()
}

func circuitStateValue(s circuit.Status) float64 {
	switch s {
	case circuit.StatusHalfOpen:
		return 1
	case circuit.StatusOpen:
		return 2
	}
	return 0
}
