package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/limits/budget"
	"mercator-hq/costgate/pkg/limits/circuit"
	"mercator-hq/costgate/pkg/limits/enforcement"
	"mercator-hq/costgate/pkg/limits/ratelimit"
	"mercator-hq/costgate/pkg/limits/retry"
)

// GatewayConfig wires a Gateway.
type GatewayConfig struct {
	Circuits *circuit.Manager
	Limiter  *ratelimit.Limiter
	Registry *budget.Registry
	Tracker  *budget.Tracker

	// Enforcer turns alert actions on admitted requests into downgrade and
	// approval hints. Default: an enforcer without model downgrades.
	Enforcer *enforcement.Enforcer

	// Outcomes receives outcomes whose circuit update exhausted its retries.
	Outcomes OutcomeSink

	// Retry bounds retries of outcome reports.
	Retry retry.Policy

	// BudgetFailOpen admits requests with a warning when budgets cannot be
	// read. When false such requests are denied.
	BudgetFailOpen bool

	Metrics *Metrics
	Tracer  trace.Tracer
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Gateway is the admission entry point. It consults the circuit breaker, the
// rate limiter and the budgets in that order and stops at the first rejection.
//
// # Example
//
//	decision, err := gateway.Admit(ctx, limits.AdmitRequest{
//	    ProviderID:    "openai",
//	    Scope:         limits.ScopeIDs{UserID: "u1", TeamID: "t1"},
//	    EstimatedCost: 0.02,
//	    Currency:      "USD",
//	})
//	if err != nil || !decision.Allow {
//	    // reject
//	}
//
//	// after the provider call
//	gateway.ReportUsage(ctx, limits.UsageReport{...})
//	gateway.ReportOutcome(ctx, limits.Outcome{ProviderID: "openai", Success: true, Latency: d})
type Gateway struct {
	circuits *circuit.Manager
	limiter  *ratelimit.Limiter
	registry *budget.Registry
	tracker  *budget.Tracker
	enforcer *enforcement.Enforcer
	outcomes OutcomeSink

	retry          retry.Policy
	budgetFailOpen bool

	metrics *Metrics
	tracer  trace.Tracer
	clock   clock.Clock
	logger  *slog.Logger
}

// NewGateway creates an admission gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Circuits == nil {
		return nil, fmt.Errorf("circuit manager cannot be nil")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter cannot be nil")
	}
	if cfg.Registry == nil || cfg.Tracker == nil {
		return nil, fmt.Errorf("budget registry and tracker cannot be nil")
	}
	if cfg.Enforcer == nil {
		cfg.Enforcer = enforcement.NewEnforcer(enforcement.Config{})
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("mercator-hq/costgate/limits")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "gateway")
	}

	return &Gateway{
		circuits:       cfg.Circuits,
		limiter:        cfg.Limiter,
		registry:       cfg.Registry,
		tracker:        cfg.Tracker,
		enforcer:       cfg.Enforcer,
		outcomes:       cfg.Outcomes,
		retry:          cfg.Retry,
		budgetFailOpen: cfg.BudgetFailOpen,
		metrics:        cfg.Metrics,
		tracer:         cfg.Tracer,
		clock:          clock.OrReal(cfg.Clock),
		logger:         cfg.Logger,
	}, nil
}

// SetOutcomeSink installs the sink for outcomes that could not be applied.
func (g *Gateway) SetOutcomeSink(sink OutcomeSink) {
	g.outcomes = sink
}

// Admit decides whether a provider call may proceed.
//
// Store failures in the circuit or rate limit stage are returned as errors and
// must be treated as a denial. Budget stage failures are errors too unless the
// gateway is configured to fail open.
func (g *Gateway) Admit(ctx context.Context, req AdmitRequest) (*AdmitDecision, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := validateAdmit(req); err != nil {
		return nil, err
	}

	ctx, span := g.tracer.Start(ctx, "limits.Admit", trace.WithAttributes(
		attribute.String("costgate.provider_id", req.ProviderID),
		attribute.Float64("costgate.estimated_cost", req.EstimatedCost),
	))
	defer span.End()

	decision, err := g.admit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("costgate.allow", decision.Allow),
		attribute.String("costgate.rejected_by", string(decision.RejectedBy)),
	)
	if g.metrics != nil {
		g.metrics.RecordDecision(decision)
	}
	if !decision.Allow {
		g.logger.Info("request rejected",
			"provider", req.ProviderID,
			"user_id", req.Scope.UserID,
			"rejected_by", decision.RejectedBy,
			"reason", decision.Reason,
		)
	}
	return decision, nil
}

func (g *Gateway) admit(ctx context.Context, req AdmitRequest) (result *AdmitDecision, err error) {
	// 1. Circuit breaker
	start := time.Now()
	cd, err := g.circuits.Admit(ctx, req.ProviderID)
	g.observe("circuit", start)
	if err != nil {
		g.storeError("circuit")
		return nil, fmt.Errorf("circuit check failed: %w", err)
	}
	if !cd.Allowed {
		d := &AdmitDecision{
			RejectedBy: RejectedByCircuit,
			Reason:     fmt.Sprintf("circuit for provider %s is %s", req.ProviderID, cd.Status),
		}
		d.SetRetryAfter(cd.RetryAfter)
		return d, nil
	}
	if cd.Trial {
		// A trial slot is only spent on a request that goes on to the provider.
		defer func() {
			if result == nil || !result.Allow {
				g.releaseTrial(ctx, req.ProviderID)
			}
		}()
	}

	// 2. Rate limits: global, provider, user
	start = time.Now()
	rd, err := g.limiter.AdmitChain(ctx, req.ProviderID, req.Scope.UserID)
	g.observe("rate_limit", start)
	if err != nil {
		g.storeError("rate_limit")
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if !rd.Allowed {
		if g.metrics != nil {
			g.metrics.RecordRateLimitHit(string(rd.Tier), rd.Emergency)
		}
		reason := fmt.Sprintf("rate limit exceeded for %s tier (%d per window)", rd.Tier, rd.Limit)
		if rd.Emergency {
			reason += " in emergency mode"
		}
		d := &AdmitDecision{
			RejectedBy: RejectedByRateLimit,
			Reason:     reason,
			Tier:       rd.Tier,
		}
		d.SetRetryAfter(rd.RetryAfter)
		return d, nil
	}

	// 3. Budgets: user, project, team, organization
	decision := &AdmitDecision{Allow: true}
	start = time.Now()
	err = g.checkBudgets(ctx, req, decision)
	g.observe("budget", start)
	if err != nil {
		g.storeError("budget")
		if !g.budgetFailOpen || errors.Is(err, apperrors.ErrValidation) || errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("budget check failed: %w", err)
		}
		g.logger.Warn("budget check failed, admitting", "provider", req.ProviderID, "error", err)
		return &AdmitDecision{
			Allow:    true,
			Warnings: []string{"budget check unavailable: " + err.Error()},
		}, nil
	}
	return decision, nil
}

// releaseTrial hands back a half-open trial slot. A failure only delays the
// next trial until the circuit regrants its slots.
func (g *Gateway) releaseTrial(ctx context.Context, providerID string) {
	if err := g.circuits.ReleaseTrial(ctx, providerID); err != nil {
		g.logger.Warn("failed to release circuit trial", "provider", providerID, "error", err)
	}
}

// checkBudgets runs CheckConstraints against every active budget of the scope
// chain. The first budget that cannot proceed rejects.
func (g *Gateway) checkBudgets(ctx context.Context, req AdmitRequest, decision *AdmitDecision) error {
	for _, scope := range scopeChain(req.Scope) {
		defs, err := g.registry.ListByScope(ctx, scope.Type, scope.ID, false)
		if err != nil {
			return err
		}

		for _, def := range defs {
			if req.Currency != "" && def.Currency != req.Currency {
				decision.Warnings = append(decision.Warnings,
					fmt.Sprintf("budget %s skipped: currency %s differs from request currency %s", def.ID, def.Currency, req.Currency))
				continue
			}

			check, err := g.tracker.CheckConstraints(ctx, def.ID, req.EstimatedCost)
			if err != nil {
				return err
			}
			if g.metrics != nil {
				g.metrics.UpdateBudgetUsage(def.ID, percentOf(check.CurrentAmount, check.Limit))
			}

			if !check.CanProceed {
				if g.metrics != nil {
					g.metrics.RecordBudgetHit(string(scope.Type))
				}
				*decision = AdmitDecision{
					RejectedBy:       RejectedByBudget,
					Reason:           check.Reason,
					SuggestedActions: check.SuggestedActions,
					BudgetID:         def.ID,
					Warnings:         decision.Warnings,
				}
				return nil
			}

			if len(check.SuggestedActions) > 0 {
				g.applyActions(decision, def.ID, check, req.Model)
			}
		}
	}
	return nil
}

// applyActions folds the actions of a triggered alert into an admitted decision.
func (g *Gateway) applyActions(decision *AdmitDecision, budgetID string, check *budget.ConstraintCheck, model string) {
	res := g.enforcer.Enforce(check.SuggestedActions, model)
	if g.metrics != nil && res.Action != "" {
		g.metrics.RecordEnforcementAction(string(res.Action))
	}

	if decision.BudgetID == "" {
		decision.BudgetID = budgetID
		decision.SuggestedActions = check.SuggestedActions
	}
	if res.DowngradedModel != "" && decision.DowngradedModel == "" {
		decision.DowngradedModel = res.DowngradedModel
	}
	if res.RequiresApproval {
		decision.RequiresApproval = true
	}
	decision.Warnings = append(decision.Warnings,
		fmt.Sprintf("budget %s is %s: %s", budgetID, check.Status, strings.Join(check.SuggestedActions, ", ")))
}

// ReportUsage records the actual cost of a call against the most specific
// budgets of the caller's scopes. A budget reached through another recorded
// budget's parent chain is charged once.
//
// Record ids derive from the request id, so resubmitting a report with the
// same request id does not count twice.
func (g *Gateway) ReportUsage(ctx context.Context, report UsageReport) ([]*budget.UsageRecord, error) {
	report.Currency = strings.ToUpper(strings.TrimSpace(report.Currency))
	if err := validateUsage(report); err != nil {
		return nil, err
	}
	if report.RequestID == "" {
		report.RequestID = uuid.NewString()
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = g.clock.Now()
	}

	ctx, span := g.tracer.Start(ctx, "limits.ReportUsage", trace.WithAttributes(
		attribute.String("costgate.request_id", report.RequestID),
		attribute.Float64("costgate.amount", report.Amount),
	))
	defer span.End()

	covered := make(map[string]bool)
	var records []*budget.UsageRecord

	for _, scope := range scopeChain(report.Scope) {
		defs, err := g.registry.ListByScope(ctx, scope.Type, scope.ID, false)
		if err != nil {
			span.RecordError(err)
			return records, err
		}

		for _, def := range defs {
			if covered[def.ID] {
				continue
			}
			if report.Currency != "" && def.Currency != report.Currency {
				g.logger.Warn("usage not recorded against budget in another currency",
					"budget_id", def.ID,
					"budget_currency", def.Currency,
					"currency", report.Currency,
				)
				continue
			}

			rec, targets, err := g.tracker.RecordUsageExcept(ctx, budget.UsageRecord{
				ID:        usageRecordID(report.RequestID, def.ID),
				BudgetID:  def.ID,
				Amount:    report.Amount,
				Currency:  def.Currency,
				Timestamp: report.Timestamp,
				Source:    "gateway",
				Metadata: budget.UsageMetadata{
					RequestID:  report.RequestID,
					ProviderID: report.ProviderID,
					UserID:     report.Scope.UserID,
					TeamID:     report.Scope.TeamID,
					ProjectID:  report.Scope.ProjectID,
					Tags:       report.Tags,
				},
			}, covered)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return records, err
			}

			covered[def.ID] = true
			for _, id := range targets {
				covered[id] = true
			}
			records = append(records, rec)
		}
	}

	if g.metrics != nil && len(records) > 0 {
		g.metrics.RecordUsage(records[0].Currency, report.Amount)
	}
	if len(records) == 0 {
		g.logger.Debug("no budget matched usage report", "request_id", report.RequestID)
	}
	span.SetAttributes(attribute.Int("costgate.records", len(records)))
	return records, nil
}

// ReportOutcome feeds a provider call result to the circuit breaker. Store
// failures are retried; an outcome that still cannot be applied is queued
// for reconciliation and the call succeeds.
func (g *Gateway) ReportOutcome(ctx context.Context, o Outcome) error {
	if strings.TrimSpace(o.ProviderID) == "" {
		return apperrors.NewValidationError("provider_id", "is required")
	}
	if o.Latency < 0 {
		return apperrors.NewValidationError("latency", "must not be negative")
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = g.clock.Now()
	}

	if g.metrics != nil {
		g.metrics.RecordOutcome(o.ProviderID, o.Success, o.Latency.Seconds())
	}

	err := retry.Do(ctx, g.retry, g.logger, "circuit.report_outcome", func(ctx context.Context) error {
		return g.ApplyOutcome(ctx, o)
	})
	if err == nil {
		return nil
	}
	if g.outcomes == nil {
		return err
	}
	if qerr := g.outcomes.EnqueueOutcome(ctx, o); qerr != nil {
		return apperrors.NewStoreUnavailableError("queue", "enqueue_outcome", qerr)
	}

	if g.metrics != nil {
		g.metrics.RecordOutcomeDeferred()
	}
	g.logger.Warn("outcome deferred for reconciliation",
		"outcome_id", o.ID,
		"provider", o.ProviderID,
		"error", err,
	)
	return nil
}

// ApplyOutcome applies one outcome to the circuit breaker without retries.
func (g *Gateway) ApplyOutcome(ctx context.Context, o Outcome) error {
	_, err := g.circuits.ReportOutcome(ctx, o.ProviderID, o.Success, o.Latency)
	return err
}

// SetErrorRate feeds the external rolling error rate (0.0-1.0) used for
// emergency rate limiting.
func (g *Gateway) SetErrorRate(rate float64) error {
	if rate < 0 || rate > 1 {
		return apperrors.NewValidationError("error_rate", "must be within [0, 1]")
	}
	g.limiter.SetErrorRate(rate)
	return nil
}

func (g *Gateway) observe(stage string, start time.Time) {
	if g.metrics != nil {
		g.metrics.RecordCheckDuration(stage, time.Since(start).Seconds())
	}
}

func (g *Gateway) storeError(stage string) {
	if g.metrics != nil {
		g.metrics.RecordStoreError(stage)
	}
}

// scopeChain lists the caller's scopes from most to least specific.
func scopeChain(ids ScopeIDs) []budget.Scope {
	all := []budget.Scope{
		{Type: budget.ScopeUser, ID: ids.UserID},
		{Type: budget.ScopeProject, ID: ids.ProjectID},
		{Type: budget.ScopeTeam, ID: ids.TeamID},
		{Type: budget.ScopeOrganization, ID: ids.OrganizationID},
	}
	chain := all[:0]
	for _, s := range all {
		if s.ID != "" {
			chain = append(chain, s)
		}
	}
	return chain
}

func usageRecordID(requestID, budgetID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(requestID+"/"+budgetID)).String()
}

func percentOf(current, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return current / limit * 100
}

func validateAdmit(req AdmitRequest) error {
	verr := &apperrors.ValidationError{}
	if strings.TrimSpace(req.ProviderID) == "" {
		verr.Add("provider_id", "is required")
	}
	if req.EstimatedCost < 0 {
		verr.Add("estimated_cost", "must not be negative")
	}
	if req.Currency != "" && len(req.Currency) != 3 {
		verr.Add("currency", "must be a 3-letter code")
	}
	return verr.OrNil()
}

func validateUsage(r UsageReport) error {
	verr := &apperrors.ValidationError{}
	if !(r.Amount > 0) {
		verr.Add("amount", "must be greater than 0")
	}
	if r.Currency != "" && len(r.Currency) != 3 {
		verr.Add("currency", "must be a 3-letter code")
	}
	if r.Scope == (ScopeIDs{}) {
		verr.Add("scope", "at least one scope id is required")
	}
	return verr.OrNil()
}
