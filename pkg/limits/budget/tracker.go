package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/counter"
	"mercator-hq/costgate/pkg/limits/enforcement"
	"mercator-hq/costgate/pkg/limits/retry"
)

// TrackerConfig wires a Tracker.
type TrackerConfig struct {
	Registry *Registry
	Ledger   Ledger
	Counters counter.Store

	// Notifier receives fired alerts. Default: LogNotifier.
	Notifier Notifier

	// Sink receives usage whose counter updates exhausted their retries.
	// Without a sink such usage is reported as an error instead.
	Sink UsageSink

	// Retry bounds retries of ledger and counter writes.
	Retry retry.Policy

	// KeyGrace keeps period totals readable this long after the period ends.
	// Default: 24 hours
	KeyGrace time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Tracker records usage against budgets and derives their status.
type Tracker struct {
	registry *Registry
	ledger   Ledger
	counters counter.Store
	notifier Notifier
	sink     UsageSink
	retry    retry.Policy
	keyGrace time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// NewTracker creates a budget tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Counters == nil {
		return nil, fmt.Errorf("counter store cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "budget.tracker")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewLogNotifier(cfg.Logger)
	}
	if cfg.KeyGrace == 0 {
		cfg.KeyGrace = 24 * time.Hour
	}

	return &Tracker{
		registry: cfg.Registry,
		ledger:   cfg.Ledger,
		counters: cfg.Counters,
		notifier: cfg.Notifier,
		sink:     cfg.Sink,
		retry:    cfg.Retry,
		keyGrace: cfg.KeyGrace,
		clock:    clock.OrReal(cfg.Clock),
		logger:   cfg.Logger,
	}, nil
}

// SetSink installs the sink for usage that could not be applied.
func (t *Tracker) SetSink(sink UsageSink) {
	t.sink = sink
}

// RecordUsage appends rec to the ledger and adds its amount to the period
// total of the budget and of every ancestor.
//
// The record id doubles as the idempotency token for the counter additions,
// so a caller may resubmit a record with the same id safely. Writes that keep
// failing after retries are handed to the sink and the call still succeeds.
func (t *Tracker) RecordUsage(ctx context.Context, rec UsageRecord) (*UsageRecord, error) {
	out, _, err := t.RecordUsageExcept(ctx, rec, nil)
	return out, err
}

// RecordUsageExcept is RecordUsage without the additions to the budgets in
// skip. It returns the budgets the amount was added to, so a caller charging
// one request to several budgets can avoid counting a shared ancestor twice.
func (t *Tracker) RecordUsageExcept(ctx context.Context, rec UsageRecord, skip map[string]bool) (*UsageRecord, []string, error) {
	def, err := t.registry.Get(ctx, rec.BudgetID)
	if err != nil {
		return nil, nil, err
	}

	verr := &apperrors.ValidationError{}
	if !(rec.Amount > 0) {
		verr.Add("amount", "must be greater than 0")
	}
	rec.Currency = normalizeCurrency(rec.Currency)
	if rec.Currency == "" {
		rec.Currency = def.Currency
	} else if rec.Currency != def.Currency {
		verr.Add("currency", fmt.Sprintf("must match budget currency %s (got %s)", def.Currency, rec.Currency))
	}
	if verr.HasErrors() {
		return nil, nil, verr
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.clock.Now()
	}
	if strings.TrimSpace(rec.Source) == "" {
		rec.Source = "api"
	}

	ancestors, err := t.registry.ancestorsOf(ctx, def)
	if err != nil {
		return nil, nil, err
	}
	targets := make([]string, 0, len(ancestors)+1)
	if !skip[def.ID] {
		targets = append(targets, def.ID)
	}
	for _, a := range ancestors {
		if !skip[a.ID] {
			targets = append(targets, a.ID)
		}
	}

	pending, applyErr := t.apply(ctx, &rec, targets)
	if len(pending) > 0 {
		if err := t.deferUsage(ctx, &rec, pending, applyErr); err != nil {
			return nil, nil, err
		}
	}

	t.logger.Debug("usage recorded",
		"record_id", rec.ID,
		"budget_id", rec.BudgetID,
		"amount", rec.Amount,
		"targets", len(targets),
		"deferred", len(pending),
	)

	return &rec, targets, nil
}

// ApplyUsage re-applies a previously accepted record to a fixed target list.
// It is used to replay deferred usage and is safe to call more than once.
// It returns the targets that still could not be updated.
func (t *Tracker) ApplyUsage(ctx context.Context, rec *UsageRecord, targetIDs []string) ([]string, error) {
	return t.apply(ctx, rec, targetIDs)
}

// apply writes the ledger entry and the counter additions, returning the
// targets left unapplied and the last error seen. A ledger failure leaves all
// targets pending so the replay retries the whole record.
func (t *Tracker) apply(ctx context.Context, rec *UsageRecord, targetIDs []string) ([]string, error) {
	err := retry.Do(ctx, t.retry, t.logger, "ledger.append", func(ctx context.Context) error {
		if err := t.ledger.AppendUsage(ctx, rec); err != nil {
			return apperrors.NewStoreUnavailableError("database", "append_usage", err)
		}
		return nil
	})
	if err != nil {
		return append([]string(nil), targetIDs...), err
	}

	delta := counter.ToMicros(rec.Amount)
	now := t.clock.Now()

	var pending []string
	var lastErr error
	for _, id := range targetIDs {
		target, err := t.registry.repo.GetBudget(ctx, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			t.logger.Warn("usage target no longer exists", "record_id", rec.ID, "budget_id", id)
			continue
		}
		if err != nil {
			pending = append(pending, id)
			lastErr = err
			continue
		}

		start, end := PeriodBounds(target, rec.Timestamp)
		key := totalKey(id, start)
		ttl := t.totalTTL(end, now)

		err = retry.Do(ctx, t.retry, t.logger, "counter.incr", func(ctx context.Context) error {
			if _, _, err := t.counters.IncrByOnce(ctx, key, rec.ID, delta, ttl); err != nil {
				return apperrors.NewStoreUnavailableError("counter", "incr_by_once", err)
			}
			return nil
		})
		if err != nil {
			pending = append(pending, id)
			lastErr = err
		}
	}

	return pending, lastErr
}

// deferUsage hands unapplied targets to the sink.
func (t *Tracker) deferUsage(ctx context.Context, rec *UsageRecord, pending []string, cause error) error {
	if t.sink == nil {
		return fmt.Errorf("usage %s could not be applied to %v: %w", rec.ID, pending, cause)
	}
	if err := t.sink.EnqueueUsage(ctx, rec, pending); err != nil {
		return apperrors.NewStoreUnavailableError("queue", "enqueue_usage", err)
	}

	t.logger.Warn("usage deferred for reconciliation",
		"record_id", rec.ID,
		"budget_id", rec.BudgetID,
		"pending_targets", pending,
		"error", cause,
	)
	return nil
}

// GetStatus recomputes the status of a budget for its current period and
// evaluates its alerts.
func (t *Tracker) GetStatus(ctx context.Context, id string) (*StatusInfo, error) {
	def, err := t.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.status(ctx, def)
}

func (t *Tracker) status(ctx context.Context, def *Definition) (*StatusInfo, error) {
	now := t.clock.Now()
	start, end := PeriodBounds(def, now)

	current, err := t.readTotal(ctx, def.ID, start)
	if err != nil {
		return nil, err
	}

	info := ComputeStatus(def, current, now)
	info.ActiveAlerts, err = t.evaluateAlerts(ctx, def, info, t.totalTTL(end, now))
	if err != nil {
		return nil, err
	}
	return info, nil
}

// CheckConstraints reports whether a request costing estimatedCost may run
// against the budget. A triggered alert carrying block-all denies regardless
// of headroom, even when a higher threshold with milder actions has also
// triggered. The governing alert's actions are returned verbatim.
func (t *Tracker) CheckConstraints(ctx context.Context, id string, estimatedCost float64) (*ConstraintCheck, error) {
	if estimatedCost < 0 {
		return nil, apperrors.NewValidationError("estimated_cost", "must not be negative")
	}

	def, err := t.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	info, err := t.status(ctx, def)
	if err != nil {
		return nil, err
	}

	check := &ConstraintCheck{
		BudgetID:      id,
		CanProceed:    info.CurrentAmount+estimatedCost <= info.Limit,
		CurrentAmount: info.CurrentAmount,
		Limit:         info.Limit,
		Status:        info.Status,
	}

	top, triggered := governingAlert(def.Alerts, info.PercentUsed)
	if triggered {
		check.SuggestedActions = append([]string(nil), top.Actions...)
	}

	switch {
	case triggered && enforcement.Contains(top.Actions, enforcement.ActionBlockAll):
		check.CanProceed = false
		check.Reason = fmt.Sprintf("budget alert at %g%% blocks all requests (%.1f%% used)", top.Threshold, info.PercentUsed)
	case !check.CanProceed:
		check.Reason = fmt.Sprintf("estimated cost %.6g would exceed budget: current %.6g + estimate > limit %.6g %s",
			estimatedCost, info.CurrentAmount, info.Limit, def.Currency)
	}

	return check, nil
}

// ListUsage returns the ledger entries of a budget within [since, until).
// Zero bounds are open.
func (t *Tracker) ListUsage(ctx context.Context, id string, since, until time.Time) ([]*UsageRecord, error) {
	if _, err := t.registry.Get(ctx, id); err != nil {
		return nil, err
	}
	recs, err := t.ledger.ListUsage(ctx, id, since, until)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("database", "list_usage", err)
	}
	return recs, nil
}

// readTotal returns the period total in currency units.
func (t *Tracker) readTotal(ctx context.Context, id string, start time.Time) (float64, error) {
	v, err := t.counters.Get(ctx, totalKey(id, start))
	if err != nil {
		return 0, apperrors.NewStoreUnavailableError("counter", "get", err)
	}
	if !v.Found {
		return 0, nil
	}
	micros, err := strconv.ParseInt(v.Data, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt budget total for %s: %w", id, err)
	}
	return counter.FromMicros(micros), nil
}

// totalTTL keeps a period total until the period ends plus the grace.
func (t *Tracker) totalTTL(end, now time.Time) time.Duration {
	ttl := end.Sub(now)
	if ttl < 0 {
		ttl = 0
	}
	return ttl + t.keyGrace
}

// totalKey is the counter key of a budget's period total.
func totalKey(budgetID string, periodStart time.Time) string {
	return fmt.Sprintf("budget:%s:%d", budgetID, periodKey(periodStart))
}
