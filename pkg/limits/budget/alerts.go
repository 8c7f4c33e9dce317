package budget

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"mercator-hq/costgate/pkg/apperrors"
)

// Alert markers live in the counter store, one per (budget, period, threshold):
//
//	fired:<unix nanos>   alert fired and is active
//	acked:<unix nanos>   alert fired and was acknowledged
//
// The marker is created with SetNX so exactly one status computation fires it,
// no matter how many instances compute status concurrently. A computation that
// finds usage back below the threshold removes the marker, so the next
// crossing within the same period fires again.
const (
	markerFired = "fired"
	markerAcked = "acked"
)

// evaluateAlerts fires newly crossed alerts, rearms alerts usage has dropped
// below, and returns the active ones.
func (t *Tracker) evaluateAlerts(ctx context.Context, def *Definition, info *StatusInfo, ttl time.Duration) ([]AlertStatus, error) {
	active := []AlertStatus{}
	now := t.clock.Now()

	for _, a := range def.Alerts {
		key := alertKey(def.ID, info.PeriodStart, a.Threshold)

		if info.PercentUsed < a.Threshold {
			if err := t.rearm(ctx, def.ID, a.Threshold, key); err != nil {
				return nil, err
			}
			continue
		}

		created, err := t.counters.SetNX(ctx, key, encodeMarker(markerFired, now), ttl)
		if err != nil {
			return nil, apperrors.NewStoreUnavailableError("counter", "setnx", err)
		}
		if created {
			t.fire(ctx, def, a, info, now)
			active = append(active, AlertStatus{
				Threshold:   a.Threshold,
				Actions:     append([]string(nil), a.Actions...),
				TriggeredAt: now,
			})
			continue
		}

		v, err := t.counters.Get(ctx, key)
		if err != nil {
			return nil, apperrors.NewStoreUnavailableError("counter", "get", err)
		}
		state, firedAt := decodeMarker(v.Data)
		if state == markerAcked {
			continue
		}
		active = append(active, AlertStatus{
			Threshold:   a.Threshold,
			Actions:     append([]string(nil), a.Actions...),
			TriggeredAt: firedAt,
		})
	}

	return active, nil
}

// rearm removes the marker of an alert whose threshold is no longer reached.
// The delete is conditional on the value read, so a marker another instance
// has just replaced is left alone.
func (t *Tracker) rearm(ctx context.Context, budgetID string, threshold float64, key string) error {
	v, err := t.counters.Get(ctx, key)
	if err != nil {
		return apperrors.NewStoreUnavailableError("counter", "get", err)
	}
	if !v.Found {
		return nil
	}
	removed, err := t.counters.CompareAndDelete(ctx, key, v.Data)
	if err != nil {
		return apperrors.NewStoreUnavailableError("counter", "cad", err)
	}
	if removed {
		t.logger.Debug("budget alert rearmed", "budget_id", budgetID, "threshold", threshold)
	}
	return nil
}

// fire hands a newly crossed alert to the notifier. Delivery failures are
// logged; they never fail the status computation.
func (t *Tracker) fire(ctx context.Context, def *Definition, a Alert, info *StatusInfo, now time.Time) {
	t.logger.Info("budget alert fired",
		"budget_id", def.ID,
		"threshold", a.Threshold,
		"percent_used", info.PercentUsed,
		"actions", a.Actions,
	)

	n := Notification{
		BudgetID:    def.ID,
		BudgetName:  def.Name,
		Scope:       def.Scope,
		Threshold:   a.Threshold,
		PercentUsed: info.PercentUsed,
		Actions:     append([]string(nil), a.Actions...),
		Targets:     append([]string(nil), a.NotificationTargets...),
		PeriodStart: info.PeriodStart,
		FiredAt:     now,
	}
	if err := t.notifier.Notify(ctx, n); err != nil {
		t.logger.Error("alert notification failed", "budget_id", def.ID, "threshold", a.Threshold, "error", err)
	}
}

// AcknowledgeAlert marks the alert at threshold as acknowledged for the
// current period. It stays triggered for constraint checks but is no longer
// reported as active.
func (t *Tracker) AcknowledgeAlert(ctx context.Context, id string, threshold float64) error {
	def, err := t.registry.Get(ctx, id)
	if err != nil {
		return err
	}

	found := false
	for _, a := range def.Alerts {
		if a.Threshold == threshold {
			found = true
			break
		}
	}
	if !found {
		return apperrors.NewNotFoundError("alert", fmt.Sprintf("%s@%g", id, threshold))
	}

	now := t.clock.Now()
	start, end := PeriodBounds(def, now)
	key := alertKey(id, start, threshold)
	ttl := t.totalTTL(end, now)

	for {
		v, err := t.counters.Get(ctx, key)
		if err != nil {
			return apperrors.NewStoreUnavailableError("counter", "get", err)
		}
		if !v.Found {
			return apperrors.NewConflictError("alert", fmt.Sprintf("%s@%g", id, threshold),
				"has not fired in the current period")
		}

		state, firedAt := decodeMarker(v.Data)
		if state == markerAcked {
			return nil
		}

		ok, err := t.counters.CompareAndSwap(ctx, key, v.Data, encodeMarker(markerAcked, firedAt), ttl)
		if err != nil {
			return apperrors.NewStoreUnavailableError("counter", "cas", err)
		}
		if ok {
			t.logger.Info("budget alert acknowledged", "budget_id", id, "threshold", threshold)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func alertKey(budgetID string, periodStart time.Time, threshold float64) string {
	return fmt.Sprintf("alert:%s:%d:%s", budgetID, periodKey(periodStart),
		strconv.FormatFloat(threshold, 'f', -1, 64))
}

func encodeMarker(state string, at time.Time) string {
	return state + ":" + strconv.FormatInt(at.UnixNano(), 10)
}

func decodeMarker(s string) (string, time.Time) {
	state, ts, ok := strings.Cut(s, ":")
	if !ok {
		return state, time.Time{}
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return state, time.Time{}
	}
	return state, time.Unix(0, n).UTC()
}

// LogNotifier writes fired alerts to the log. Delivery to email or chat is
// left to other Notifier implementations.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the notification.
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Warn("budget threshold crossed",
		"budget_id", note.BudgetID,
		"budget_name", note.BudgetName,
		"scope_type", note.Scope.Type,
		"scope_id", note.Scope.ID,
		"threshold", note.Threshold,
		"percent_used", note.PercentUsed,
		"targets", note.Targets,
	)
	return nil
}
