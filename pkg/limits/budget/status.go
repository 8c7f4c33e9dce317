package budget

import (
	"math"
	"time"

	"mercator-hq/costgate/pkg/limits/enforcement"
)

const (
	// criticalPercent is where warning becomes critical.
	criticalPercent = 95.0

	// exceededPercent is where the budget is exhausted.
	exceededPercent = 100.0
)

// ClassifyStatus maps percent used to a status. Warning starts at the lowest
// alert threshold; a budget without alerts goes straight from normal to
// critical.
func ClassifyStatus(percentUsed float64, alerts []Alert) Status {
	switch {
	case percentUsed >= exceededPercent:
		return StatusExceeded
	case percentUsed >= criticalPercent:
		return StatusCritical
	}

	for _, a := range alerts {
		if percentUsed >= a.Threshold {
			return StatusWarning
		}
	}
	return StatusNormal
}

// ComputeStatus derives everything but the active alerts from the period
// total current at now.
func ComputeStatus(def *Definition, current float64, now time.Time) *StatusInfo {
	start, end := PeriodBounds(def, now)

	percent := 0.0
	if def.Amount > 0 {
		percent = current / def.Amount * 100
	}

	// Burn rate divides by at least one day so a fresh period does not
	// project an extreme total from its first minutes.
	elapsed := math.Max(days(now.Sub(start)), 1)
	burnRate := current / elapsed
	total := days(end.Sub(start))

	return &StatusInfo{
		BudgetID:       def.ID,
		CurrentAmount:  current,
		Limit:          def.Amount,
		Currency:       def.Currency,
		PercentUsed:    percent,
		Remaining:      def.Amount - current,
		DaysRemaining:  ceilDays(end.Sub(now)),
		BurnRate:       burnRate,
		ProjectedTotal: burnRate * total,
		Status:         ClassifyStatus(percent, def.Alerts),
		ActiveAlerts:   []AlertStatus{},
		PeriodStart:    start,
		PeriodEnd:      end,
	}
}

// triggeredAlerts returns the alerts whose threshold percentUsed has reached,
// in ascending threshold order.
func triggeredAlerts(alerts []Alert, percentUsed float64) []Alert {
	var out []Alert
	for _, a := range alerts {
		if percentUsed >= a.Threshold {
			out = append(out, a)
		}
	}
	return out
}

// governingAlert returns the triggered alert whose most severe action ranks
// highest. Ties go to the higher threshold.
func governingAlert(alerts []Alert, percentUsed float64) (Alert, bool) {
	var (
		best  Alert
		rank  = -1
		found bool
	)
	for _, a := range triggeredAlerts(alerts, percentUsed) {
		r := maxSeverity(a.Actions)
		if r > rank || (r == rank && a.Threshold > best.Threshold) {
			best, rank, found = a, r, true
		}
	}
	return best, found
}

func maxSeverity(actions []string) int {
	m := 0
	for _, s := range actions {
		if v := enforcement.Severity(enforcement.Action(s)); v > m {
			m = v
		}
	}
	return m
}
