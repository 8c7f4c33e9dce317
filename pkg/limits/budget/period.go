package budget

import (
	"math"
	"time"
)

// approxLength is a lower-bound estimate of one period, used to jump close to
// the right period index before stepping.
func approxLength(p Period) time.Duration {
	switch p {
	case PeriodDaily:
		return 23 * time.Hour
	case PeriodWeekly:
		return 7*24*time.Hour - time.Hour
	case PeriodMonthly:
		return 28 * 24 * time.Hour
	case PeriodQuarterly:
		return 89 * 24 * time.Hour
	case PeriodAnnual:
		return 365 * 24 * time.Hour
	}
	return 0
}

// advance returns the start of period n counted from anchor.
// Calendar periods use AddDate so months keep their calendar length.
func advance(anchor time.Time, p Period, n int) time.Time {
	switch p {
	case PeriodDaily:
		return anchor.AddDate(0, 0, n)
	case PeriodWeekly:
		return anchor.AddDate(0, 0, 7*n)
	case PeriodMonthly:
		return anchor.AddDate(0, n, 0)
	case PeriodQuarterly:
		return anchor.AddDate(0, 3*n, 0)
	case PeriodAnnual:
		return anchor.AddDate(n, 0, 0)
	}
	return anchor
}

// PeriodBounds returns the [start, end) period of def that contains at.
//
// Times before StartDate map to the first period. For budgets with an end
// date, times at or after EndDate map to the last period and end is clipped
// to EndDate. Non-recurring budgets have a single period.
func PeriodBounds(def *Definition, at time.Time) (start, end time.Time) {
	anchor := def.StartDate

	if def.Period == PeriodCustom {
		if def.EndDate == nil {
			return anchor, anchor
		}
		return anchor, *def.EndDate
	}

	if def.EndDate != nil && !at.Before(*def.EndDate) {
		at = def.EndDate.Add(-time.Nanosecond)
	}

	n := 0
	if def.Recurring && at.After(anchor) {
		if l := approxLength(def.Period); l > 0 {
			n = int(at.Sub(anchor) / l)
		}
		for n > 0 && advance(anchor, def.Period, n).After(at) {
			n--
		}
		for !advance(anchor, def.Period, n+1).After(at) {
			n++
		}
	}

	start = advance(anchor, def.Period, n)
	end = advance(anchor, def.Period, n+1)
	if def.EndDate != nil && def.EndDate.Before(end) {
		end = *def.EndDate
	}
	return start, end
}

// periodKey identifies a period in counter store keys.
func periodKey(start time.Time) int64 {
	return start.Unix()
}

// days converts a duration to fractional days.
func days(d time.Duration) float64 {
	return d.Hours() / 24
}

// ceilDays converts a duration to whole days, rounding up, never negative.
func ceilDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(days(d)))
}
