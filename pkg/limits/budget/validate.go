package budget

import (
	"fmt"
	"regexp"
	"strings"

	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/limits/enforcement"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// validateDefinition checks the self-contained invariants of def and records
// every violation in verr.
func validateDefinition(def *Definition, verr *apperrors.ValidationError) {
	if strings.TrimSpace(def.Name) == "" {
		verr.Add("name", "is required")
	}

	if !def.Scope.Type.Valid() {
		verr.Add("scope.type", fmt.Sprintf("must be one of organization, team, project, user (got %q)", def.Scope.Type))
	}
	if strings.TrimSpace(def.Scope.ID) == "" {
		verr.Add("scope.id", "is required")
	}

	if !(def.Amount > 0) {
		verr.Add("amount", "must be greater than 0")
	}

	if !currencyPattern.MatchString(def.Currency) {
		verr.Add("currency", fmt.Sprintf("must be a 3-letter ISO code (got %q)", def.Currency))
	}

	validatePeriod(def, verr)
	validateAlerts(def.Alerts, verr)
}

// validatePeriod checks the period and its window.
func validatePeriod(def *Definition, verr *apperrors.ValidationError) {
	if !def.Period.Valid() {
		verr.Add("period", fmt.Sprintf("must be one of daily, weekly, monthly, quarterly, annual, custom (got %q)", def.Period))
		return
	}

	if def.StartDate.IsZero() {
		verr.Add("start_date", "is required")
		return
	}

	if def.Period == PeriodCustom && def.EndDate == nil {
		verr.Add("end_date", "is required for custom periods")
		return
	}

	if def.EndDate != nil && !def.EndDate.After(def.StartDate) {
		verr.Add("end_date", "must be after start_date")
	}
}

// validateAlerts requires thresholds in (0, 100], strictly increasing, and
// known actions.
func validateAlerts(alerts []Alert, verr *apperrors.ValidationError) {
	prev := 0.0
	for i, a := range alerts {
		field := fmt.Sprintf("alerts[%d]", i)

		if a.Threshold <= 0 || a.Threshold > 100 {
			verr.Add(field+".threshold", fmt.Sprintf("must be within (0, 100] (got %g)", a.Threshold))
		} else if i > 0 && a.Threshold <= prev {
			verr.Add(field+".threshold", fmt.Sprintf("must be greater than the previous threshold %g", prev))
		}
		prev = a.Threshold

		for j, action := range a.Actions {
			if err := enforcement.Validate(action); err != nil {
				verr.Add(fmt.Sprintf("%s.actions[%d]", field, j), err.Error())
			}
		}
	}
}

// normalizeCurrency upper-cases and trims a currency code.
func normalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
