package main

import (
	"strconv"
	"strings"
	"time"

	"mercator-hq/costgate/pkg/api/types"
	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/cli"
	"mercator-hq/costgate/pkg/limits/budget"
)

// Table renderings of API results. JSON and YAML output use the API field
// names unchanged.

type definitions []*budget.Definition

func (d definitions) Table() *cli.Table {
	t := &cli.Table{Headers: []string{"ID", "NAME", "SCOPE", "AMOUNT", "PERIOD", "PARENT"}}
	for _, def := range d {
		t.Rows = append(t.Rows, []string{
			def.ID,
			def.Name,
			string(def.Scope.Type) + ":" + def.Scope.ID,
			money(def.Amount, def.Currency),
			string(def.Period),
			orDash(def.ParentBudgetID),
		})
	}
	return t
}

type statusView budget.StatusInfo

func (s *statusView) Table() *cli.Table {
	alerts := make([]string, 0, len(s.ActiveAlerts))
	for _, a := range s.ActiveAlerts {
		mark := ""
		if a.Acknowledged {
			mark = " (ack)"
		}
		alerts = append(alerts, strconv.FormatFloat(a.Threshold, 'g', -1, 64)+"%"+mark)
	}

	return &cli.Table{
		Headers: []string{"FIELD", "VALUE"},
		Rows: [][]string{
			{"budget", s.BudgetID},
			{"status", string(s.Status)},
			{"spent", money(s.CurrentAmount, s.Currency)},
			{"limit", money(s.Limit, s.Currency)},
			{"used", strconv.FormatFloat(s.PercentUsed, 'f', 1, 64) + "%"},
			{"remaining", money(s.Remaining, s.Currency)},
			{"burn_rate", money(s.BurnRate, s.Currency) + "/day"},
			{"projected", money(s.ProjectedTotal, s.Currency)},
			{"period", s.PeriodStart.Format(time.RFC3339) + " - " + s.PeriodEnd.Format(time.RFC3339)},
			{"days_remaining", strconv.Itoa(s.DaysRemaining)},
			{"alerts", orDash(strings.Join(alerts, ", "))},
		},
	}
}

type checkView budget.ConstraintCheck

func (c *checkView) Table() *cli.Table {
	return &cli.Table{
		Headers: []string{"FIELD", "VALUE"},
		Rows: [][]string{
			{"budget", c.BudgetID},
			{"can_proceed", strconv.FormatBool(c.CanProceed)},
			{"current", strconv.FormatFloat(c.CurrentAmount, 'f', 2, 64)},
			{"limit", strconv.FormatFloat(c.Limit, 'f', 2, 64)},
			{"status", string(c.Status)},
			{"reason", orDash(c.Reason)},
			{"suggested_actions", orDash(strings.Join(c.SuggestedActions, ", "))},
		},
	}
}

type usageRecords []*budget.UsageRecord

func (u usageRecords) Table() *cli.Table {
	t := &cli.Table{Headers: []string{"ID", "TIME", "AMOUNT", "SOURCE", "PROVIDER", "REQUEST"}}
	for _, r := range u {
		t.Rows = append(t.Rows, []string{
			r.ID,
			r.Timestamp.Format(time.RFC3339),
			money(r.Amount, r.Currency),
			r.Source,
			orDash(r.Metadata.ProviderID),
			orDash(r.Metadata.RequestID),
		})
	}
	return t
}

type circuitView types.CircuitResponse

func (c *circuitView) Table() *cli.Table {
	rows := [][]string{
		{"provider", c.ProviderID},
		{"status", string(c.Status)},
		{"consecutive_failures", strconv.Itoa(c.ConsecutiveFailures)},
		{"cool_down", c.CoolDown.String()},
		{"trip_threshold", strconv.Itoa(c.Settings.TripThreshold)},
	}
	if !c.OpenedAt.IsZero() {
		rows = append(rows, []string{"opened_at", c.OpenedAt.Format(time.RFC3339)})
	}
	if c.RetryAfterSeconds > 0 {
		rows = append(rows, []string{"retry_after", (time.Duration(c.RetryAfterSeconds) * time.Second).String()})
	}
	return &cli.Table{Headers: []string{"FIELD", "VALUE"}, Rows: rows}
}

type admitView types.AdmitResponse

func (a *admitView) Table() *cli.Table {
	rows := [][]string{{"allow", strconv.FormatBool(a.Allow)}}
	add := func(k, v string) {
		if v != "" {
			rows = append(rows, []string{k, v})
		}
	}
	add("rejected_by", string(a.RejectedBy))
	add("reason", a.Reason)
	add("tier", string(a.Tier))
	add("budget", a.BudgetID)
	add("downgraded_model", a.DowngradedModel)
	if a.RequiresApproval {
		add("requires_approval", "true")
	}
	if a.RetryAfterSeconds > 0 {
		add("retry_after", (time.Duration(a.RetryAfterSeconds) * time.Second).String())
	}
	add("suggested_actions", strings.Join(a.SuggestedActions, ", "))
	add("warnings", strings.Join(a.Warnings, "; "))
	return &cli.Table{Headers: []string{"FIELD", "VALUE"}, Rows: rows}
}

// budgetDenied turns a negative constraint check into an error that exits
// with cli.ExitRejected.
func budgetDenied(c *budget.ConstraintCheck) error {
	return &apperrors.BudgetConstraintError{
		BudgetID:         c.BudgetID,
		Reason:           c.Reason,
		SuggestedActions: c.SuggestedActions,
	}
}

func money(v float64, currency string) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
