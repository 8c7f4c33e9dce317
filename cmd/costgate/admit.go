package main

import (
	"github.com/spf13/cobra"

	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/limits"
)

var admitFlags struct {
	provider string
	user     string
	project  string
	team     string
	org      string
	cost     float64
	currency string
	model    string
}

var admitCmd = &cobra.Command{
	Use:   "admit",
	Short: "Ask the server whether a request may proceed",
	Long: `Run an admission check against a running server.

The decision is printed and the command exits with status 3 when the request
is rejected, so it can gate scripted jobs:

  costgate admit --provider openai --team platform --cost 0.40 && run-batch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.Admit(commandContext(cmd), limits.AdmitRequest{
			ProviderID: admitFlags.provider,
			Scope: limits.ScopeIDs{
				UserID:         admitFlags.user,
				ProjectID:      admitFlags.project,
				TeamID:         admitFlags.team,
				OrganizationID: admitFlags.org,
			},
			EstimatedCost: admitFlags.cost,
			Currency:      admitFlags.currency,
			Model:         admitFlags.model,
		})
		if err != nil {
			return err
		}
		if err := printResult(cmd, (*admitView)(resp)); err != nil {
			return err
		}
		if !resp.Allow {
			return rejection(admitFlags.provider, resp.AdmitDecision)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(admitCmd)

	f := admitCmd.Flags()
	f.StringVar(&admitFlags.provider, "provider", "", "provider id")
	f.StringVar(&admitFlags.user, "user", "", "user id")
	f.StringVar(&admitFlags.project, "project", "", "project id")
	f.StringVar(&admitFlags.team, "team", "", "team id")
	f.StringVar(&admitFlags.org, "org", "", "organization id")
	f.Float64Var(&admitFlags.cost, "cost", 0, "estimated cost of the request")
	f.StringVar(&admitFlags.currency, "currency", "", "currency of the estimate")
	f.StringVar(&admitFlags.model, "model", "", "requested model")
	_ = admitCmd.MarkFlagRequired("provider")
}

// rejection converts a denied decision into the matching typed error.
func rejection(providerID string, d *limits.AdmitDecision) error {
	switch d.RejectedBy {
	case limits.RejectedByRateLimit:
		return &apperrors.RateLimitError{Tier: string(d.Tier), RetryAfter: d.Wait()}
	case limits.RejectedByCircuit:
		return &apperrors.CircuitOpenError{ProviderID: providerID, RetryAfter: d.Wait()}
	}
	return &apperrors.BudgetConstraintError{
		BudgetID:         d.BudgetID,
		Reason:           d.Reason,
		SuggestedActions: d.SuggestedActions,
	}
}
