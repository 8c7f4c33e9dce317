package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/costgate/pkg/cli"
	"mercator-hq/costgate/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file with defaults and environment overrides applied,
validate it, and print the effective limits.

Examples:
  # Validate the default config.yaml
  costgate validate

  # Validate a specific file and print JSON
  costgate validate --config /etc/costgate/config.yaml -o json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// limitsSummary is the effective limit configuration of a config file.
type limitsSummary struct {
	Store     string             `json:"store"`
	Database  string             `json:"database"`
	Reconcile bool               `json:"reconcile"`
	Limits    []limitSummaryLine `json:"rate_limits"`
	Circuits  []limitSummaryLine `json:"circuits"`
}

type limitSummaryLine struct {
	Scope string `json:"scope"`
	Value string `json:"value"`
}

func (s *limitsSummary) Table() *cli.Table {
	t := &cli.Table{Headers: []string{"SETTING", "VALUE"}}
	t.Rows = append(t.Rows,
		[]string{"store", s.Store},
		[]string{"database", s.Database},
		[]string{"reconcile", strconv.FormatBool(s.Reconcile)},
	)
	for _, l := range s.Limits {
		t.Rows = append(t.Rows, []string{"rate_limit." + l.Scope, l.Value})
	}
	for _, c := range s.Circuits {
		t.Rows = append(t.Rows, []string{"circuit." + c.Scope, c.Value})
	}
	return t
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("config", err.Error())
	}

	rl := rateLimitConfig(cfg.RateLimits)
	if err := rl.Validate(); err != nil {
		return cli.NewConfigError("rate_limits", err.Error())
	}
	cc := circuitConfig(cfg.Circuit)
	if err := cc.Validate(); err != nil {
		return cli.NewConfigError("circuit", err.Error())
	}

	return printResult(cmd, summarize(cfg))
}

func summarize(cfg *config.Config) *limitsSummary {
	s := &limitsSummary{
		Store:     cfg.Store.Backend,
		Database:  cfg.Database.Path,
		Reconcile: cfg.Reconcile.IsEnabled(),
	}

	addLimit := func(scope string, l *config.RateLimit) {
		if l == nil {
			s.Limits = append(s.Limits, limitSummaryLine{scope, "unlimited"})
			return
		}
		s.Limits = append(s.Limits, limitSummaryLine{scope, fmt.Sprintf("%d per %s (+%d burst)", l.Requests, l.Window, l.Burst)})
	}
	addLimit("global", cfg.RateLimits.Global)
	addLimit("default_provider", cfg.RateLimits.DefaultProvider)
	addLimit("per_user", cfg.RateLimits.PerUser)
	for _, id := range sortedKeys(cfg.RateLimits.Providers) {
		l := cfg.RateLimits.Providers[id]
		addLimit("providers."+id, &l)
	}

	addCircuit := func(scope string, c config.CircuitSettings) {
		s.Circuits = append(s.Circuits, limitSummaryLine{scope, fmt.Sprintf("trip after %d, cool down %s (max %s), %d trial(s)",
			c.TripThreshold, c.CoolDown, c.MaxCoolDown, c.HalfOpenTrials)})
	}
	addCircuit("defaults", cfg.Circuit.Defaults)
	for _, id := range sortedKeys(cfg.Circuit.Providers) {
		addCircuit("providers."+id, cfg.Circuit.Providers[id])
	}

	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
