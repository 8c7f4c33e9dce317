package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mercator-hq/costgate/pkg/cli"
	"mercator-hq/costgate/pkg/limits/budget"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage budgets on a running server",
	Long: `Create, inspect and delete budgets through the costgate API.

Examples:
  # Create a monthly team budget with two alerts
  costgate budget create --name Platform --scope team:platform --amount 500 \
      --period monthly --start 2026-03-01T00:00:00Z \
      --alert 80:notify --alert 100:block-all

  # Show live spend
  costgate budget status b-1234

  # Create many budgets from a file
  costgate budget import budgets.yaml`,
}

var budgetCreateFlags struct {
	name      string
	scope     string
	amount    float64
	currency  string
	period    string
	start     string
	end       string
	recurring bool
	parent    string
	alerts    []string
}

var budgetCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a budget",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := budgetCreateFlags
		req := budget.CreateRequest{
			Name:           f.name,
			Amount:         f.amount,
			Currency:       f.currency,
			Period:         budget.Period(f.period),
			Recurring:      f.recurring,
			ParentBudgetID: f.parent,
		}

		var err error
		if req.Scope, err = parseScope(f.scope); err != nil {
			return err
		}
		if req.StartDate, err = parseTimeFlag("start", f.start); err != nil {
			return err
		}
		if f.end != "" {
			end, err := parseTimeFlag("end", f.end)
			if err != nil {
				return err
			}
			req.EndDate = &end
		}
		if req.Alerts, err = parseAlerts(f.alerts); err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		def, err := c.CreateBudget(commandContext(cmd), req)
		if err != nil {
			return err
		}
		return printResult(cmd, definitions{def})
	},
}

var budgetGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a budget definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		def, err := c.GetBudget(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, definitions{def})
	},
}

var budgetListAll bool

var budgetListCmd = &cobra.Command{
	Use:   "list SCOPE_TYPE SCOPE_ID",
	Short: "List the budgets attached to a scope",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defs, err := c.ListBudgets(commandContext(cmd), budget.ScopeType(args[0]), args[1], budgetListAll)
		if err != nil {
			return err
		}
		return printResult(cmd, definitions(defs))
	},
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status ID",
	Short: "Show live spend of a budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		info, err := c.BudgetStatus(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, (*statusView)(info))
	},
}

var budgetUsageFlags struct {
	since string
	until string
}

var budgetUsageCmd = &cobra.Command{
	Use:   "usage ID",
	Short: "List usage records of a budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var since, until time.Time
		var err error
		if budgetUsageFlags.since != "" {
			if since, err = parseTimeFlag("since", budgetUsageFlags.since); err != nil {
				return err
			}
		}
		if budgetUsageFlags.until != "" {
			if until, err = parseTimeFlag("until", budgetUsageFlags.until); err != nil {
				return err
			}
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.ListUsage(commandContext(cmd), args[0], since, until)
		if err != nil {
			return err
		}
		return printResult(cmd, usageRecords(resp.Records))
	},
}

var budgetDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.DeleteBudget(commandContext(cmd), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Budget %s deleted\n", args[0])
		return nil
	},
}

var budgetAckCmd = &cobra.Command{
	Use:   "ack ID THRESHOLD",
	Short: "Acknowledge a fired alert",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return cli.NewConfigError("threshold", fmt.Sprintf("must be a number (got %q)", args[1]))
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.AcknowledgeAlert(commandContext(cmd), args[0], threshold); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Alert at %g%% acknowledged\n", threshold)
		return nil
	},
}

var budgetCheckCmd = &cobra.Command{
	Use:   "check ID ESTIMATED_COST",
	Short: "Check whether a cost fits in a budget",
	Long: `Check whether a cost fits in a budget.

The command exits with status 3 when the budget cannot absorb the cost.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cost, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return cli.NewConfigError("estimated_cost", fmt.Sprintf("must be a number (got %q)", args[1]))
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		check, err := c.CheckConstraints(commandContext(cmd), args[0], cost)
		if err != nil {
			return err
		}
		if err := printResult(cmd, (*checkView)(check)); err != nil {
			return err
		}
		if !check.CanProceed {
			return budgetDenied(check)
		}
		return nil
	},
}

var budgetImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Create budgets from a YAML file",
	Long: `Create budgets from a YAML file.

Entries are created in order. An entry may name a "key" that later entries
reference as their "parent":

  budgets:
    - key: acme
      name: Acme
      scope: {type: organization, id: acme}
      amount: 10000
      currency: USD
      period: monthly
      start_date: 2026-03-01T00:00:00Z
    - name: Platform
      parent: acme
      scope: {type: team, id: platform}
      amount: 2500
      currency: USD
      period: monthly
      start_date: 2026-03-01T00:00:00Z
      alerts:
        - {threshold: 80, actions: [notify]}`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := loadImportFile(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}

		ctx := commandContext(cmd)
		created := make(definitions, 0, len(entries))
		keys := make(map[string]string, len(entries))

		progress := cli.NewProgressReporter(cmd.ErrOrStderr())
		progress.Start(int64(len(entries)))
		for i, e := range entries {
			req, err := e.request(keys)
			if err != nil {
				progress.Error(err)
				return err
			}
			def, err := c.CreateBudget(ctx, req)
			if err != nil {
				err = fmt.Errorf("budget %d (%s): %w", i+1, e.Name, err)
				progress.Error(err)
				return err
			}
			if e.Key != "" {
				keys[e.Key] = def.ID
			}
			created = append(created, def)
			progress.Update(int64(i + 1))
		}
		progress.Finish()

		return printResult(cmd, created)
	},
}

func init() {
	rootCmd.AddCommand(budgetCmd)
	budgetCmd.AddCommand(budgetCreateCmd, budgetGetCmd, budgetListCmd, budgetStatusCmd,
		budgetUsageCmd, budgetDeleteCmd, budgetAckCmd, budgetCheckCmd, budgetImportCmd)

	f := budgetCreateCmd.Flags()
	f.StringVar(&budgetCreateFlags.name, "name", "", "budget name")
	f.StringVar(&budgetCreateFlags.scope, "scope", "", "scope as TYPE:ID, e.g. team:platform")
	f.Float64Var(&budgetCreateFlags.amount, "amount", 0, "spending limit per period")
	f.StringVar(&budgetCreateFlags.currency, "currency", "USD", "ISO currency code")
	f.StringVar(&budgetCreateFlags.period, "period", string(budget.PeriodMonthly), "daily, weekly, monthly, quarterly, annual or custom")
	f.StringVar(&budgetCreateFlags.start, "start", "", "period anchor (RFC3339)")
	f.StringVar(&budgetCreateFlags.end, "end", "", "end of the budget (RFC3339), required for custom periods")
	f.BoolVar(&budgetCreateFlags.recurring, "recurring", true, "roll over into the next period")
	f.StringVar(&budgetCreateFlags.parent, "parent", "", "parent budget id")
	f.StringArrayVar(&budgetCreateFlags.alerts, "alert", nil, "alert as THRESHOLD:ACTION[,ACTION], repeatable")
	_ = budgetCreateCmd.MarkFlagRequired("name")
	_ = budgetCreateCmd.MarkFlagRequired("scope")
	_ = budgetCreateCmd.MarkFlagRequired("amount")
	_ = budgetCreateCmd.MarkFlagRequired("start")

	budgetListCmd.Flags().BoolVar(&budgetListAll, "all", false, "include deleted and expired budgets")

	budgetUsageCmd.Flags().StringVar(&budgetUsageFlags.since, "since", "", "only records at or after this time (RFC3339)")
	budgetUsageCmd.Flags().StringVar(&budgetUsageFlags.until, "until", "", "only records before this time (RFC3339)")
}

func parseScope(s string) (budget.Scope, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || typ == "" || id == "" {
		return budget.Scope{}, cli.NewConfigError("scope", fmt.Sprintf("must be TYPE:ID (got %q)", s))
	}
	return budget.Scope{Type: budget.ScopeType(typ), ID: id}, nil
}

func parseTimeFlag(name, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, cli.NewConfigError(name, fmt.Sprintf("must be an RFC3339 timestamp (got %q)", v))
	}
	return t, nil
}

// parseAlerts parses THRESHOLD:ACTION[,ACTION] values.
func parseAlerts(values []string) ([]budget.Alert, error) {
	alerts := make([]budget.Alert, 0, len(values))
	for _, v := range values {
		th, actions, ok := strings.Cut(v, ":")
		threshold, err := strconv.ParseFloat(th, 64)
		if !ok || err != nil || actions == "" {
			return nil, cli.NewConfigError("alert", fmt.Sprintf("must be THRESHOLD:ACTION[,ACTION] (got %q)", v))
		}
		alerts = append(alerts, budget.Alert{
			Threshold: threshold,
			Actions:   strings.Split(actions, ","),
		})
	}
	return alerts, nil
}

type importFile struct {
	Budgets []importEntry `yaml:"budgets"`
}

type importEntry struct {
	Key            string        `yaml:"key"`
	Parent         string        `yaml:"parent"`
	ParentBudgetID string        `yaml:"parent_budget_id"`
	Name           string        `yaml:"name"`
	Scope          importScope   `yaml:"scope"`
	Amount         float64       `yaml:"amount"`
	Currency       string        `yaml:"currency"`
	Period         string        `yaml:"period"`
	StartDate      time.Time     `yaml:"start_date"`
	EndDate        *time.Time    `yaml:"end_date"`
	Recurring      *bool         `yaml:"recurring"`
	Alerts         []importAlert `yaml:"alerts"`
}

type importScope struct {
	Type string `yaml:"type"`
	ID   string `yaml:"id"`
}

type importAlert struct {
	Threshold           float64  `yaml:"threshold"`
	Actions             []string `yaml:"actions"`
	NotificationTargets []string `yaml:"notification_targets"`
}

func loadImportFile(path string) ([]importEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var f importFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, cli.NewConfigError(path, fmt.Sprintf("invalid YAML: %v", err))
	}
	if len(f.Budgets) == 0 {
		return nil, cli.NewConfigError(path, "no budgets defined")
	}
	return f.Budgets, nil
}

// request converts e, resolving a parent key against budgets created earlier.
func (e importEntry) request(keys map[string]string) (budget.CreateRequest, error) {
	parentID := e.ParentBudgetID
	if e.Parent != "" {
		id, ok := keys[e.Parent]
		if !ok {
			return budget.CreateRequest{}, cli.NewConfigError("parent", fmt.Sprintf("budget %q references unknown or later key %q", e.Name, e.Parent))
		}
		parentID = id
	}

	recurring := true
	if e.Recurring != nil {
		recurring = *e.Recurring
	}

	req := budget.CreateRequest{
		Name:           e.Name,
		Scope:          budget.Scope{Type: budget.ScopeType(e.Scope.Type), ID: e.Scope.ID},
		Amount:         e.Amount,
		Currency:       e.Currency,
		Period:         budget.Period(e.Period),
		StartDate:      e.StartDate,
		EndDate:        e.EndDate,
		Recurring:      recurring,
		ParentBudgetID: parentID,
	}
	for _, a := range e.Alerts {
		req.Alerts = append(req.Alerts, budget.Alert{
			Threshold:           a.Threshold,
			Actions:             a.Actions,
			NotificationTargets: a.NotificationTargets,
		})
	}
	return req, nil
}
