package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/costgate/pkg/cli"
)

var (
	// Global flags
	cfgFile   string
	serverURL string
	output    string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "costgate",
	Short: "Costgate - admission and cost governance for AI provider traffic",
	Long: `Costgate decides whether a request to an AI provider may proceed and
records what it cost afterwards.

It combines:
  - Hierarchical budgets (organization, team, project, user) with alerts
  - Multi-tier rate limiting (global, per provider, per user)
  - Per-provider circuit breakers
  - Durable replay of usage that could not be recorded

Start the server with "costgate run". The budget, circuit and admit commands
talk to a running server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a status derived from the
// error, see cli.ExitCode.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("COSTGATE_SERVER", "http://127.0.0.1:8080"), "costgate server URL for client commands")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format: text, json, yaml, csv")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// printResult writes v to the command's stdout in the --output format.
func printResult(cmd *cobra.Command, v any) error {
	format, err := cli.ParseOutputFormat(output)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), v)
}
