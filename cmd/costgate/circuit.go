package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var circuitCmd = &cobra.Command{
	Use:   "circuit",
	Short: "Inspect and reset provider circuit breakers",
	Long: `Inspect and reset provider circuit breakers on a running server.

Examples:
  costgate circuit get openai
  costgate circuit reset openai`,
}

var circuitGetCmd = &cobra.Command{
	Use:   "get PROVIDER",
	Short: "Show the breaker state of a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		state, err := c.Circuit(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, (*circuitView)(state))
	},
}

var circuitResetCmd = &cobra.Command{
	Use:   "reset PROVIDER",
	Short: "Force a provider's breaker closed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.ResetCircuit(commandContext(cmd), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Circuit for %s reset\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(circuitCmd)
	circuitCmd.AddCommand(circuitGetCmd, circuitResetCmd)
}
