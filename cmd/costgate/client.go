package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/costgate/pkg/client"
)

var clientTimeout time.Duration

// newClient builds an API client for --server.
func newClient() (*client.Client, error) {
	return client.New(client.Config{
		BaseURL: serverURL,
		Timeout: clientTimeout,
	})
}

// commandContext returns the command's context, or a background one when
// the command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&clientTimeout, "timeout", 10*time.Second, "timeout for client commands")
}
