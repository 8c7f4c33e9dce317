package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/costgate/pkg/cli"
	"mercator-hq/costgate/pkg/config"
	"mercator-hq/costgate/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watch         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the costgate server",
	Long: `Start the costgate server with the specified configuration.

The server exposes the budget, admission and circuit REST API, the health
probes and the Prometheus endpoint. Usage that could not be recorded is
replayed from the reconcile queue on the configured schedule.

Rate limits and circuit settings are reloaded when the configuration file
changes. Other sections take effect on restart.

Examples:
  # Start with default config
  costgate run

  # Start with custom config
  costgate run --config /etc/costgate/config.yaml

  # Override listen address
  costgate run --listen 0.0.0.0:8080

  # Validate config without starting server
  costgate run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "reload rate limits and circuit settings when the config file changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError("config", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := *config.GetConfig()

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
		Writer:    os.Stdout,
	})
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	a, err := buildApp(ctx, &cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Error("shutdown cleanup failed", "error", err)
		}
	}()

	unsubscribe := config.Subscribe(a.reload)
	defer unsubscribe()

	printBanner(out, &cfg, a)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Start(gctx)
	})

	if a.scheduler != nil {
		if err := a.scheduler.Start(gctx); err != nil {
			stop()
			_ = g.Wait()
			return cli.NewCommandError("run", err)
		}
		defer a.scheduler.Stop()
	}

	if runFlags.watch {
		g.Go(func() error {
			return config.NewWatcher(cfgFile, config.DefaultDebounce).Watch(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

func printBanner(out io.Writer, cfg *config.Config, a *app) {
	fmt.Fprintf(out, "Costgate v%s\n", Version)
	fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(out, "✓ Configuration loaded")
	fmt.Fprintf(out, "✓ Counter store: %s\n", cfg.Store.Backend)
	fmt.Fprintf(out, "✓ Budget database: %s\n", cfg.Database.Path)
	if a.scheduler != nil {
		fmt.Fprintf(out, "✓ Reconcile queue: %s (%s)\n", cfg.Reconcile.Path, cfg.Reconcile.Schedule)
	}
	fmt.Fprintf(out, "✓ Listening on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "✓ Health endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Health.LivenessPath)
	if cfg.Telemetry.Metrics.IsEnabled() {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")
}
