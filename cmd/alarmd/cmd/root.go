package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarmd/internal/config"
	"github.com/oshokin/alarmd/internal/logger"
	"github.com/oshokin/alarmd/internal/service/server"
	"github.com/oshokin/alarmd/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// metricsAddress enables metrics on this address.
	metricsAddress string

	// rootCmd represents the base command for running the daemon.
	rootCmd = &cobra.Command{
		Use:   "alarmd [listen-address]",
		Short: "Run the alarm scheduler, worker pool and lock manager daemon.",
		Long: `Starts the alarm daemon: a deferrable alarm scheduler dispatching fired alarms
onto a bounded worker pool, and a lock manager that refuses deadlocking waits.

The administrative gRPC service listens on the address from the configuration file
unless one is given as argument (e.g., :7070, 127.0.0.1:7070). Use alarmctl to talk to it.
Prometheus metrics and /healthz are served when enabled in the configuration or with --metrics.

On SIGINT or SIGTERM the daemon stops accepting alarms, lets pending alarms fire within
the configured timeout, drains the worker pool and exits.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:     configPath,
				ListenAddress:  listenAddress,
				MetricsAddress: metricsAddress,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the alarmd CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		logger.Sync()
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&metricsAddress, "metrics", "m", "", "serve metrics on this address")
}
