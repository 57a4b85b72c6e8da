package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarmd/internal/config"
	"github.com/oshokin/alarmd/internal/service/checker"
	"github.com/oshokin/alarmd/internal/service/client"
	"github.com/oshokin/alarmd/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// serverAddress overrides the admin address from config.
	serverAddress string
	// deferrable schedules a deferrable alarm.
	deferrable bool
	// pollInterval is the watch polling interval.
	pollInterval time.Duration

	// rootCmd represents the base command for talking to alarmd.
	rootCmd = &cobra.Command{
		Use:   "alarmctl",
		Short: "Inspect and administer a running alarmd.",
		Long: `Talks to the administrative gRPC service of a running alarmd.

Shows worker pool, alarm and lock counters, lists and cancels pending alarms,
schedules notice alarms, shows the lock table and force-releases stuck locks.
The daemon address is read from the configuration file unless --server is given.`,
		SilenceUsage: true,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print pool, alarm and lock counters.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(client.Stats())
		},
	}

	alarmsCmd = &cobra.Command{
		Use:   "alarms",
		Short: "List pending alarms by fire time.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(client.ListAlarms())
		},
	}

	scheduleCmd = &cobra.Command{
		Use:   "schedule <delay> <message>",
		Short: "Schedule an alarm that logs a message on the daemon.",
		Long: `Schedules an alarm that logs the message on the daemon when it fires.

The delay is a Go duration such as 90s or 5m. A --deferrable alarm may fire late,
up to the configured maximum deferral, while the daemon has nothing else to do.`,
		Args: cobra.ExactArgs(2), //nolint:mnd // delay and message.
		RunE: func(_ *cobra.Command, args []string) error {
			delay, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("invalid delay: %w", err)
			}

			return run(client.Schedule(delay, args[1], deferrable))
		},
	}

	cancelCmd = &cobra.Command{
		Use:   "cancel <alarm-id>",
		Short: "Cancel a pending alarm.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(client.Cancel(args[0]))
		},
	}

	locksCmd = &cobra.Command{
		Use:   "locks",
		Short: "Print held and awaited locks.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(client.Locks())
		},
	}

	releaseCmd = &cobra.Command{
		Use:   "release <resource>",
		Short: "Force-release a lock, failing its waiters.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(client.Release(args[0]))
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Log daemon counters periodically until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return checker.Run(ctx, &checker.Options{
				ConfigPath:    cfgPath,
				ServerAddress: serverAddress,
				PollInterval:  pollInterval,
			})
		},
	}
)

// run performs one admin call, interruptible by SIGINT or SIGTERM.
func run(action client.Action) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return client.Run(ctx, &client.Options{
		ConfigPath:    cfgPath,
		ServerAddress: serverAddress,
	}, action)
}

// Execute runs the alarmctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&serverAddress, "server", "s", "", "daemon admin address")

	scheduleCmd.Flags().BoolVarP(&deferrable, "deferrable", "d", false, "allow the alarm to fire late while idle")
	watchCmd.Flags().DurationVarP(&pollInterval, "interval", "i", checker.DefaultPollInterval, "polling interval")

	rootCmd.AddCommand(statsCmd, alarmsCmd, scheduleCmd, cancelCmd, locksCmd, releaseCmd, watchCmd)
}
