package checker

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarmd/internal/config"
	"github.com/oshokin/alarmd/internal/logger"
	"github.com/oshokin/alarmd/internal/service/common"
)

// Options controls the checker polling behavior and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ServerAddress provides an optional admin address override.
	ServerAddress string
	// PollInterval defines the interval between stats checks.
	PollInterval time.Duration
}

// DefaultPollInterval defines the polling interval when none is given.
const DefaultPollInterval = 5 * time.Second

// runningState is the pool state of a daemon that accepts work.
const runningState = "RUNNING"

// Run polls the daemon stats and logs them until ctx is canceled or the
// daemon starts shutting down. Failed polls are logged and retried.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "alarmd-checker")

	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	serverAddress := cfg.Admin.ListenAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	actor, err := common.DetectActor()
	if err != nil {
		logger.WarnKV(ctx, "Cannot detect actor", "error", err)
	}

	client, err := common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout), common.WithActor(actor))
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}

	// Ensure connection cleanup on function exit.
	defer func() {
		_ = client.Close()
	}()

	logger.InfoKV(ctx, "Polling daemon stats", "server_address", serverAddress, "interval", pollInterval.String())

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")

			return nil
		case <-ticker.C:
			running, err := checkStats(ctx, client)
			if err != nil {
				logger.ErrorKV(ctx, "Check stats failed", "error", err)

				continue
			}

			if !running {
				logger.Info(ctx, "Daemon is shutting down, exiting")

				return nil
			}
		}
	}
}

// checkStats logs one stats snapshot and reports whether the pool is running.
func checkStats(ctx context.Context, client *common.Client) (bool, error) {
	stats, err := client.GetStats(ctx)
	if err != nil {
		return false, err
	}

	pool := stats.GetFields()["pool"].GetStructValue()
	alarms := stats.GetFields()["alarms"].GetStructValue()
	locks := stats.GetFields()["locks"].GetStructValue()

	state := field(pool, "state").GetStringValue()

	logger.InfoKV(ctx, "Daemon stats",
		"state", state,
		"workers", field(pool, "workers").GetNumberValue(),
		"active", field(pool, "active").GetNumberValue(),
		"queued", field(pool, "queued").GetNumberValue(),
		"pending_alarms", field(alarms, "pending").GetNumberValue(),
		"waiting_locks", field(locks, "waiting").GetNumberValue(),
	)

	return state == runningState, nil
}

// field returns s[name], tolerating a nil struct.
func field(s *structpb.Struct, name string) *structpb.Value {
	return s.GetFields()[name]
}
