package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/oshokin/alarmd/internal/config"
	"github.com/oshokin/alarmd/internal/logger"
	"github.com/oshokin/alarmd/internal/service/common"
)

// Options configures one alarmctl call.
type Options struct {
	// ConfigPath to YAML settings file; a missing file means defaults.
	ConfigPath string

	// ServerAddress overrides the admin address from config when specified.
	ServerAddress string

	// Output receives the result; nil means standard output.
	Output io.Writer
}

// Action performs one admin call and prints its result.
type Action func(ctx context.Context, c *common.Client, out io.Writer) error

// Run connects to the daemon and performs action.
func Run(ctx context.Context, opts *Options, action Action) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "alarmctl")

	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return err
	}

	serverAddress := cfg.Admin.ListenAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	// The actor only feeds the daemon's audit log.
	actor, err := common.DetectActor()
	if err != nil {
		logger.WarnKV(ctx, "Cannot detect actor", "error", err)
	}

	client, err := common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout), common.WithActor(actor))
	if err != nil {
		return err
	}

	// Close connection on function exit.
	defer func() {
		_ = client.Close()
	}()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	logger.DebugKV(ctx, "Calling alarmd", "server_address", serverAddress)

	return action(ctx, client, out)
}

// Stats prints pool, alarm and lock counters.
func Stats() Action {
	return func(ctx context.Context, c *common.Client, out io.Writer) error {
		resp, err := c.GetStats(ctx)
		if err != nil {
			return err
		}

		return printMessage(out, resp)
	}
}

// ListAlarms prints the pending alarms.
func ListAlarms() Action {
	return func(ctx context.Context, c *common.Client, out io.Writer) error {
		resp, err := c.ListAlarms(ctx)
		if err != nil {
			return err
		}

		return printMessage(out, resp)
	}
}

// Schedule schedules a notice alarm and prints its identity.
func Schedule(delay time.Duration, message string, deferrable bool) Action {
	return func(ctx context.Context, c *common.Client, out io.Writer) error {
		id, err := c.ScheduleAlarm(ctx, delay, message, deferrable)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintln(out, id)

		return err
	}
}

// Cancel cancels a pending alarm and prints whether it was pending.
func Cancel(id string) Action {
	return func(ctx context.Context, c *common.Client, out io.Writer) error {
		cancelled, err := c.CancelAlarm(ctx, id)
		if err != nil {
			return err
		}

		result := "cancelled"
		if !cancelled {
			result = "not pending"
		}

		_, err = fmt.Fprintf(out, "%s: %s\n", id, result)

		return err
	}
}

// Locks prints the lock table.
func Locks() Action {
	return func(ctx context.Context, c *common.Client, out io.Writer) error {
		resp, err := c.GetLockTable(ctx)
		if err != nil {
			return err
		}

		return printMessage(out, resp)
	}
}

// Release force-releases a lock and prints how many waiters failed.
func Release(resource string) Action {
	return func(ctx context.Context, c *common.Client, out io.Writer) error {
		interrupted, err := c.ForceReleaseLock(ctx, resource)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(out, "%s: released, %d waiters interrupted\n", resource, interrupted)

		return err
	}
}

// printMessage writes m as indented JSON.
func printMessage(out io.Writer, m proto.Message) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	_, err = fmt.Fprintln(out, string(data))

	return err
}
