package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/alarmd/internal/alarm"
	"github.com/oshokin/alarmd/internal/coordinator"
	"github.com/oshokin/alarmd/internal/logger"
	"github.com/oshokin/alarmd/internal/workpool"
)

// errNotRunning is reported by health while the pool is not accepting work.
var errNotRunning = errors.New("worker pool is not running")

// service adapts the coordinator to the admin transport.
// It is unexported to keep the transport decoupled from the implementation.
type service struct {
	*coordinator.Coordinator
}

// newService wraps c.
func newService(c *coordinator.Coordinator) *service {
	return &service{Coordinator: c}
}

// ScheduleNotice schedules an alarm that logs message when it fires.
func (s *service) ScheduleNotice(ctx context.Context, delay time.Duration, message string, deferrable bool) (string, error) {
	schedule := s.ScheduleAlarm
	if deferrable {
		schedule = s.ScheduleDeferrableAlarm
	}

	a, err := schedule(delay, alarm.ListenerFunc(notify), message)
	if err != nil {
		return "", fmt.Errorf("schedule notice: %w", err)
	}

	logger.DebugKV(ctx, "Notice scheduled", "id", a.ID(), "fire_at", a.FireAt())

	return a.ID(), nil
}

// health reports whether the daemon accepts work.
func (s *service) health() error {
	if state := s.Stats().Pool.State; state != workpool.StateRunning {
		return fmt.Errorf("%w: %s", errNotRunning, state)
	}

	return nil
}

// notify is the listener of admin-scheduled alarms.
func notify(ctx context.Context, payload any) error {
	logger.InfoKV(ctx, "Alarm fired", "message", payload)

	return nil
}
