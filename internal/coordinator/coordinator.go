package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/alarmd/internal/alarm"
	"github.com/oshokin/alarmd/internal/config"
	"github.com/oshokin/alarmd/internal/lock"
	"github.com/oshokin/alarmd/internal/logger"
	"github.com/oshokin/alarmd/internal/workpool"
)

// Observer receives events from every component. *metrics.Collector implements it.
type Observer interface {
	workpool.Observer
	alarm.Observer
	lock.Observer
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	// Pool is the worker pool snapshot.
	Pool workpool.Stats
	// PendingAlarms is the number of alarms waiting to fire.
	PendingAlarms int
	// LockedResources is the number of resources with holders or waiters.
	LockedResources int
	// WaitingLocks is the number of blocked lock requests.
	WaitingLocks int
}

// ShutdownReport counts the work discarded by ShutdownNow.
type ShutdownReport struct {
	// Alarms is the number of pending alarms that will never fire.
	Alarms int
	// Tasks is the number of buffered tasks that will never run.
	Tasks int
}

// LockRequest names one lock taken by ExecuteLocked.
type LockRequest struct {
	Resource lock.ResourceID
	Mode     lock.Mode
}

// Coordinator owns a worker pool, an alarm manager dispatching onto it and a
// lock manager for the tasks it runs.
type Coordinator struct {
	// pool runs fired alarms and submitted tasks.
	pool *workpool.Pool
	// alarms schedules alarms onto pool.
	alarms *alarm.Manager
	// locks serializes access to named resources.
	locks *lock.Manager
	// ctx carries the coordinator logger.
	ctx context.Context
}

// Option configures a Coordinator.
type Option func(*options)

// options collects Option values.
type options struct {
	observer Observer
	enqueuer lock.Enqueuer
}

// WithObserver installs an observer on every component.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observer = o
	}
}

// WithEnqueuer overrides the lock enqueuer derived from configuration.
func WithEnqueuer(e lock.Enqueuer) Option {
	return func(opts *options) {
		opts.enqueuer = e
	}
}

// New builds and starts the components described by cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Coordinator, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.enqueuer == nil && cfg.Locks.EnqueueDir != "" {
		enqueuer, err := lock.NewFlockEnqueuer(cfg.Locks.EnqueueDir)
		if err != nil {
			return nil, fmt.Errorf("create lock enqueuer: %w", err)
		}

		o.enqueuer = enqueuer
	}

	var (
		poolOpts  []workpool.Option
		alarmOpts []alarm.Option
		lockOpts  []lock.Option
	)

	if o.observer != nil {
		poolOpts = append(poolOpts, workpool.WithObserver(o.observer))
		alarmOpts = append(alarmOpts, alarm.WithObserver(o.observer))
		lockOpts = append(lockOpts, lock.WithObserver(o.observer))
	}

	if o.enqueuer != nil {
		lockOpts = append(lockOpts, lock.WithEnqueuer(o.enqueuer))
	}

	pool := workpool.New(ctx, poolOpts...)
	if err := pool.Initialise(cfg.Pool.Name, cfg.Pool.MinSize, cfg.Pool.MaxSize); err != nil {
		return nil, fmt.Errorf("initialise pool: %w", err)
	}

	pool.SetGrowAsNeeded(cfg.Pool.GrowAsNeeded)
	pool.SetKeepAliveTime(cfg.Pool.KeepAlive)
	pool.SetRequestBufferSize(cfg.Pool.RequestBufferSize)

	alarmOpts = append(alarmOpts,
		alarm.WithMaxDeferral(cfg.Alarms.MaxDeferral),
		alarm.WithRedispatchInterval(cfg.Alarms.RedispatchInterval),
		alarm.WithIdleProbe(pool),
	)

	c := &Coordinator{
		pool:   pool,
		alarms: alarm.NewManager(ctx, pool, alarmOpts...),
		locks:  lock.NewManager(lockOpts...),
		ctx:    logger.WithName(ctx, "coordinator"),
	}

	logger.InfoKV(c.ctx, "Coordinator started",
		"pool", cfg.Pool.Name,
		"max_deferral", c.alarms.MaxDeferral(),
		"enqueue_dir", cfg.Locks.EnqueueDir,
	)

	return c, nil
}

// ScheduleAlarm schedules an alarm that fires no earlier than delay from now.
func (c *Coordinator) ScheduleAlarm(delay time.Duration, listener alarm.Listener, payload any) (*alarm.Alarm, error) {
	return c.alarms.ScheduleAlarm(delay, listener, payload)
}

// ScheduleDeferrableAlarm schedules an alarm that may fire late while idle.
func (c *Coordinator) ScheduleDeferrableAlarm(
	delay time.Duration,
	listener alarm.Listener,
	payload any,
) (*alarm.Alarm, error) {
	return c.alarms.ScheduleDeferrableAlarm(delay, listener, payload)
}

// Cancel cancels a pending alarm.
func (c *Coordinator) Cancel(a *alarm.Alarm) bool {
	return c.alarms.Cancel(a)
}

// CancelByID cancels the pending alarm with the given identity.
func (c *Coordinator) CancelByID(id string) bool {
	return c.alarms.CancelByID(id)
}

// PendingAlarms lists pending alarms by fire time.
func (c *Coordinator) PendingAlarms() []alarm.Info {
	return c.alarms.Pending()
}

// Retry starts a retrier that runs op on deferrable alarms until it succeeds.
func (c *Coordinator) Retry(interval time.Duration, limit int, op func(ctx context.Context) error) (*alarm.Retrier, error) {
	r := c.alarms.NewRetrier(interval, limit, op)
	if err := r.Start(); err != nil {
		return nil, err
	}

	return r, nil
}

// Execute submits task to the pool, waiting for buffer space. Submitted work
// counts as activity, so due deferrable alarms fire with it.
func (c *Coordinator) Execute(ctx context.Context, task workpool.Task) error {
	return c.ExecuteMode(ctx, task, workpool.WaitWhenQueueIsFull)
}

// ExecuteMode is Execute with an explicit full-buffer policy.
func (c *Coordinator) ExecuteMode(ctx context.Context, task workpool.Task, mode workpool.Mode) error {
	if err := c.pool.ExecuteMode(ctx, task, mode); err != nil {
		return err
	}

	c.alarms.Nudge()

	return nil
}

// ExecuteLocked submits task to run on a worker while owner holds every
// requested lock. Locks are taken in order and all of owner's locks are
// released when the task ends. An empty owner gets a generated identity.
//
// The returned channel yields the outcome once: the task's error, or the
// lock failure (for example a *lock.DeadlockError) that kept it from running.
func (c *Coordinator) ExecuteLocked(
	ctx context.Context,
	owner lock.OwnerID,
	requests []LockRequest,
	task workpool.Task,
) (<-chan error, error) {
	if owner == "" {
		owner = lock.OwnerID("task-" + uuid.NewString())
	}

	result := make(chan error, 1)

	locked := func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", workpool.ErrTaskPanicked, r)
			}

			result <- err
		}()

		return c.runLocked(ctx, owner, requests, task)
	}

	if err := c.Execute(ctx, locked); err != nil {
		return nil, err
	}

	return result, nil
}

// runLocked acquires requests for owner, runs task and releases everything.
func (c *Coordinator) runLocked(
	ctx context.Context,
	owner lock.OwnerID,
	requests []LockRequest,
	task workpool.Task,
) error {
	defer c.locks.ReleaseAll(owner)

	for _, r := range requests {
		if err := c.locks.Acquire(ctx, r.Resource, owner, r.Mode); err != nil {
			return fmt.Errorf("acquire %s lock on %q: %w", r.Mode, r.Resource, err)
		}
	}

	return task(ctx)
}

// Acquire obtains a lock; see lock.Manager.Acquire.
func (c *Coordinator) Acquire(ctx context.Context, resource lock.ResourceID, owner lock.OwnerID, mode lock.Mode) error {
	return c.locks.Acquire(ctx, resource, owner, mode)
}

// Release drops one hold of resource by owner.
func (c *Coordinator) Release(resource lock.ResourceID, owner lock.OwnerID) error {
	return c.locks.Release(resource, owner)
}

// ReleaseAll drops every lock owner holds.
func (c *Coordinator) ReleaseAll(owner lock.OwnerID) int {
	return c.locks.ReleaseAll(owner)
}

// ForceRelease clears resource and fails its waiters.
func (c *Coordinator) ForceRelease(resource lock.ResourceID) int {
	interrupted := c.locks.ForceRelease(resource)

	logger.WarnKV(c.ctx, "Lock force-released", "resource", resource, "interrupted", interrupted)

	return interrupted
}

// LockTable returns the held and awaited locks.
func (c *Coordinator) LockTable() []lock.Info {
	return c.locks.Snapshot()
}

// Stats returns a snapshot of every component.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Pool:            c.pool.Stats(),
		PendingAlarms:   c.alarms.Len(),
		LockedResources: len(c.locks.Snapshot()),
		WaitingLocks:    c.locks.Waiting(),
	}
}

// Shutdown stops the components in dependency order: the alarm manager
// refuses new alarms and fires the pending ones, then the pool drains.
// When ctx ends first everything left is discarded with ShutdownNow.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	logger.InfoKV(c.ctx, "Coordinator shutting down", "pending_alarms", c.alarms.Len())

	c.alarms.Shutdown()

	err := c.alarms.AwaitTermination(ctx)
	if err == nil {
		c.pool.Shutdown()
		err = c.pool.AwaitTermination(ctx)
	}

	if err != nil {
		report := c.ShutdownNow()
		logger.WarnKV(c.ctx, "Graceful shutdown timed out",
			"dropped_alarms", report.Alarms,
			"dropped_tasks", report.Tasks,
		)

		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info(c.ctx, "Coordinator stopped")

	return nil
}

// ShutdownNow discards pending alarms and buffered tasks and cancels running tasks.
func (c *Coordinator) ShutdownNow() ShutdownReport {
	return ShutdownReport{
		Alarms: c.alarms.ShutdownNow(),
		Tasks:  c.pool.ShutdownNow(),
	}
}
