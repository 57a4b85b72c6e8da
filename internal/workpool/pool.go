package workpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/alarmd/internal/logger"
)

// DefaultKeepAlive is how long an idle worker above the minimum size lives by default.
const DefaultKeepAlive = 60 * time.Second

// Task is a unit of work. The context is canceled by ShutdownNow.
type Task func(ctx context.Context) error

// Stats is a point-in-time view of a pool.
type Stats struct {
	// Name is the pool name.
	Name string
	// State is the lifecycle state.
	State State
	// MinSize is the configured minimum size.
	MinSize int
	// MaxSize is the configured maximum size.
	MaxSize int
	// Workers is the number of live worker goroutines.
	Workers int
	// Active is the number of workers running a task.
	Active int
	// Queued is the number of buffered tasks.
	Queued int
}

// Pool is a bounded worker pool. The zero value is not usable; call New.
type Pool struct {
	// name identifies the pool in logs, errors and metrics.
	name string
	// minSize workers are kept alive while idle.
	minSize int
	// maxSize bounds the number of workers.
	maxSize int
	// growAsNeeded lets the pool start workers past minSize under load.
	growAsNeeded bool
	// keepAlive is the idle time after which a worker above minSize exits; zero disables reclamation.
	keepAlive time.Duration
	// bufferSize bounds the request buffer; zero means unbounded for waiting submissions.
	bufferSize int

	// state is the lifecycle state.
	state State
	// workers is the number of live workers.
	workers int
	// active is the number of workers running a task.
	active int
	// idle holds parked workers, most recently parked last.
	idle []*worker
	// queue is the FIFO request buffer.
	queue []Task
	// space is closed and replaced whenever buffer space frees or the state changes.
	space chan struct{}
	// terminated is closed once the pool reaches StateTerminated.
	terminated chan struct{}

	// ctx is passed to tasks and carries the pool logger.
	ctx context.Context
	// cancel cancels ctx on ShutdownNow.
	cancel context.CancelFunc
	// observer receives pool events.
	observer Observer

	// mu guards every field above.
	mu sync.Mutex
}

// worker is the parking slot of one worker goroutine.
type worker struct {
	// handoff receives the next task, or nil to exit. Capacity one so senders never block.
	handoff chan Task
}

// Option configures a Pool.
type Option func(*Pool)

// WithObserver installs an event observer.
func WithObserver(o Observer) Option {
	return func(p *Pool) {
		if o != nil {
			p.observer = o
		}
	}
}

// New returns an uninitialised pool. ctx is the parent of the context handed
// to tasks and supplies the logger.
func New(ctx context.Context, opts ...Option) *Pool {
	p := &Pool{
		keepAlive:  DefaultKeepAlive,
		space:      make(chan struct{}),
		terminated: make(chan struct{}),
		observer:   nopObserver{},
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Initialise names the pool, sets its bounds and starts accepting work.
// It must be called exactly once; 0 <= minSize <= maxSize and maxSize >= 1.
func (p *Pool) Initialise(name string, minSize, maxSize int) error {
	if minSize < 0 || maxSize < 1 || minSize > maxSize {
		return fmt.Errorf("%w: min %d, max %d", ErrInvalidBounds, minSize, maxSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateUninitialised {
		return fmt.Errorf("%w: %q", ErrAlreadyInitialised, p.name)
	}

	p.name = name
	p.minSize = minSize
	p.maxSize = maxSize
	p.state = StateRunning
	p.ctx = logger.WithKV(logger.WithName(p.ctx, "workpool"), "pool", name)

	logger.InfoKV(p.ctx, "Worker pool initialised", "min_size", minSize, "max_size", maxSize)

	return nil
}

// SetGrowAsNeeded lets the pool start workers beyond the minimum size, up to
// the maximum, when no worker is idle. When false the pool runs at most
// max(minSize, 1) workers except through the expand modes.
func (p *Pool) SetGrowAsNeeded(grow bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.growAsNeeded = grow
}

// SetKeepAliveTime sets how long an idle worker above the minimum size
// survives. A non-positive value keeps such workers forever.
func (p *Pool) SetKeepAliveTime(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.keepAlive = max(d, 0)
}

// SetRequestBufferSize bounds the request buffer. Zero leaves it unbounded
// for waiting submissions; fail-fast submissions then only succeed when a
// worker can take the task at once.
func (p *Pool) SetRequestBufferSize(size int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bufferSize = max(size, 0)
	p.signalSpaceLocked()
}

// Execute submits task with WaitWhenQueueIsFull.
func (p *Pool) Execute(ctx context.Context, task Task) error {
	return p.ExecuteMode(ctx, task, WaitWhenQueueIsFull)
}

// ExecuteMode submits task, handling a full request buffer as mode says.
// Waiting modes block until space frees or ctx ends. Fail-fast modes return
// a *PoolFullError and leave the task unqueued.
func (p *Pool) ExecuteMode(ctx context.Context, task Task, mode Mode) error {
	if task == nil {
		return nil
	}

	p.mu.Lock()

	for {
		if p.state != StateRunning {
			state := p.state
			p.mu.Unlock()

			return fmt.Errorf("%w: %s", ErrIllegalState, state)
		}

		if p.dispatchLocked(task, mode) {
			p.mu.Unlock()

			return nil
		}

		if mode.failsFast() {
			p.observer.TaskRejected(p.name)
			p.mu.Unlock()

			return &PoolFullError{Pool: p.name}
		}

		space := p.space
		p.mu.Unlock()

		select {
		case <-space:
		case <-ctx.Done():
			return fmt.Errorf("submit to %q: %w", p.name, ctx.Err())
		}

		p.mu.Lock()
	}
}

// dispatchLocked hands task to an idle worker, a new worker or the buffer.
// It reports false when the buffer is full and no worker may be added.
func (p *Pool) dispatchLocked(task Task, mode Mode) bool {
	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.active++
		w.handoff <- task

		return true
	}

	if p.workers < p.limitLocked() {
		p.spawnLocked(task)

		return true
	}

	if p.hasSpaceLocked(mode) {
		p.queue = append(p.queue, task)
		p.observer.SetQueueDepth(p.name, len(p.queue))

		return true
	}

	if mode.expands() && p.workers < p.maxSize {
		p.spawnLocked(task)

		return true
	}

	return false
}

// limitLocked is the worker count the pool grows to without expanding.
func (p *Pool) limitLocked() int {
	if p.growAsNeeded {
		return p.maxSize
	}

	return max(p.minSize, 1)
}

// hasSpaceLocked reports whether the buffer accepts another task under mode.
func (p *Pool) hasSpaceLocked(mode Mode) bool {
	if p.bufferSize == 0 {
		return !mode.failsFast()
	}

	return len(p.queue) < p.bufferSize
}

// spawnLocked starts a worker whose first task is first.
func (p *Pool) spawnLocked(first Task) {
	w := &worker{handoff: make(chan Task, 1)}

	p.workers++
	p.active++
	p.observer.WorkerStarted(p.name)

	go p.work(w, first)
}

// signalSpaceLocked wakes every submitter waiting for buffer space.
func (p *Pool) signalSpaceLocked() {
	close(p.space)
	p.space = make(chan struct{})
}

// Shutdown stops accepting work. Buffered and running tasks complete and
// the pool terminates once every worker has exited. It does not wait.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shutdownLocked()
}

// ShutdownNow stops accepting work, drops buffered tasks and cancels the
// context of running tasks. It returns the number of dropped tasks.
func (p *Pool) ShutdownNow() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	dropped := len(p.queue)
	clear(p.queue)
	p.queue = nil
	p.observer.SetQueueDepth(p.name, 0)

	p.shutdownLocked()
	p.cancel()

	if dropped > 0 {
		logger.WarnKV(p.ctx, "Dropped buffered tasks", "dropped", dropped)
	}

	return dropped
}

// shutdownLocked moves the pool out of the running state and releases idle workers.
func (p *Pool) shutdownLocked() {
	switch p.state {
	case StateShuttingDown, StateTerminated:
		return
	case StateUninitialised:
		p.terminateLocked()

		return
	case StateRunning:
	}

	p.state = StateShuttingDown
	p.signalSpaceLocked()

	for _, w := range p.idle {
		w.handoff <- nil
	}

	p.idle = nil

	logger.InfoKV(p.ctx, "Worker pool shutting down", "workers", p.workers, "queued", len(p.queue))

	if p.workers == 0 {
		p.terminateLocked()
	}
}

// terminateLocked marks the pool terminated.
func (p *Pool) terminateLocked() {
	p.state = StateTerminated
	close(p.terminated)
	p.cancel()

	logger.Info(p.ctx, "Worker pool terminated")
}

// AwaitTermination blocks until the pool terminates or ctx ends.
func (p *Pool) AwaitTermination(ctx context.Context) error {
	select {
	case <-p.terminated:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await termination of %q: %w", p.Name(), ctx.Err())
	}
}

// Done is closed once the pool has terminated.
func (p *Pool) Done() <-chan struct{} {
	return p.terminated
}

// Name returns the pool name.
func (p *Pool) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.name
}

// State returns the lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Busy reports whether any task is running or buffered.
func (p *Pool) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.active > 0 || len(p.queue) > 0
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Name:    p.name,
		State:   p.state,
		MinSize: p.minSize,
		MaxSize: p.maxSize,
		Workers: p.workers,
		Active:  p.active,
		Queued:  len(p.queue),
	}
}
