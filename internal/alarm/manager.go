package alarm

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/alarmd/internal/logger"
	"github.com/oshokin/alarmd/internal/workpool"
)

const (
	// DefaultMaxDeferral bounds how late an idle system may fire a deferrable alarm.
	DefaultMaxDeferral = time.Second
	// DefaultRedispatchInterval is the pause before retrying alarms the executor refused.
	DefaultRedispatchInterval = 10 * time.Millisecond
)

// Executor runs fired alarms. *workpool.Pool implements it.
type Executor interface {
	ExecuteMode(ctx context.Context, task workpool.Task, mode workpool.Mode) error
}

// IdleProbe reports whether there is outstanding work. *workpool.Pool implements it.
type IdleProbe interface {
	Busy() bool
}

// runState is the manager lifecycle.
type runState uint8

const (
	// stateRunning accepts new alarms.
	stateRunning runState = iota
	// stateDraining refuses new alarms and fires the pending ones on time.
	stateDraining
	// stateStopped has discarded everything.
	stateStopped
)

// Manager schedules alarms and dispatches them to an Executor.
type Manager struct {
	// executor runs fired alarms.
	executor Executor
	// idle tells whether deferrable alarms may be held back.
	idle IdleProbe
	// observer receives scheduler events.
	observer Observer
	// maxDeferral bounds the deferral of deferrable alarms.
	maxDeferral time.Duration
	// redispatch is the pause before retrying refused alarms.
	redispatch time.Duration
	// ctx carries the scheduler logger and is passed to the executor.
	ctx context.Context

	// timed holds pending ordinary alarms.
	timed alarmHeap
	// deferred holds pending deferrable alarms.
	deferred alarmHeap
	// overflow holds due alarms the executor refused, in fire order.
	overflow []*Alarm
	// byID indexes pending and firing alarms.
	byID map[string]*Alarm
	// seq is the last scheduling sequence number.
	seq uint64
	// state is the lifecycle state.
	state runState
	// woken is set when new work arrived since the last collection.
	woken bool

	// mu guards the fields from timed to woken.
	mu sync.Mutex

	// wake interrupts the scheduling goroutine's sleep.
	wake chan struct{}
	// done is closed when the scheduling goroutine exits.
	done chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxDeferral sets the deferral bound. Zero disables deferral.
func WithMaxDeferral(d time.Duration) Option {
	return func(m *Manager) {
		m.maxDeferral = max(d, 0)
	}
}

// WithRedispatchInterval sets the pause before retrying refused alarms.
func WithRedispatchInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.redispatch = d
		}
	}
}

// WithIdleProbe sets the source of truth for outstanding work.
func WithIdleProbe(p IdleProbe) Option {
	return func(m *Manager) {
		m.idle = p
	}
}

// WithObserver installs an event observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// NewManager starts a scheduler dispatching to executor.
// Call Shutdown or ShutdownNow to stop its goroutine.
func NewManager(ctx context.Context, executor Executor, opts ...Option) *Manager {
	m := &Manager{
		executor:    executor,
		observer:    nopObserver{},
		maxDeferral: DefaultMaxDeferral,
		redispatch:  DefaultRedispatchInterval,
		ctx:         logger.WithName(ctx, "alarm-manager"),
		byID:        make(map[string]*Alarm),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	go m.loop()

	return m
}

// ScheduleAlarm arranges for listener to be called with payload once, no
// earlier than delay from now.
func (m *Manager) ScheduleAlarm(delay time.Duration, listener Listener, payload any) (*Alarm, error) {
	return m.schedule(delay, listener, payload, false)
}

// ScheduleDeferrableAlarm is ScheduleAlarm for an alarm that may fire late
// while the system is idle: it fires once other work wakes the scheduler, or
// at the latest at its fire time plus the maximum deferral.
func (m *Manager) ScheduleDeferrableAlarm(delay time.Duration, listener Listener, payload any) (*Alarm, error) {
	return m.schedule(delay, listener, payload, true)
}

// schedule creates and queues an alarm.
func (m *Manager) schedule(delay time.Duration, listener Listener, payload any, deferrable bool) (*Alarm, error) {
	if delay < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeDelay, delay)
	}

	if listener == nil {
		return nil, ErrNilListener
	}

	m.mu.Lock()

	if m.state != stateRunning {
		m.mu.Unlock()

		return nil, ErrShutdown
	}

	m.seq++

	a := &Alarm{
		id:         uuid.NewString(),
		fireAt:     time.Now().Add(delay),
		deferrable: deferrable,
		listener:   listener,
		payload:    payload,
		seq:        m.seq,
		index:      -1,
		manager:    m,
	}

	if deferrable {
		m.deferred.push(a)
	} else {
		m.timed.push(a)
	}

	m.byID[a.id] = a
	m.woken = true
	m.observer.AlarmScheduled(deferrable)
	m.observer.SetPending(m.pendingLocked())
	m.mu.Unlock()

	m.signal()

	logger.DebugKV(m.ctx, "Alarm scheduled", "id", a.id, "delay", delay, "deferrable", deferrable)

	return a, nil
}

// Cancel removes a pending alarm so it never fires. It returns false when
// the alarm already fired, is firing, was cancelled, or belongs to another
// manager. Cancel is idempotent.
func (m *Manager) Cancel(a *Alarm) bool {
	if a == nil || a.manager != m {
		return false
	}

	m.mu.Lock()

	if a.status != statusPending {
		m.mu.Unlock()

		return false
	}

	switch {
	case a.index >= 0 && a.deferrable:
		m.deferred.remove(a)
	case a.index >= 0:
		m.timed.remove(a)
	default:
		if i := slices.Index(m.overflow, a); i >= 0 {
			m.overflow = slices.Delete(m.overflow, i, i+1)
		}
	}

	a.status = statusCancelled
	delete(m.byID, a.id)
	m.observer.AlarmCancelled()
	m.observer.SetPending(m.pendingLocked())
	m.mu.Unlock()

	// Re-plan: a draining manager may now be empty.
	m.signal()

	return true
}

// CancelByID cancels the pending alarm with the given identity.
func (m *Manager) CancelByID(id string) bool {
	m.mu.Lock()
	a, ok := m.byID[id]
	m.mu.Unlock()

	if !ok {
		return false
	}

	return m.Cancel(a)
}

// Nudge tells the scheduler that new work arrived, so due deferrable
// alarms fire now instead of waiting out their deferral.
func (m *Manager) Nudge() {
	m.mu.Lock()
	m.woken = true
	m.mu.Unlock()

	m.signal()
}

// Shutdown refuses new alarms and lets every pending alarm fire at its fire
// time, deferrable ones without deferral. The scheduler stops once nothing
// is pending. It does not wait.
func (m *Manager) Shutdown() {
	m.mu.Lock()

	if m.state == stateRunning {
		m.state = stateDraining
		logger.InfoKV(m.ctx, "Alarm manager draining", "pending", m.pendingLocked())
	}

	m.mu.Unlock()

	m.signal()
}

// ShutdownNow discards every pending alarm without firing it and stops the
// scheduler. It returns the number of discarded alarms.
func (m *Manager) ShutdownNow() int {
	m.mu.Lock()

	if m.state == stateStopped {
		m.mu.Unlock()

		return 0
	}

	discarded := 0

	for _, pending := range [][]*Alarm{m.timed, m.deferred, m.overflow} {
		for _, a := range pending {
			a.status = statusCancelled
			a.index = -1
			discarded++
		}
	}

	m.timed, m.deferred, m.overflow = nil, nil, nil
	clear(m.byID)
	m.state = stateStopped
	m.observer.SetPending(0)
	m.mu.Unlock()

	m.signal()

	logger.InfoKV(m.ctx, "Alarm manager stopped", "discarded", discarded)

	return discarded
}

// Done is closed when the scheduling goroutine has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// AwaitTermination blocks until the scheduling goroutine exits or ctx ends.
func (m *Manager) AwaitTermination(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await alarm manager termination: %w", ctx.Err())
	}
}

// Pending lists pending alarms by fire time.
func (m *Manager) Pending() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*Alarm, 0, m.pendingLocked())
	all = append(all, m.timed...)
	all = append(all, m.deferred...)
	all = append(all, m.overflow...)

	slices.SortFunc(all, compareAlarms)

	result := make([]Info, 0, len(all))
	for _, a := range all {
		result = append(result, Info{ID: a.id, FireAt: a.fireAt, Deferrable: a.deferrable})
	}

	return result
}

// Len returns the number of pending alarms.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pendingLocked()
}

// MaxDeferral returns the deferral bound.
func (m *Manager) MaxDeferral() time.Duration {
	return m.maxDeferral
}

// pendingLocked counts pending alarms.
func (m *Manager) pendingLocked() int {
	return len(m.timed) + len(m.deferred) + len(m.overflow)
}

// signal wakes the scheduling goroutine without blocking.
func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// compareAlarms orders by fire time, then scheduling sequence.
func compareAlarms(a, b *Alarm) int {
	if c := a.fireAt.Compare(b.fireAt); c != 0 {
		return c
	}

	return cmp.Compare(a.seq, b.seq)
}
