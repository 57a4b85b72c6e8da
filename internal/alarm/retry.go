package alarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/alarmd/internal/logger"
)

const (
	// DefaultRetryLimit is the number of attempts a Retrier makes before giving up.
	DefaultRetryLimit = 100
	// retryBackoffEvery is the number of attempts between interval doublings.
	retryBackoffEvery = 10
)

// Retrier re-runs an operation on deferrable alarms until it succeeds, the
// attempt limit is reached, or Stop is called. The interval doubles every
// ten attempts.
type Retrier struct {
	// manager schedules the retry alarms.
	manager *Manager
	// op is the operation; returning nil means done.
	op func(ctx context.Context) error
	// limit is the maximum number of attempts.
	limit int

	// interval is the current delay between attempts.
	interval time.Duration
	// attempts made so far.
	attempts int
	// pending is the scheduled alarm, nil between attempts.
	pending *Alarm
	// err is the final outcome once done is closed.
	err error
	// finished is set once done is closed.
	finished bool

	// mu guards the fields from interval to finished.
	mu sync.Mutex

	// done is closed when the retrier finishes.
	done chan struct{}
}

// NewRetrier prepares a retrier; call Start to schedule the first attempt.
// A non-positive limit means DefaultRetryLimit.
func (m *Manager) NewRetrier(interval time.Duration, limit int, op func(ctx context.Context) error) *Retrier {
	if limit <= 0 {
		limit = DefaultRetryLimit
	}

	return &Retrier{
		manager:  m,
		op:       op,
		limit:    limit,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start schedules the first attempt after one interval.
// It fails with ErrNilOperation when the retrier has no operation.
func (r *Retrier) Start() error {
	if r.op == nil {
		return ErrNilOperation
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.scheduleLocked()
}

// Alarm runs one attempt. It implements Listener.
func (r *Retrier) Alarm(ctx context.Context, _ any) error {
	r.mu.Lock()

	if r.finished {
		r.mu.Unlock()

		return nil
	}

	r.pending = nil
	r.attempts++
	attempt := r.attempts
	r.mu.Unlock()

	err := r.op(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return nil
	}

	if err == nil {
		r.finishLocked(nil)

		return nil
	}

	logger.DebugKV(ctx, "Retry attempt failed", "attempt", attempt, "error", err)

	if attempt >= r.limit {
		r.finishLocked(fmt.Errorf("%w after %d attempts: %w", ErrRetryLimit, attempt, err))

		return nil
	}

	if attempt%retryBackoffEvery == 0 {
		r.interval *= 2
	}

	if err := r.scheduleLocked(); err != nil {
		r.finishLocked(err)
	}

	return nil
}

// Stop cancels the pending attempt. It reports whether the retrier was still running.
func (r *Retrier) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return false
	}

	if r.pending != nil {
		r.pending.Cancel()
		r.pending = nil
	}

	r.finishLocked(ErrRetryStopped)

	return true
}

// Done is closed when the retrier has finished.
func (r *Retrier) Done() <-chan struct{} {
	return r.done
}

// Err returns nil after success, or why the retrier finished. It is only
// meaningful once Done is closed.
func (r *Retrier) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

// Attempts returns the number of attempts made.
func (r *Retrier) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.attempts
}

// Interval returns the current delay between attempts.
func (r *Retrier) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.interval
}

// scheduleLocked books the next attempt as a deferrable alarm.
func (r *Retrier) scheduleLocked() error {
	a, err := r.manager.ScheduleDeferrableAlarm(r.interval, r, nil)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}

	r.pending = a

	return nil
}

// finishLocked records the outcome and closes done.
func (r *Retrier) finishLocked(err error) {
	r.err = err
	r.finished = true
	close(r.done)
}
