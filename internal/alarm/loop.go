package alarm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oshokin/alarmd/internal/logger"
	"github.com/oshokin/alarmd/internal/workpool"
)

// loop is the scheduling goroutine.
func (m *Manager) loop() {
	defer close(m.done)

	var timer *time.Timer

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		m.dispatch(m.collect())

		wait, ok, stop := m.plan()
		if stop {
			return
		}

		var expired <-chan time.Time

		if ok {
			if wait <= 0 {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}

			expired = timer.C
		}

		select {
		case <-m.wake:
		case <-expired:
		}
	}
}

// collect pops every alarm that is due now, in fire order, with refused
// alarms from the previous round first.
func (m *Manager) collect() []*Alarm {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == stateStopped {
		return nil
	}

	now := time.Now()
	piggyback := m.woken
	m.woken = false

	due := m.overflow
	m.overflow = nil
	retried := len(due)

	for a := m.timed.peek(); a != nil && !a.fireAt.After(now); a = m.timed.peek() {
		due = append(due, m.timed.pop())
	}

	if len(due) > 0 {
		piggyback = true
	}

	deferring := !piggyback && m.deferringLocked()

	for a := m.deferred.peek(); a != nil; a = m.deferred.peek() {
		deadline := a.fireAt
		if deferring {
			deadline = deadline.Add(m.maxDeferral)
		}

		if deadline.After(now) {
			break
		}

		due = append(due, m.deferred.pop())
	}

	slices.SortFunc(due[retried:], compareAlarms)

	for _, a := range due {
		a.status = statusFiring
	}

	return due
}

// deferringLocked reports whether deferrable alarms may be held back now.
func (m *Manager) deferringLocked() bool {
	if m.state != stateRunning || m.maxDeferral == 0 || len(m.timed) > 0 {
		return false
	}

	return m.idle == nil || !m.idle.Busy()
}

// dispatch submits due alarms in order. When the executor is full the rest
// go to the overflow list and are retried before anything newer.
func (m *Manager) dispatch(due []*Alarm) {
	for i, a := range due {
		m.mu.Lock()
		stopped := m.state == stateStopped
		m.mu.Unlock()

		if stopped {
			m.discard(due[i:])

			return
		}

		err := m.executor.ExecuteMode(m.ctx, m.fireTask(a), workpool.ErrorWhenQueueIsFull)

		m.mu.Lock()

		switch {
		case err == nil:
			a.status = statusFired
			delete(m.byID, a.id)
		case errors.Is(err, workpool.ErrPoolFull):
			rest := due[i:]
			for _, r := range rest {
				r.status = statusPending
				m.observer.AlarmRejected()
			}

			m.overflow = append(slices.Clone(rest), m.overflow...)
			m.mu.Unlock()

			logger.DebugKV(m.ctx, "Executor full, alarms deferred to redispatch", "alarms", len(rest))

			return
		default:
			a.status = statusCancelled
			delete(m.byID, a.id)
			logger.ErrorKV(m.ctx, "Alarm dropped: executor refused it", "id", a.id, "error", err)
		}

		m.observer.SetPending(m.pendingLocked())
		m.mu.Unlock()
	}
}

// discard cancels alarms that were due when the manager stopped.
func (m *Manager) discard(alarms []*Alarm) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range alarms {
		a.status = statusCancelled
		delete(m.byID, a.id)
	}
}

// fireTask wraps an alarm's listener call as a pool task.
// Listener errors and panics are handled by the pool.
func (m *Manager) fireTask(a *Alarm) workpool.Task {
	return func(ctx context.Context) error {
		m.observer.AlarmFired(a.deferrable, time.Since(a.fireAt))

		if err := a.listener.Alarm(ctx, a.payload); err != nil {
			return fmt.Errorf("alarm %s: %w", a.id, err)
		}

		return nil
	}
}

// plan returns how long to sleep. ok is false when there is no deadline;
// stop is true when the scheduling goroutine must exit.
func (m *Manager) plan() (wait time.Duration, ok, stop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateStopped:
		return 0, false, true
	case stateDraining:
		if m.pendingLocked() == 0 {
			logger.Info(m.ctx, "Alarm manager drained")

			return 0, false, true
		}
	case stateRunning:
	}

	now := time.Now()

	var next time.Time

	earliest := func(t time.Time) {
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}

	if a := m.timed.peek(); a != nil {
		earliest(a.fireAt)
	}

	if a := m.deferred.peek(); a != nil {
		deadline := a.fireAt
		if m.deferringLocked() {
			deadline = deadline.Add(m.maxDeferral)
		}

		earliest(deadline)
	}

	if len(m.overflow) > 0 {
		earliest(now.Add(m.redispatch))
	}

	if next.IsZero() {
		return 0, false, false
	}

	return next.Sub(now), true, false
}
