package alarm

import (
	"context"
	"time"
)

// Listener is called once when an alarm fires, on a worker goroutine.
type Listener interface {
	Alarm(ctx context.Context, payload any) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, payload any) error

// Alarm calls f.
func (f ListenerFunc) Alarm(ctx context.Context, payload any) error {
	return f(ctx, payload)
}

// status is an alarm's position in its lifecycle.
type status uint8

const (
	// statusPending alarms sit in a heap or in the overflow list.
	statusPending status = iota
	// statusFiring alarms were popped and are being handed to the executor.
	statusFiring
	// statusFired alarms were accepted by the executor.
	statusFired
	// statusCancelled alarms were cancelled or discarded.
	statusCancelled
)

// Alarm is the handle of a scheduled alarm.
type Alarm struct {
	// id is a UUID unique to this alarm.
	id string
	// fireAt is the earliest time the listener may run.
	fireAt time.Time
	// deferrable lets the scheduler delay the alarm while idle.
	deferrable bool
	// listener is called on fire.
	listener Listener
	// payload is passed to the listener.
	payload any
	// seq orders alarms with equal fire times.
	seq uint64

	// index is the heap position, -1 outside a heap. Guarded by the manager mutex.
	index int
	// status is guarded by the manager mutex.
	status status
	// manager owns the alarm.
	manager *Manager
}

// ID returns the alarm identity.
func (a *Alarm) ID() string { return a.id }

// FireAt returns the requested fire time.
func (a *Alarm) FireAt() time.Time { return a.fireAt }

// Deferrable reports whether the alarm may be deferred while idle.
func (a *Alarm) Deferrable() bool { return a.deferrable }

// Payload returns the context object given at scheduling time.
func (a *Alarm) Payload() any { return a.payload }

// Cancel removes the alarm if it is still pending. See Manager.Cancel.
func (a *Alarm) Cancel() bool {
	return a.manager.Cancel(a)
}

// Info describes a pending alarm.
type Info struct {
	// ID is the alarm identity.
	ID string
	// FireAt is the requested fire time.
	FireAt time.Time
	// Deferrable reports whether the alarm may be deferred.
	Deferrable bool
}
