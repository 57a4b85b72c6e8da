package lock

import "time"

// Acquire outcomes reported to an Observer.
const (
	OutcomeGranted  = "granted"
	OutcomeDeadlock = "deadlock"
	OutcomeCanceled = "canceled"
	OutcomeReleased = "released"
	OutcomeFailed   = "failed"
)

// Observer receives lock manager events, usually to export metrics.
// Calls are made with the manager's mutex held and must not call back into it.
type Observer interface {
	// ObserveAcquire reports the outcome of an Acquire and how long it waited.
	ObserveAcquire(mode Mode, outcome string, waited time.Duration)
	// SetWaiting reports the number of queued requests.
	SetWaiting(n int)
	// ObserveForceRelease reports a forced release and how many waiters it failed.
	ObserveForceRelease(interrupted int)
}

type nopObserver struct{}

func (nopObserver) ObserveAcquire(Mode, string, time.Duration) {}
func (nopObserver) SetWaiting(int)                             {}
func (nopObserver) ObserveForceRelease(int)                    {}
