package alarm

import "time"

// Observer receives scheduler events, usually to export metrics.
// Methods may be called with the manager mutex held and must not call back into it.
type Observer interface {
	// AlarmScheduled reports a newly scheduled alarm.
	AlarmScheduled(deferrable bool)
	// AlarmFired reports an alarm whose listener is about to run and how late it is.
	AlarmFired(deferrable bool, lateness time.Duration)
	// AlarmCancelled reports a successful cancellation.
	AlarmCancelled()
	// AlarmRejected reports a due alarm the executor refused; it will be retried.
	AlarmRejected()
	// SetPending reports the number of pending alarms.
	SetPending(n int)
}

type nopObserver struct{}

func (nopObserver) AlarmScheduled(bool)            {}
func (nopObserver) AlarmFired(bool, time.Duration) {}
func (nopObserver) AlarmCancelled()                {}
func (nopObserver) AlarmRejected()                 {}
func (nopObserver) SetPending(int)                 {}
