// Package alarm schedules one-shot callbacks ("alarms") and hands them to a
// worker pool when they fall due.
//
// A Manager keeps pending alarms in two min-heaps ordered by fire time and
// insertion sequence: one for ordinary alarms and one for deferrable alarms.
// A single goroutine sleeps until the earliest relevant deadline, pops what is
// due and submits each alarm to the executor in fire-time order. Listener code
// never runs on that goroutine.
//
// Deferrable alarms may fire late while the system is idle, meaning no
// ordinary alarm is pending and the idle probe reports no work. They fire as
// soon as anything else wakes the scheduler, and never later than their fire
// time plus the maximum deferral.
package alarm
