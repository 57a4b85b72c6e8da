// Package coordinator ties the alarm scheduler, the worker pool and the lock
// manager together.
//
// Fired alarms run on the pool, work submitted through the coordinator wakes
// the scheduler so due deferrable alarms piggyback on it, and ExecuteLocked
// runs a task on a worker while it holds a set of locks. Shutdown stops the
// scheduler before the pool so pending alarms still have workers to run on.
package coordinator
