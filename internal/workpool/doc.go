// Package workpool runs tasks on a bounded, growable set of worker goroutines.
//
// A Pool is initialised once with a name and min/max sizes and then accepts
// tasks until it is shut down. Workers are started on demand: up to the
// minimum size always, up to the maximum size when the pool may grow, and
// beyond the normal limit by the expand submission modes. Work that finds
// every worker busy waits in a FIFO request buffer. What happens when that
// buffer is full is chosen per submission by a Mode: wait for space, fail with
// a *PoolFullError, or start an extra worker first.
//
// Idle workers above the minimum size exit after the keep-alive time.
package workpool
