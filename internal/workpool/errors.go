package workpool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolFull is matched by submissions refused because the request buffer is full.
	ErrPoolFull = errors.New("worker pool is full")
	// ErrIllegalState is returned when the pool is used outside its running state.
	ErrIllegalState = errors.New("worker pool is not running")
	// ErrAlreadyInitialised is returned by a second Initialise call.
	ErrAlreadyInitialised = errors.New("worker pool is already initialised")
	// ErrInvalidBounds is returned when min and max sizes are inconsistent.
	ErrInvalidBounds = errors.New("invalid worker pool bounds")
	// ErrTaskPanicked wraps the value recovered from a panicking task.
	ErrTaskPanicked = errors.New("task panicked")
)

// PoolFullError reports a fail-fast submission refused by a saturated pool.
type PoolFullError struct {
	// Pool is the name of the refusing pool.
	Pool string
}

// Error implements error.
func (e *PoolFullError) Error() string {
	return fmt.Sprintf("worker pool %q is full", e.Pool)
}

// Unwrap lets errors.Is match ErrPoolFull.
func (e *PoolFullError) Unwrap() error {
	return ErrPoolFull
}
