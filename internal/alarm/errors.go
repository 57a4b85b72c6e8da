package alarm

import "errors"

var (
	// ErrShutdown is returned when scheduling on a manager that is shutting down or stopped.
	ErrShutdown = errors.New("alarm manager is shut down")
	// ErrNegativeDelay is returned for a negative delay.
	ErrNegativeDelay = errors.New("alarm delay must not be negative")
	// ErrNilListener is returned when no listener is given.
	ErrNilListener = errors.New("alarm listener must be provided")
	// ErrNilOperation is returned when starting a Retrier without an operation.
	ErrNilOperation = errors.New("retry operation must be provided")
	// ErrRetryLimit is reported by a Retrier that gave up.
	ErrRetryLimit = errors.New("retry limit reached")
	// ErrRetryStopped is reported by a Retrier stopped before success.
	ErrRetryStopped = errors.New("retry stopped")
)
