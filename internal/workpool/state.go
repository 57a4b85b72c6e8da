package workpool

// State is a pool lifecycle state.
type State int32

const (
	// StateUninitialised is the state before Initialise.
	StateUninitialised State = iota
	// StateRunning accepts work.
	StateRunning
	// StateShuttingDown refuses new work while workers finish.
	StateShuttingDown
	// StateTerminated means every worker has exited.
	StateTerminated
)

// String returns the upper-case state name.
func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "UNINITIALISED"
	case StateRunning:
		return "RUNNING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Mode selects what a submission does when the request buffer is full.
type Mode int

const (
	// WaitWhenQueueIsFull blocks until buffer space frees or the context ends.
	WaitWhenQueueIsFull Mode = iota
	// ErrorWhenQueueIsFull fails at once with a *PoolFullError.
	ErrorWhenQueueIsFull
	// ExpandWhenQueueIsFullWaitAtLimit starts an extra worker up to the maximum size, then waits.
	ExpandWhenQueueIsFullWaitAtLimit
	// ExpandWhenQueueIsFullErrorAtLimit starts an extra worker up to the maximum size, then fails.
	ExpandWhenQueueIsFullErrorAtLimit
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case WaitWhenQueueIsFull:
		return "WAIT_WHEN_QUEUE_IS_FULL"
	case ErrorWhenQueueIsFull:
		return "ERROR_WHEN_QUEUE_IS_FULL"
	case ExpandWhenQueueIsFullWaitAtLimit:
		return "EXPAND_WHEN_QUEUE_IS_FULL_WAIT_AT_LIMIT"
	case ExpandWhenQueueIsFullErrorAtLimit:
		return "EXPAND_WHEN_QUEUE_IS_FULL_ERROR_AT_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// failsFast reports whether the mode refuses rather than waits at the limit.
func (m Mode) failsFast() bool {
	return m == ErrorWhenQueueIsFull || m == ExpandWhenQueueIsFullErrorAtLimit
}

// expands reports whether the mode may start workers past the normal limit.
func (m Mode) expands() bool {
	return m == ExpandWhenQueueIsFullWaitAtLimit || m == ExpandWhenQueueIsFullErrorAtLimit
}
