package workpool

import "time"

// Observer receives pool events, usually to export metrics.
// Methods may be called with the pool mutex held and must not call back into the pool.
type Observer interface {
	// WorkerStarted reports a new worker goroutine.
	WorkerStarted(pool string)
	// WorkerStopped reports a worker goroutine exit.
	WorkerStopped(pool string)
	// TaskCompleted reports a finished task, with its error if it failed or panicked.
	TaskCompleted(pool string, err error, took time.Duration)
	// TaskRejected reports a refused fail-fast submission.
	TaskRejected(pool string)
	// SetQueueDepth reports the number of buffered tasks.
	SetQueueDepth(pool string, depth int)
}

type nopObserver struct{}

func (nopObserver) WorkerStarted(string)                       {}
func (nopObserver) WorkerStopped(string)                       {}
func (nopObserver) TaskCompleted(string, error, time.Duration) {}
func (nopObserver) TaskRejected(string)                        {}
func (nopObserver) SetQueueDepth(string, int)                  {}
