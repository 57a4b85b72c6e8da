package workpool

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/oshokin/alarmd/internal/logger"
)

// work is the worker goroutine body.
func (p *Pool) work(w *worker, task Task) {
	for task != nil {
		p.run(task)
		task = p.next(w)
	}
}

// run executes one task, recovering panics so a failing task never kills its worker.
func (p *Pool) run(task Task) {
	started := time.Now()

	err := safeRun(p.ctx, task)
	if err != nil {
		logger.ErrorKV(p.ctx, "Task failed", "error", err)
	}

	p.observer.TaskCompleted(p.name, err, time.Since(started))
}

// safeRun calls task and converts a panic into ErrTaskPanicked.
func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()

	return task(ctx)
}

// next returns the worker's next task, parking it while the buffer is empty.
// It returns nil when the worker must exit.
func (p *Pool) next(w *worker) Task {
	p.mu.Lock()
	p.active--

	for {
		if len(p.queue) > 0 {
			task := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.active++
			p.observer.SetQueueDepth(p.name, len(p.queue))
			p.signalSpaceLocked()
			p.mu.Unlock()

			return task
		}

		if p.state != StateRunning {
			p.retireLocked()
			p.mu.Unlock()

			return nil
		}

		p.idle = append(p.idle, w)

		// The worker count cannot grow while this worker is parked,
		// so a worker at or below the minimum needs no timer.
		var (
			timer  *time.Timer
			expire <-chan time.Time
		)

		if p.keepAlive > 0 && p.workers > p.minSize {
			timer = time.NewTimer(p.keepAlive)
			expire = timer.C
		}

		p.mu.Unlock()

		select {
		case task := <-w.handoff:
			if timer != nil {
				timer.Stop()
			}

			return p.handoffOrRetire(task)
		case <-expire:
		}

		p.mu.Lock()

		i := slices.Index(p.idle, w)
		if i < 0 {
			// Claimed by a submitter or by shutdown as the timer fired.
			p.mu.Unlock()

			return p.handoffOrRetire(<-w.handoff)
		}

		p.idle = slices.Delete(p.idle, i, i+1)

		if p.workers > p.minSize {
			logger.DebugKV(p.ctx, "Idle worker reclaimed", "keep_alive", p.keepAlive)
			p.retireLocked()
			p.mu.Unlock()

			return nil
		}
	}
}

// handoffOrRetire returns a handed-off task, retiring the worker on nil.
func (p *Pool) handoffOrRetire(task Task) Task {
	if task != nil {
		return task
	}

	p.mu.Lock()
	p.retireLocked()
	p.mu.Unlock()

	return nil
}

// retireLocked accounts for an exiting worker and terminates the pool after the last one.
func (p *Pool) retireLocked() {
	p.workers--
	p.observer.WorkerStopped(p.name)

	if p.workers == 0 && p.state == StateShuttingDown {
		p.terminateLocked()
	}
}
