package alarm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"
)

var errNotYet = errors.New("not yet")

// TestRetrier_SucceedsAfterFailures retries until the operation succeeds.
func TestRetrier_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 2, WithMaxDeferral(0))
		defer h.stop(t)

		var calls atomic.Int32

		start := time.Now()

		r := h.manager.NewRetrier(100*time.Millisecond, 10, func(context.Context) error {
			if calls.Add(1) < 4 {
				return errNotYet
			}

			return nil
		})
		require.NoError(t, r.Start())

		<-r.Done()
		require.NoError(t, r.Err())
		require.Equal(t, 4, r.Attempts())
		require.Equal(t, start.Add(400*time.Millisecond), time.Now())
		require.False(t, r.Stop())
	})
}

// TestRetrier_GivesUpAtLimit reports ErrRetryLimit with the last failure.
func TestRetrier_GivesUpAtLimit(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 2, WithMaxDeferral(0))
		defer h.stop(t)

		r := h.manager.NewRetrier(10*time.Millisecond, 3, func(context.Context) error {
			return errNotYet
		})
		require.NoError(t, r.Start())

		<-r.Done()
		require.ErrorIs(t, r.Err(), ErrRetryLimit)
		require.ErrorIs(t, r.Err(), errNotYet)
		require.Equal(t, 3, r.Attempts())
		require.Zero(t, h.manager.Len())
	})
}

// TestRetrier_DoublesIntervalEveryTenAttempts checks the backoff schedule.
func TestRetrier_DoublesIntervalEveryTenAttempts(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 2, WithMaxDeferral(0))
		defer h.stop(t)

		start := time.Now()

		r := h.manager.NewRetrier(10*time.Millisecond, 21, func(context.Context) error {
			return errNotYet
		})
		require.NoError(t, r.Start())

		<-r.Done()
		require.Equal(t, 21, r.Attempts())
		require.Equal(t, 40*time.Millisecond, r.Interval())

		// Ten attempts at 10ms, ten at 20ms, one at 40ms.
		require.Equal(t, start.Add(340*time.Millisecond), time.Now())
	})
}

// TestRetrier_Stop cancels the pending attempt.
func TestRetrier_Stop(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 2)
		defer h.stop(t)

		var calls atomic.Int32

		r := h.manager.NewRetrier(time.Second, 0, func(context.Context) error {
			calls.Add(1)

			return nil
		})
		require.NoError(t, r.Start())
		require.Equal(t, 1, h.manager.Len())

		require.True(t, r.Stop())
		require.False(t, r.Stop())
		require.ErrorIs(t, r.Err(), ErrRetryStopped)
		require.Zero(t, h.manager.Len())

		time.Sleep(5 * time.Second)
		synctest.Wait()
		require.Zero(t, calls.Load())
	})
}

// TestRetrier_StartAfterShutdown surfaces the scheduling failure.
func TestRetrier_StartAfterShutdown(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1)
		defer h.stop(t)

		h.manager.Shutdown()

		r := h.manager.NewRetrier(time.Second, 1, func(context.Context) error { return nil })
		require.ErrorIs(t, r.Start(), ErrShutdown)
	})
}

// TestRetrier_StartWithoutOperation refuses to schedule attempts that could never succeed.
func TestRetrier_StartWithoutOperation(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1)
		defer h.stop(t)

		r := h.manager.NewRetrier(time.Second, 1, nil)
		require.ErrorIs(t, r.Start(), ErrNilOperation)
		require.Zero(t, h.manager.Len())

		select {
		case <-r.Done():
			t.Fatal("retrier finished without starting")
		default:
		}
	})
}
