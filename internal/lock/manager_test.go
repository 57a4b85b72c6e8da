package lock

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var errTestEnqueue = errors.New("test enqueue error")

// acquireAsync starts Acquire in a goroutine and returns the channel receiving its result.
func acquireAsync(ctx context.Context, m *Manager, resource ResourceID, owner OwnerID, mode Mode) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- m.Acquire(ctx, resource, owner, mode)
	}()

	return done
}

// requirePending asserts the acquisition has not completed yet.
func requirePending(t *testing.T, done <-chan error) {
	t.Helper()

	select {
	case err := <-done:
		t.Fatalf("acquisition completed unexpectedly: %v", err)
	default:
	}
}

// TestAcquire_ExclusiveWaitsForRelease ensures an exclusive lock blocks others until released.
func TestAcquire_ExclusiveWaitsForRelease(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		m := NewManager()

		require.NoError(t, m.Acquire(ctx, "r1", "a", Exclusive))

		done := acquireAsync(ctx, m, "r1", "b", Exclusive)

		synctest.Wait()
		requirePending(t, done)
		require.Equal(t, 1, m.Waiting())

		require.NoError(t, m.Release("r1", "a"))

		synctest.Wait()
		require.NoError(t, <-done)
		require.Zero(t, m.Waiting())

		mode, count := m.Holds("r1", "b")
		require.Equal(t, Exclusive, mode)
		require.Equal(t, 1, count)
	})
}

// TestAcquire_SharedHoldersCoexist ensures shared locks are granted together.
func TestAcquire_SharedHoldersCoexist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManager()

	require.NoError(t, m.Acquire(ctx, "r1", "a", Shared))
	require.NoError(t, m.Acquire(ctx, "r1", "b", Shared))
	require.NoError(t, m.Acquire(ctx, "r1", "c", Shared))

	snapshot := m.Snapshot()
	require.Len(t, snapshot, 1)
	require.Len(t, snapshot[0].Holders, 3)
}

// TestAcquire_Reentrant checks hold counting for repeated acquisitions by one owner.
func TestAcquire_Reentrant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManager()

	require.NoError(t, m.Acquire(ctx, "r1", "a", Exclusive))
	require.NoError(t, m.Acquire(ctx, "r1", "a", Exclusive))
	require.NoError(t, m.Acquire(ctx, "r1", "a", Shared))

	_, count := m.Holds("r1", "a")
	require.Equal(t, 3, count)

	require.NoError(t, m.Release("r1", "a"))
	require.NoError(t, m.Release("r1", "a"))
	require.NoError(t, m.Release("r1", "a"))

	err := m.Release("r1", "a")
	require.ErrorIs(t, err, ErrNotHolder)
	require.Empty(t, m.Snapshot())
}

// TestAcquire_DeadlockRejectedImmediately covers the classic two-owner cycle.
func TestAcquire_DeadlockRejectedImmediately(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		m := NewManager()

		require.NoError(t, m.Acquire(ctx, "r1", "a", Exclusive))
		require.NoError(t, m.Acquire(ctx, "r2", "b", Exclusive))

		aWaits := acquireAsync(ctx, m, "r2", "a", Exclusive)

		synctest.Wait()
		requirePending(t, aWaits)

		err := m.Acquire(ctx, "r1", "b", Exclusive)
		require.ErrorIs(t, err, ErrDeadlock)
		require.ErrorIs(t, err, ErrLock)
		require.NotErrorIs(t, err, ErrLockReleased)

		var deadlock *DeadlockError
		require.ErrorAs(t, err, &deadlock)
		require.Equal(t, ResourceID("r1"), deadlock.Resource)
		require.Equal(t, OwnerID("b"), deadlock.Owner)
		require.Equal(t, []OwnerID{"a"}, deadlock.Blockers)

		// The refused request left nothing queued behind.
		require.Equal(t, 1, m.Waiting())

		// B backs off; A proceeds.
		require.Equal(t, 1, m.ReleaseAll("b"))

		synctest.Wait()
		require.NoError(t, <-aWaits)
	})
}

// TestAcquire_DeadlockAcrossThreeOwners detects a longer cycle.
func TestAcquire_DeadlockAcrossThreeOwners(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		m := NewManager()

		require.NoError(t, m.Acquire(ctx, "r1", "a", Exclusive))
		require.NoError(t, m.Acquire(ctx, "r2", "b", Exclusive))
		require.NoError(t, m.Acquire(ctx, "r3", "c", Exclusive))

		aWaits := acquireAsync(ctx, m, "r2", "a", Exclusive)
		bWaits := acquireAsync(ctx, m, "r3", "b", Exclusive)

		synctest.Wait()

		err := m.Acquire(ctx, "r1", "c", Shared)

		var deadlock *DeadlockError
		require.ErrorAs(t, err, &deadlock)
		require.Equal(t, []OwnerID{"a"}, deadlock.Blockers)

		cancel()
		synctest.Wait()
		require.ErrorIs(t, <-aWaits, context.Canceled)
		require.ErrorIs(t, <-bWaits, context.Canceled)
		require.Zero(t, m.Waiting())
	})
}

// TestAcquire_UpgradeDeadlock ensures two shared holders cannot both wait to upgrade.
func TestAcquire_UpgradeDeadlock(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		m := NewManager()

		require.NoError(t, m.Acquire(ctx, "r1", "a", Shared))
		require.NoError(t, m.Acquire(ctx, "r1", "b", Shared))

		aUpgrades := acquireAsync(ctx, m, "r1", "a", Exclusive)

		synctest.Wait()
		requirePending(t, aUpgrades)

		err := m.Acquire(ctx, "r1", "b", Exclusive)
		require.ErrorIs(t, err, ErrDeadlock)

		require.NoError(t, m.Release("r1", "b"))

		synctest.Wait()
		require.NoError(t, <-aUpgrades)

		mode, count := m.Holds("r1", "a")
		require.Equal(t, Exclusive, mode)
		require.Equal(t, 2, count)
	})
}

// TestAcquire_SoleSharedHolderUpgradesImmediately covers the uncontended upgrade.
func TestAcquire_SoleSharedHolderUpgradesImmediately(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManager()

	require.NoError(t, m.Acquire(ctx, "r1", "a", Shared))
	require.NoError(t, m.Acquire(ctx, "r1", "a", Exclusive))

	mode, _ := m.Holds("r1", "a")
	require.Equal(t, Exclusive, mode)
}

// TestAcquire_FIFOGrantOrder ensures waiters are granted in arrival order.
func TestAcquire_FIFOGrantOrder(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		m := NewManager()

		require.NoError(t, m.Acquire(ctx, "r1", "a", Exclusive))

		owners := []OwnerID{"b", "c", "d"}
		waits := make([]<-chan error, 0, len(owners))

		for _, owner := range owners {
			waits = append(waits, acquireAsync(ctx, m, "r1", owner, Exclusive))
			synctest.Wait()
		}

		previous := OwnerID("a")
		for i, owner := range owners {
			require.NoError(t, m.Release("r1", previous))
			synctest.Wait()

			require.NoError(t, <-waits[i])

			_, count := m.Holds("r1", owner)
			require.Equal(t, 1, count)

			for _, later := range waits[i+1:] {
				requirePending(t, later)
			}

			previous = owner
		}
	})
}

// TestAcquire_SharedWaitersGrantedTogether ensures consecutive shared waiters wake as a batch.
func TestAcquire_SharedWaitersGrantedTogether(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		m := NewManager()

		require.NoError(t, m.Acquire(ctx, "r1", "a", Exclusive))

		b := acquireAsync(ctx, m, "r1", "b", Shared)
		synctest.Wait()

		c := acquireAsync(ctx, m, "r1", "c", Shared)
		synctest.Wait()

		d := acquireAsync(ctx, m, "r1", "d", Exclusive)
		synctest.Wait()

		require.NoError(t, m.Release("r1", "a"))
		synctest.Wait()

		require.NoError(t, <-b)
		require.NoError(t, <-c)
		requirePending(t, d)

		m.ReleaseAll("b")
		m.ReleaseAll("c")
		synctest.Wait()

		require.NoError(t, <-d)
	})
}

// TestAcquire_CancelUnblocksQueue ensures a canceled waiter leaves the queue and lets compatible waiters in.
func TestAcquire_CancelUnblocksQueue(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		m := NewManager()

		require.NoError(t, m.Acquire(ctx, "r1", "a", Shared))

		bCtx, cancelB := context.WithCancel(ctx)
		b := acquireAsync(bCtx, m, "r1", "b", Exclusive)
		synctest.Wait()

		c := acquireAsync(ctx, m, "r1", "c", Shared)
		synctest.Wait()
		requirePending(t, c)

		cancelB()
		synctest.Wait()

		require.ErrorIs(t, <-b, context.Canceled)
		require.NoError(t, <-c)
		require.Zero(t, m.Waiting())
	})
}

// queueWaiter queues a request the way Acquire does, without waiting on it.
func queueWaiter(t *testing.T, m *Manager, resource ResourceID, owner OwnerID, mode Mode) *waiter {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, err := m.tryAcquire(m.entryFor(resource), owner, mode)
	require.NoError(t, err)
	require.NotNil(t, w)

	m.enqueue(m.locks[resource], w)

	return w
}

// canceledContext returns a context that is already done.
func canceledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	return ctx
}

// TestAbandon_GrantedWaiterGivesLockBack covers a wait canceled after its grant was already sent.
func TestAbandon_GrantedWaiterGivesLockBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManager()

	require.NoError(t, m.Acquire(ctx, "r1", "a", Exclusive))

	w := queueWaiter(t, m, "r1", "b", Exclusive)

	require.NoError(t, m.Release("r1", "a"))
	require.Len(t, w.result, 1)

	err := m.abandon(canceledContext(), w, time.Now())
	require.ErrorIs(t, err, context.Canceled)

	mode, count := m.Holds("r1", "b")
	require.Zero(t, mode)
	require.Zero(t, count)
	require.Empty(t, m.Snapshot())
	require.Zero(t, m.Waiting())
}

// TestAbandon_GrantedUpgradeRestoresShared ensures a canceled upgrade leaves the owner a shared holder.
func TestAbandon_GrantedUpgradeRestoresShared(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManager()

	require.NoError(t, m.Acquire(ctx, "r1", "a", Shared))
	require.NoError(t, m.Acquire(ctx, "r1", "b", Shared))

	w := queueWaiter(t, m, "r1", "a", Exclusive)
	require.True(t, w.upgrade)

	require.NoError(t, m.Release("r1", "b"))
	require.Len(t, w.result, 1)

	mode, count := m.Holds("r1", "a")
	require.Equal(t, Exclusive, mode)
	require.Equal(t, 2, count)

	err := m.abandon(canceledContext(), w, time.Now())
	require.ErrorIs(t, err, context.Canceled)

	mode, count = m.Holds("r1", "a")
	require.Equal(t, Shared, mode)
	require.Equal(t, 1, count)

	want := []Info{{
		Resource: "r1",
		Holders:  []HolderInfo{{Owner: "a", Mode: Shared, Count: 1}},
		Waiters:  []WaiterInfo{},
	}}

	if diff := cmp.Diff(want, m.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	// Other shared requests are admitted again at once.
	require.NoError(t, m.Acquire(ctx, "r1", "c", Shared))
}

// TestAbandon_GrantedUpgradeAfterForceRelease tolerates a hold removed before the cancellation lands.
func TestAbandon_GrantedUpgradeAfterForceRelease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManager()

	require.NoError(t, m.Acquire(ctx, "r1", "a", Shared))
	require.NoError(t, m.Acquire(ctx, "r1", "b", Shared))

	w := queueWaiter(t, m, "r1", "a", Exclusive)

	require.NoError(t, m.Release("r1", "b"))
	require.Zero(t, m.ForceRelease("r1"))

	err := m.abandon(canceledContext(), w, time.Now())
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, m.Snapshot())
}

// TestForceRelease_FailsWaiters ensures forced release interrupts every waiter with LockReleasedError.
func TestForceRelease_FailsWaiters(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		m := NewManager()

		require.NoError(t, m.Acquire(ctx, "r1", "a", Exclusive))

		b := acquireAsync(ctx, m, "r1", "b", Exclusive)
		c := acquireAsync(ctx, m, "r1", "c", Shared)
		synctest.Wait()

		require.Equal(t, 2, m.ForceRelease("r1"))
		synctest.Wait()

		for _, done := range []<-chan error{b, c} {
			err := <-done
			require.ErrorIs(t, err, ErrLockReleased)
			require.ErrorIs(t, err, ErrLock)
			require.NotErrorIs(t, err, ErrDeadlock)

			var released *LockReleasedError
			require.ErrorAs(t, err, &released)
			require.Equal(t, ResourceID("r1"), released.Resource)
		}

		// The former holder no longer holds it and the resource is free.
		require.ErrorIs(t, m.Release("r1", "a"), ErrNotHolder)
		require.NoError(t, m.Acquire(ctx, "r1", "d", Exclusive))
		require.Zero(t, m.ForceRelease("missing"))
	})
}

// TestReleaseAll drops every lock held by an owner.
func TestReleaseAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManager()

	require.NoError(t, m.Acquire(ctx, "r1", "a", Exclusive))
	require.NoError(t, m.Acquire(ctx, "r1", "a", Exclusive))
	require.NoError(t, m.Acquire(ctx, "r2", "a", Shared))
	require.NoError(t, m.Acquire(ctx, "r2", "b", Shared))

	require.Equal(t, 2, m.ReleaseAll("a"))
	require.Zero(t, m.ReleaseAll("a"))

	want := []Info{{
		Resource: "r2",
		Holders:  []HolderInfo{{Owner: "b", Mode: Shared, Count: 1}},
		Waiters:  []WaiterInfo{},
	}}

	if diff := cmp.Diff(want, m.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

// TestSnapshot reports holders and waiters in order.
func TestSnapshot(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		m := NewManager()

		require.NoError(t, m.Acquire(ctx, "r2", "b", Shared))
		require.NoError(t, m.Acquire(ctx, "r1", "a", Shared))
		require.NoError(t, m.Acquire(ctx, "r1", "c", Shared))

		upgrade := acquireAsync(ctx, m, "r1", "a", Exclusive)
		synctest.Wait()

		want := []Info{
			{
				Resource: "r1",
				Holders: []HolderInfo{
					{Owner: "a", Mode: Shared, Count: 1},
					{Owner: "c", Mode: Shared, Count: 1},
				},
				Waiters: []WaiterInfo{{Owner: "a", Mode: Exclusive, Upgrade: true}},
			},
			{
				Resource: "r2",
				Holders:  []HolderInfo{{Owner: "b", Mode: Shared, Count: 1}},
				Waiters:  []WaiterInfo{},
			},
		}

		if diff := cmp.Diff(want, m.Snapshot()); diff != "" {
			t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
		}

		cancel()
		synctest.Wait()
		require.ErrorIs(t, <-upgrade, context.Canceled)
	})
}

// TestAcquire_Validation rejects empty identifiers and unknown modes.
func TestAcquire_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManager()

	require.ErrorIs(t, m.Acquire(ctx, "", "a", Shared), errEmptyResource)
	require.ErrorIs(t, m.Acquire(ctx, "r1", "", Shared), errEmptyOwner)
	require.ErrorIs(t, m.Acquire(ctx, "r1", "a", Mode(9)), errInvalidMode)
}

// failingEnqueuer refuses every enqueue.
type failingEnqueuer struct {
	NopEnqueuer
}

// Enqueue always fails.
func (failingEnqueuer) Enqueue(ResourceID, Mode) error { return errTestEnqueue }

// TestAcquire_EnqueuerFailure surfaces host-level serialization failures.
func TestAcquire_EnqueuerFailure(t *testing.T) {
	t.Parallel()

	m := NewManager(WithEnqueuer(failingEnqueuer{}))

	err := m.Acquire(context.Background(), "r1", "a", Exclusive)
	require.ErrorIs(t, err, errTestEnqueue)
	require.Empty(t, m.Snapshot())
}

// TestParseMode maps textual modes.
func TestParseMode(t *testing.T) {
	t.Parallel()

	mode, ok := ParseMode("exclusive")
	require.True(t, ok)
	require.Equal(t, Exclusive, mode)
	require.Equal(t, "shared", Shared.String())

	_, ok = ParseMode("weird")
	require.False(t, ok)
}
