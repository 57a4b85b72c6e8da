package lock

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/alarmd/internal/logger"
)

// Manager grants resource locks to owners and rejects deadlocking waits.
// The lock table and the wait-for graph share one mutex.
type Manager struct {
	// locks is the lock table keyed by resource.
	locks map[ResourceID]*entry
	// waiting indexes queued requests by owner; it is the node set of the wait-for graph.
	waiting map[OwnerID]map[*waiter]struct{}
	// held indexes held resources by owner for ReleaseAll.
	held map[OwnerID]map[ResourceID]struct{}
	// queued is the total number of queued requests.
	queued int

	// enqueuer is the host-level serialization hook.
	enqueuer Enqueuer
	// observer receives metrics events.
	observer Observer
	// now is the clock used to time waits.
	now func() time.Time

	// mu guards every field above.
	mu sync.Mutex
}

// entry is the state of one lock.
type entry struct {
	// resource is the lock identity.
	resource ResourceID
	// holders maps each holding owner to its hold.
	holders map[OwnerID]*hold
	// queue holds waiting requests in grant order.
	queue []*waiter
	// level is the strongest mode handed to the enqueuer, zero when none.
	level Mode
}

// hold is one owner's grip on a lock.
type hold struct {
	// mode is the strongest mode granted to the owner.
	mode Mode
	// count is the reentrant hold count.
	count int
}

// waiter is a queued Acquire.
type waiter struct {
	// owner is the requester.
	owner OwnerID
	// resource is the requested lock.
	resource ResourceID
	// mode is the requested mode.
	mode Mode
	// upgrade marks a shared holder asking for exclusive.
	upgrade bool
	// prev is the mode an upgrading owner held before asking.
	prev Mode
	// result receives nil on grant or the failure; buffered so senders never block.
	result chan error
}

// Option configures a Manager.
type Option func(*Manager)

// WithEnqueuer installs a host-level serialization hook.
func WithEnqueuer(e Enqueuer) Option {
	return func(m *Manager) {
		if e != nil {
			m.enqueuer = e
		}
	}
}

// WithObserver installs an event observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithClock overrides the clock used to time waits.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager returns an empty lock manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		locks:    make(map[ResourceID]*entry),
		waiting:  make(map[OwnerID]map[*waiter]struct{}),
		held:     make(map[OwnerID]map[ResourceID]struct{}),
		enqueuer: NopEnqueuer{},
		observer: nopObserver{},
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Acquire obtains resource for owner in the given mode.
//
// The call returns immediately when the lock is free, compatible with the
// current holders and nobody is queued, or already held by owner in a mode at
// least as strong. A shared holder asking for exclusive is an upgrade and is
// queued ahead of ordinary requests. Before any wait the manager checks the
// wait-for graph and returns a *DeadlockError if the wait would close a cycle.
// A wait ends with a grant, with ctx's error, or with a *LockReleasedError.
func (m *Manager) Acquire(ctx context.Context, resource ResourceID, owner OwnerID, mode Mode) error {
	if err := validate(resource, owner, mode); err != nil {
		return err
	}

	started := m.now()

	m.mu.Lock()

	e := m.entryFor(resource)

	w, err := m.tryAcquire(e, owner, mode)
	if err != nil || w == nil {
		outcome := OutcomeGranted
		if err != nil {
			outcome = OutcomeFailed
			m.dropIfIdle(e)
		}

		m.observer.ObserveAcquire(mode, outcome, 0)
		m.mu.Unlock()

		return err
	}

	blockers := m.blockersOf(e, w)
	if m.reaches(blockers, owner) {
		m.dropIfIdle(e)
		m.observer.ObserveAcquire(mode, OutcomeDeadlock, 0)
		m.mu.Unlock()

		logger.WarnKV(ctx, "Lock wait refused: deadlock",
			"resource", resource, "owner", owner, "mode", mode, "blockers", blockers)

		return &DeadlockError{
			Resource: resource,
			Owner:    owner,
			Blockers: blockers,
		}
	}

	m.enqueue(e, w)
	m.mu.Unlock()

	logger.DebugKV(ctx, "Waiting for lock", "resource", resource, "owner", owner, "mode", mode)

	select {
	case err := <-w.result:
		m.mu.Lock()
		m.observer.ObserveAcquire(mode, outcomeOf(err), m.now().Sub(started))
		m.mu.Unlock()

		return err
	case <-ctx.Done():
		return m.abandon(ctx, w, started)
	}
}

// tryAcquire grants the request at once when possible and returns nil.
// Otherwise it returns the waiter to queue.
func (m *Manager) tryAcquire(e *entry, owner OwnerID, mode Mode) (*waiter, error) {
	if h, ok := e.holders[owner]; ok {
		if h.mode == Exclusive || mode == Shared {
			h.count++

			return nil, nil
		}

		if len(e.holders) == 1 {
			if err := m.admit(e, Exclusive); err != nil {
				return nil, err
			}

			h.mode = Exclusive
			h.count++

			return nil, nil
		}

		return &waiter{
			owner:    owner,
			resource: e.resource,
			mode:     Exclusive,
			upgrade:  true,
			prev:     h.mode,
			result:   make(chan error, 1),
		}, nil
	}

	if len(e.queue) == 0 && e.admits(owner, mode) {
		if err := m.admit(e, mode); err != nil {
			return nil, err
		}

		m.addHold(e, owner, mode)

		return nil, nil
	}

	return &waiter{
		owner:    owner,
		resource: e.resource,
		mode:     mode,
		result:   make(chan error, 1),
	}, nil
}

// abandon withdraws a waiter whose context ended.
func (m *Manager) abandon(ctx context.Context, w *waiter, started time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	waited := m.now().Sub(started)

	select {
	case err := <-w.result:
		if err != nil {
			m.observer.ObserveAcquire(w.mode, outcomeOf(err), waited)

			return err
		}

		// Granted concurrently with cancellation: undo the grant.
		m.revoke(w)
	default:
		e := m.locks[w.resource]
		m.dequeue(e, w)
		m.grantWaiters(e)
		m.dropIfIdle(e)
	}

	m.observer.ObserveAcquire(w.mode, OutcomeCanceled, waited)

	return fmt.Errorf("acquire %q for %q: %w", w.resource, w.owner, ctx.Err())
}

// revoke takes back a grant its waiter no longer wants. An upgrade falls
// back to the mode held before it was requested.
func (m *Manager) revoke(w *waiter) {
	if !w.upgrade {
		m.release(w.resource, w.owner)

		return
	}

	e, ok := m.locks[w.resource]
	if !ok {
		return
	}

	// The hold may already be gone through ForceRelease or ReleaseAll.
	h, ok := e.holders[w.owner]
	if !ok {
		return
	}

	h.mode = w.prev
	h.count--

	m.grantWaiters(e)
}

// Release drops one reentrant hold of resource by owner.
// When the last hold goes the queue is granted in FIFO order.
func (m *Manager) Release(resource ResourceID, owner OwnerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.release(resource, owner) {
		return fmt.Errorf("release %q by %q: %w", resource, owner, ErrNotHolder)
	}

	return nil
}

// ReleaseAll drops every hold of owner and returns the number of locks freed.
func (m *Manager) ReleaseAll(owner OwnerID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	resources := make([]ResourceID, 0, len(m.held[owner]))
	for r := range m.held[owner] {
		resources = append(resources, r)
	}

	slices.Sort(resources)

	for _, r := range resources {
		e := m.locks[r]
		delete(e.holders, owner)
		m.untrackHold(owner, r)
		m.grantWaiters(e)
		m.dropIfIdle(e)
	}

	return len(resources)
}

// ForceRelease frees resource out of band. Every holder loses the lock and
// every waiter fails with a *LockReleasedError. It returns the number of
// interrupted waiters.
func (m *Manager) ForceRelease(resource ResourceID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[resource]
	if !ok {
		return 0
	}

	for owner := range e.holders {
		m.untrackHold(owner, resource)
	}

	clear(e.holders)

	interrupted := len(e.queue)
	for _, w := range slices.Clone(e.queue) {
		m.dequeue(e, w)
		w.result <- &LockReleasedError{Resource: resource, Owner: w.owner}
	}

	m.dropIfIdle(e)
	m.observer.ObserveForceRelease(interrupted)

	return interrupted
}

// Holds reports the mode and reentrant count of owner's hold on resource.
func (m *Manager) Holds(resource ResourceID, owner OwnerID) (Mode, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[resource]
	if !ok {
		return 0, 0
	}

	h, ok := e.holders[owner]
	if !ok {
		return 0, 0
	}

	return h.mode, h.count
}

// Snapshot returns the lock table sorted by resource.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]Info, 0, len(m.locks))

	for _, e := range m.locks {
		info := Info{
			Resource: e.resource,
			Holders:  make([]HolderInfo, 0, len(e.holders)),
			Waiters:  make([]WaiterInfo, 0, len(e.queue)),
		}

		for owner, h := range e.holders {
			info.Holders = append(info.Holders, HolderInfo{Owner: owner, Mode: h.mode, Count: h.count})
		}

		slices.SortFunc(info.Holders, func(a, b HolderInfo) int {
			return cmp.Compare(a.Owner, b.Owner)
		})

		for _, w := range e.queue {
			info.Waiters = append(info.Waiters, WaiterInfo{Owner: w.owner, Mode: w.mode, Upgrade: w.upgrade})
		}

		result = append(result, info)
	}

	slices.SortFunc(result, func(a, b Info) int {
		return cmp.Compare(a.Resource, b.Resource)
	})

	return result
}

// Waiting returns the number of queued requests.
func (m *Manager) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.queued
}

// release drops one hold and grants the queue. It reports false if owner held nothing.
func (m *Manager) release(resource ResourceID, owner OwnerID) bool {
	e, ok := m.locks[resource]
	if !ok {
		return false
	}

	h, ok := e.holders[owner]
	if !ok {
		return false
	}

	h.count--
	if h.count == 0 {
		delete(e.holders, owner)
		m.untrackHold(owner, resource)
	}

	m.grantWaiters(e)
	m.dropIfIdle(e)

	return true
}

// grantWaiters grants queued requests from the head while they are compatible.
func (m *Manager) grantWaiters(e *entry) {
	for len(e.queue) > 0 {
		w := e.queue[0]
		if !e.admits(w.owner, w.mode) {
			return
		}

		m.dequeue(e, w)

		if err := m.admit(e, w.mode); err != nil {
			w.result <- err

			continue
		}

		m.addHold(e, w.owner, w.mode)
		w.result <- nil
	}
}

// admit hands e to the enqueuer when mode is stronger than what it already holds.
func (m *Manager) admit(e *entry, mode Mode) error {
	if mode <= e.level {
		return nil
	}

	if err := m.enqueuer.Enqueue(e.resource, mode); err != nil {
		return fmt.Errorf("enqueue %q: %w", e.resource, err)
	}

	e.level = mode

	return nil
}

// addHold records a grant.
func (m *Manager) addHold(e *entry, owner OwnerID, mode Mode) {
	h, ok := e.holders[owner]
	if !ok {
		h = &hold{mode: mode}
		e.holders[owner] = h
	}

	if mode == Exclusive {
		h.mode = Exclusive
	}

	h.count++

	resources, ok := m.held[owner]
	if !ok {
		resources = make(map[ResourceID]struct{})
		m.held[owner] = resources
	}

	resources[e.resource] = struct{}{}
}

// untrackHold removes resource from owner's held set.
func (m *Manager) untrackHold(owner OwnerID, resource ResourceID) {
	resources := m.held[owner]
	delete(resources, resource)

	if len(resources) == 0 {
		delete(m.held, owner)
	}
}

// enqueue queues w. Upgrades go behind earlier upgrades and ahead of everything else.
func (m *Manager) enqueue(e *entry, w *waiter) {
	e.queue = slices.Insert(e.queue, position(e, w), w)

	set, ok := m.waiting[w.owner]
	if !ok {
		set = make(map[*waiter]struct{})
		m.waiting[w.owner] = set
	}

	set[w] = struct{}{}
	m.queued++
	m.observer.SetWaiting(m.queued)
}

// dequeue removes w from its queue and from the wait-for graph.
func (m *Manager) dequeue(e *entry, w *waiter) {
	if i := slices.Index(e.queue, w); i >= 0 {
		e.queue = slices.Delete(e.queue, i, i+1)
	}

	set := m.waiting[w.owner]
	delete(set, w)

	if len(set) == 0 {
		delete(m.waiting, w.owner)
	}

	m.queued--
	m.observer.SetWaiting(m.queued)
}

// entryFor returns the lock entry for resource, creating it if needed.
func (m *Manager) entryFor(resource ResourceID) *entry {
	e, ok := m.locks[resource]
	if !ok {
		e = &entry{
			resource: resource,
			holders:  make(map[OwnerID]*hold),
		}
		m.locks[resource] = e
	}

	return e
}

// dropIfIdle forgets e once nobody holds or waits for it.
func (m *Manager) dropIfIdle(e *entry) {
	if e == nil || len(e.holders) > 0 || len(e.queue) > 0 {
		return
	}

	delete(m.locks, e.resource)

	if e.level != 0 {
		// The resource is already free in-process; a failed dequeue only leaks the host lock until exit.
		if err := m.enqueuer.Dequeue(e.resource); err != nil {
			logger.Errorf(context.Background(), "Failed to dequeue %q: %v", e.resource, err)
		}
	}
}

// admits reports whether owner may hold e in mode alongside the other holders.
func (e *entry) admits(owner OwnerID, mode Mode) bool {
	for other, h := range e.holders {
		if other != owner && !compatible(mode, h.mode) {
			return false
		}
	}

	return true
}

// validate checks the identifiers and mode of a request.
func validate(resource ResourceID, owner OwnerID, mode Mode) error {
	switch {
	case resource == "":
		return errEmptyResource
	case owner == "":
		return errEmptyOwner
	case mode != Shared && mode != Exclusive:
		return fmt.Errorf("%w: %d", errInvalidMode, mode)
	default:
		return nil
	}
}

// outcomeOf classifies the result of a wait.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeGranted
	case errors.Is(err, ErrLockReleased):
		return OutcomeReleased
	default:
		return OutcomeFailed
	}
}
