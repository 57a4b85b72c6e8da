package lock

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLock is the root of every lock failure.
	ErrLock = errors.New("lock failure")
	// ErrDeadlock is matched by errors that refuse a wait closing a cycle.
	ErrDeadlock = fmt.Errorf("%w: deadlock", ErrLock)
	// ErrLockReleased is matched by errors that interrupt a wait because the lock was forcibly released.
	ErrLockReleased = fmt.Errorf("%w: lock released", ErrLock)
	// ErrNotHolder is returned when an owner releases a lock it does not hold.
	ErrNotHolder = errors.New("owner does not hold the lock")
	// ErrEnqueueContended is returned by an Enqueuer when another process holds the resource.
	ErrEnqueueContended = errors.New("resource is enqueued by another process")

	// errEmptyResource is returned when the resource identifier is empty.
	errEmptyResource = errors.New("resource must be provided")
	// errEmptyOwner is returned when the owner identifier is empty.
	errEmptyOwner = errors.New("owner must be provided")
	// errInvalidMode is returned for modes other than Shared and Exclusive.
	errInvalidMode = errors.New("invalid lock mode")
)

// DeadlockError reports that Owner's request for Resource was refused
// because waiting on Blockers would close a cycle.
type DeadlockError struct {
	// Resource is the lock that was requested.
	Resource ResourceID
	// Owner is the requester.
	Owner OwnerID
	// Blockers are the owners the request would have waited for.
	Blockers []OwnerID
}

// Error implements error.
func (e *DeadlockError) Error() string {
	blockers := make([]string, 0, len(e.Blockers))
	for _, b := range e.Blockers {
		blockers = append(blockers, string(b))
	}

	return fmt.Sprintf("deadlock: owner %q waiting for %q held by [%s]",
		e.Owner, e.Resource, strings.Join(blockers, ", "))
}

// Unwrap lets errors.Is match ErrDeadlock and ErrLock.
func (e *DeadlockError) Unwrap() error {
	return ErrDeadlock
}

// LockReleasedError reports that Owner's wait for Resource ended
// because the lock was released out of band.
type LockReleasedError struct {
	// Resource is the lock that was forcibly released.
	Resource ResourceID
	// Owner is the interrupted waiter.
	Owner OwnerID
}

// Error implements error.
func (e *LockReleasedError) Error() string {
	return fmt.Sprintf("lock %q released while owner %q was waiting", e.Resource, e.Owner)
}

// Unwrap lets errors.Is match ErrLockReleased and ErrLock.
func (e *LockReleasedError) Unwrap() error {
	return ErrLockReleased
}
