// Package lock tracks ownership of abstract resource locks by logical owners
// and refuses any wait that would close a cycle in the wait-for graph.
//
// A Manager grants shared and exclusive locks, reentrantly per owner. When a
// request cannot be granted immediately the manager computes the owners that
// block it and walks the wait-for graph from them; if the walk reaches the
// requesting owner the request fails at once with a *DeadlockError and no
// goroutine ever blocks. Otherwise the request joins a FIFO queue and waits
// until it is granted, its context ends, or an administrator forces the lock
// free, in which case it fails with a *LockReleasedError.
//
// Both typed failures match ErrLock through errors.Is, so callers can treat
// every lock failure uniformly and still tell them apart.
package lock
