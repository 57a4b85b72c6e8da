package lock

// Enqueuer is a hook into a host-level serialization facility (ENQ/DEQ).
//
// The manager calls Enqueue when a resource first becomes held in a mode
// stronger than the one already enqueued, and Dequeue when the resource
// becomes free. Enqueue must not block: it either succeeds or returns an
// error, typically wrapping ErrEnqueueContended, which fails the request.
type Enqueuer interface {
	Enqueue(resource ResourceID, mode Mode) error
	Dequeue(resource ResourceID) error
}

// NopEnqueuer performs no host-level serialization.
type NopEnqueuer struct{}

// Enqueue always succeeds.
func (NopEnqueuer) Enqueue(ResourceID, Mode) error { return nil }

// Dequeue always succeeds.
func (NopEnqueuer) Dequeue(ResourceID) error { return nil }
