//go:build !unix

package lock

import "errors"

// FlockEnqueuer is unavailable on this platform.
type FlockEnqueuer struct {
	NopEnqueuer
}

// NewFlockEnqueuer always fails on platforms without flock(2).
func NewFlockEnqueuer(string) (*FlockEnqueuer, error) {
	return nil, errors.New("flock enqueuer is not supported on this platform")
}
