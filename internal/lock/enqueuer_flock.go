//go:build unix

package lock

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// lockFilePermissions is the mode of files created under the enqueue directory.
const lockFilePermissions = 0o600

// FlockEnqueuer serializes resources across processes with flock(2) on one
// file per resource inside a shared directory.
type FlockEnqueuer struct {
	// dir holds the per-resource lock files.
	dir string
	// files are the open descriptors of enqueued resources.
	files map[ResourceID]*os.File
	// mu guards files.
	mu sync.Mutex
}

// NewFlockEnqueuer creates dir if needed and returns an enqueuer rooted there.
func NewFlockEnqueuer(dir string) (*FlockEnqueuer, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create enqueue directory: %w", err)
	}

	return &FlockEnqueuer{
		dir:   filepath.Clean(dir),
		files: make(map[ResourceID]*os.File),
	}, nil
}

// Enqueue takes or converts the flock for resource without blocking.
func (f *FlockEnqueuer) Enqueue(resource ResourceID, mode Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, ok := f.files[resource]
	if !ok {
		path := filepath.Join(f.dir, url.PathEscape(string(resource))+".lock")

		var err error

		file, err = os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_RDWR, lockFilePermissions)
		if err != nil {
			return fmt.Errorf("open lock file: %w", err)
		}
	}

	how := unix.LOCK_SH
	if mode == Exclusive {
		how = unix.LOCK_EX
	}

	if err := unix.Flock(int(file.Fd()), how|unix.LOCK_NB); err != nil {
		if !ok {
			_ = file.Close()
		}

		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s", ErrEnqueueContended, resource)
		}

		return fmt.Errorf("flock %s: %w", resource, err)
	}

	f.files[resource] = file

	return nil
}

// Dequeue drops the flock for resource. Unknown resources are ignored.
func (f *FlockEnqueuer) Dequeue(resource ResourceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, ok := f.files[resource]
	if !ok {
		return nil
	}

	delete(f.files, resource)

	if err := unix.Flock(int(file.Fd()), unix.LOCK_UN); err != nil {
		_ = file.Close()

		return fmt.Errorf("unlock %s: %w", resource, err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	return nil
}
