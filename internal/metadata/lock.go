package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the project lock.
var ErrLocked = errors.New("project is locked by another run")

// lockRetryDelay is how often a waiting Acquire retries the lock.
const lockRetryDelay = 100 * time.Millisecond

// Locker serializes pipeline runs on one project.
type Locker interface {
	Acquire(ctx context.Context, location, name string) (io.Closer, error)
}

// FileLocker takes an exclusive advisory lock on the project's lock file.
type FileLocker struct {
	// Wait bounds how long Acquire waits for a held lock. Zero fails at once.
	Wait time.Duration
}

// Acquire locks the (location, name) project. When the location does not
// exist yet there is nothing to guard and a no-op lock is returned.
func (l FileLocker) Acquire(ctx context.Context, location, name string) (io.Closer, error) {
	info, err := os.Stat(location)
	if errors.Is(err, fs.ErrNotExist) {
		return nopLock{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat project location: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project location %s is not a directory", location)
	}

	path := PathsFor(location, name).Lock

	waitCtx := ctx
	if l.Wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.Wait)
		defer cancel()
	}

	for {
		fl := flock.New(path)

		var locked bool
		if l.Wait <= 0 {
			locked, err = fl.TryLock()
		} else {
			locked, err = fl.TryLockContext(waitCtx, lockRetryDelay)
			if errors.Is(err, context.DeadlineExceeded) {
				err = nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock project %s: %w", name, err)
		}
		if !locked {
			return nil, fmt.Errorf("%w: %s", ErrLocked, fl.Path())
		}

		// The previous holder erased or renamed the project and removed the
		// lock file while we waited on it.
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			_ = fl.Unlock()
			continue
		}
		return flockCloser{fl}, nil
	}
}

// RemoveLockFile deletes the lock file of the (location, name) project. Call it
// only while holding that lock, once the project is gone under that name.
// Windows refuses to remove a lock file that is still open.
func RemoveLockFile(location, name string) error {
	err := os.Remove(PathsFor(location, name).Lock)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to remove lock file: %w", err)
}

type flockCloser struct {
	fl *flock.Flock
}

func (c flockCloser) Close() error {
	return c.fl.Unlock()
}

type nopLock struct{}

func (nopLock) Close() error { return nil }
