// Package filelock provides advisory file locking for serializing note
// write-back between taskvault processes sharing a vault.
package filelock

import (
	"context"
	"errors"
	"os"
	"time"
)

const (
	lockFileMode = 0o600

	minRetry = time.Millisecond
	maxRetry = 50 * time.Millisecond
)

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = errors.New("lock held by another process")

// Lock acquires an exclusive advisory lock on the file at path, creating it
// if it does not exist. It retries with backoff until the lock is free or
// ctx is done. The returned function releases the lock.
func Lock(ctx context.Context, path string) (unlock func() error, err error) {
	wait := minRetry
	for {
		unlock, err := TryLock(path)
		if !errors.Is(err, ErrLocked) {
			return unlock, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, maxRetry)
	}
}

// TryLock acquires the lock without waiting. It returns ErrLocked when the
// lock is held elsewhere.
func TryLock(path string) (unlock func() error, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFileMode) //nolint:gosec // lock file path from trusted source
	if err != nil {
		return nil, err
	}

	ok, err := tryLockFile(f)
	if err != nil || !ok {
		_ = f.Close()
		if err == nil {
			err = ErrLocked
		}
		return nil, err
	}

	return func() error {
		unlockErr := unlockFile(f)
		closeErr := f.Close()
		if unlockErr != nil {
			return unlockErr
		}
		return closeErr
	}, nil
}
