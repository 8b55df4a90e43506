//go:build windows

package filelock

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

const (
	lockfileExclusiveLock   = 0x00000002
	lockfileFailImmediately = 0x00000001
)

// tryLockFile never blocks the OS thread: LockFileEx is always called with
// LOCKFILE_FAIL_IMMEDIATELY and Lock does the waiting.
func tryLockFile(f *os.File) (bool, error) {
	err := windows.LockFileEx(
		windows.Handle(f.Fd()),
		lockfileExclusiveLock|lockfileFailImmediately,
		0, // reserved
		1, // lock 1 byte
		0, // high word
		new(windows.Overlapped),
	)
	if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
		return false, nil
	}
	return err == nil, err
}

func unlockFile(f *os.File) error {
	return windows.UnlockFileEx(
		windows.Handle(f.Fd()),
		0, // reserved
		1, // unlock 1 byte
		0, // high word
		new(windows.Overlapped),
	)
}
