package filelock

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "write.lock")

	unlock, err := TryLock(path)
	require.NoError(t, err)

	_, err = TryLock(path)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock())
	unlock, err = TryLock(path)
	require.NoError(t, err)
	require.NoError(t, unlock())
}

func TestLockWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "write.lock")
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := Lock(ctx, path)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			assert.NoError(t, unlock())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestLockHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "write.lock")
	unlock, err := TryLock(path)
	require.NoError(t, err)
	defer func() { _ = unlock() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = Lock(ctx, path)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
