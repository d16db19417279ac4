package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("second holder is refused until release", func(t *testing.T) {
		locker := NewInMemoryLocker()

		token, ok, err := locker.TryLock(ctx, "sync:lock:entity:1", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotEmpty(t, token)

		_, ok, err = locker.TryLock(ctx, "sync:lock:entity:1", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = locker.TryLock(ctx, "sync:lock:entity:2", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "other keys are independent")

		require.NoError(t, locker.Unlock(ctx, "sync:lock:entity:1", token))
		_, ok, err = locker.TryLock(ctx, "sync:lock:entity:1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("stale token does not release a newer holder", func(t *testing.T) {
		clock := newTestClock()
		locker := NewInMemoryLocker(WithClock(clock.Now))

		old, ok, err := locker.TryLock(ctx, "k", time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		clock.Advance(2 * time.Second)
		_, ok, err = locker.TryLock(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.True(t, ok, "expired lock is taken over")

		require.NoError(t, locker.Unlock(ctx, "k", old))
		_, ok, err = locker.TryLock(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "new holder still owns the key")
	})

	t.Run("only one concurrent winner", func(t *testing.T) {
		locker := NewInMemoryLocker()
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok, _ := locker.TryLock(ctx, "race", time.Minute); ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}
