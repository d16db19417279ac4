package integration

import (
	"context"
	"errors"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

// Repositories groups the storage ports the sync services depend on
type Repositories struct {
	Entities     integration.SyncEntityRepository
	Links        integration.ExternalLinkRepository
	Channels     integration.ChannelRepository
	Jobs         integration.SyncJobRepository
	Logs         integration.SyncLogRepository
	BundleItems  integration.BundleItemRepository
	PendingLinks integration.PendingBundleLinkRepository
}

// Clock returns the current time
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}

// ---------------------------------------------------------------------------
// Locking
// ---------------------------------------------------------------------------

const (
	// DefaultLockTTL bounds how long a crashed holder blocks an entity or target
	DefaultLockTTL = 2 * time.Minute
	// DefaultLockWait is how long inbound writes wait for a busy entity
	DefaultLockWait = 3 * time.Second

	lockRetryInterval = 25 * time.Millisecond
)

func entityLockKey(entityID uuid.UUID) string {
	return "sync:lock:entity:" + entityID.String()
}

func targetLockKey(entityID, channelID uuid.UUID) string {
	return "sync:lock:target:" + entityID.String() + ":" + channelID.String()
}

// acquireLock takes key, polling until wait elapses. A nil locker always succeeds.
// The returned release func must be called once the critical section ends.
func acquireLock(ctx context.Context, locker shared.Locker, key string, ttl, wait time.Duration) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	deadline := time.Now().Add(wait)
	for {
		token, ok, err := locker.TryLock(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// released on a fresh context so a cancelled caller still frees the key
				_ = locker.Unlock(context.WithoutCancel(ctx), key, token)
			}, nil
		}
		if wait <= 0 || time.Now().After(deadline) {
			return nil, integration.ErrTargetBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// isNotFound reports whether err is the shared not-found error
func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
