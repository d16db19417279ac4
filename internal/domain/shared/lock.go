package shared

import (
	"context"
	"time"
)

// Locker provides short-lived mutual exclusion keyed by an arbitrary string.
// Implementations must be safe across processes when they share a backend.
type Locker interface {
	// TryLock attempts to take the lock without waiting.
	// It returns a token identifying the holder and false when the key is already held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)

	// Unlock releases the lock if it is still held with the given token
	Unlock(ctx context.Context, key, token string) error
}
