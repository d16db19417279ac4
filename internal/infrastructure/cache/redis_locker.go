package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only when it still holds the caller's token,
// so a holder whose TTL expired cannot release a lock taken over by someone else
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements shared.Locker with SET NX PX, shared by every engine instance
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a locker on a shared client
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock takes key for ttl without waiting
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases key if token still holds it
func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

var _ shared.Locker = (*RedisLocker)(nil)
