package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

// DefaultWebhookKeyPrefix namespaces processed webhook event IDs in Redis
const DefaultWebhookKeyPrefix = "sync:webhook:"

// RedisIdempotencyStore implements IdempotencyStore using Redis so that every
// engine instance sees the same set of processed webhook deliveries
type RedisIdempotencyStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisIdempotencyStore creates a store on a shared client. Close leaves the client open.
func NewRedisIdempotencyStore(client *redis.Client, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = DefaultWebhookKeyPrefix
	}
	return &RedisIdempotencyStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// MarkProcessed records the event with a TTL using SET NX.
// It returns false when the event was already recorded.
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	result, err := s.client.SetNX(ctx, s.keyPrefix+eventID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark webhook event as processed: %w", err)
	}
	return result, nil
}

// IsProcessed checks if an event has already been processed
func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.keyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return exists > 0, nil
}

// Forget deletes the event mark
func (s *RedisIdempotencyStore) Forget(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, s.keyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("failed to forget webhook event: %w", err)
	}
	return nil
}

// Close is a no-op; the client belongs to whoever created it
func (s *RedisIdempotencyStore) Close() error {
	return nil
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
