package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed webhook event IDs so redelivered
// notifications are not applied twice
type IdempotencyStore interface {
	// MarkProcessed marks an event as processed with a TTL
	// Returns true if the event was newly marked, false if it was already processed
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// IsProcessed checks if an event has already been processed
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// Forget removes a mark so the event can be delivered again
	Forget(ctx context.Context, eventID string) error

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is the time-to-live for processed event IDs.
	// After this duration, the same event ID can be processed again.
	TTL time.Duration

	// Enabled determines whether idempotency checking is enabled
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
