package cache

import (
	"errors"
	"fmt"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Coordination bundles the stores that keep engine instances from stepping on
// each other: webhook de-duplication and per-entity locks
type Coordination struct {
	Idempotency shared.IdempotencyStore
	Locker      shared.Locker
	Distributed bool

	client *redis.Client
}

// Close releases the stores and the Redis connection
func (c *Coordination) Close() error {
	var errs []error
	if c.Idempotency != nil {
		errs = append(errs, c.Idempotency.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// CoordinationFactory creates coordination stores based on configuration
type CoordinationFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	keyPrefix             string
}

// CoordinationFactoryOption is a functional option for configuring the factory
type CoordinationFactoryOption func(*CoordinationFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) CoordinationFactoryOption {
	return func(f *CoordinationFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory stores when Redis is unavailable.
// Default is true.
func WithInMemoryFallback(allow bool) CoordinationFactoryOption {
	return func(f *CoordinationFactory) {
		f.allowInMemoryFallback = allow
	}
}

// WithKeyPrefix sets the Redis key prefix of processed webhook IDs
func WithKeyPrefix(prefix string) CoordinationFactoryOption {
	return func(f *CoordinationFactory) {
		if prefix != "" {
			f.keyPrefix = prefix
		}
	}
}

// NewCoordinationFactory creates a new factory
func NewCoordinationFactory(cfg config.RedisConfig, opts ...CoordinationFactoryOption) *CoordinationFactory {
	f := &CoordinationFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		keyPrefix:             DefaultWebhookKeyPrefix,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateRedis creates Redis-backed stores sharing one client
func (f *CoordinationFactory) CreateRedis() (*Coordination, error) {
	client, err := NewRedisClient(f.redisConfig)
	if err != nil {
		return nil, err
	}
	return &Coordination{
		Idempotency: NewRedisIdempotencyStore(client, f.keyPrefix),
		Locker:      NewRedisLocker(client),
		Distributed: true,
		client:      client,
	}, nil
}

// CreateInMemory creates process-local stores
func (f *CoordinationFactory) CreateInMemory() *Coordination {
	return &Coordination{
		Idempotency: NewInMemoryIdempotencyStore(),
		Locker:      NewInMemoryLocker(),
	}
}

// Create tries Redis first and falls back to in-memory stores when allowed
func (f *CoordinationFactory) Create() (*Coordination, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory coordination stores")
		return f.CreateInMemory(), nil
	}

	c, err := f.CreateRedis()
	if err == nil {
		f.logger.Info("using Redis coordination stores", zap.String("addr", f.redisConfig.Addr()))
		return c, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for coordination but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory coordination stores. "+
		"Locks and webhook de-duplication will not be shared across instances.",
		zap.Error(err),
	)
	return f.CreateInMemory(), nil
}
