package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
)

// entry represents a stored event ID with expiration
type entry struct {
	expiresAt time.Time
}

// InMemoryIdempotencyStore implements IdempotencyStore using an in-memory map.
// State is per process, so it only fits single-instance deployments and tests.
type InMemoryIdempotencyStore struct {
	mu        sync.RWMutex
	entries   map[string]entry
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// InMemoryOption configures the in-memory stores
type InMemoryOption func(*inMemoryOptions)

type inMemoryOptions struct {
	now             func() time.Time
	cleanupInterval time.Duration
}

// WithClock overrides the time source
func WithClock(now func() time.Time) InMemoryOption {
	return func(o *inMemoryOptions) {
		o.now = now
	}
}

// WithCleanupInterval sets how often expired entries are purged
func WithCleanupInterval(d time.Duration) InMemoryOption {
	return func(o *inMemoryOptions) {
		o.cleanupInterval = d
	}
}

func buildInMemoryOptions(opts []InMemoryOption) inMemoryOptions {
	o := inMemoryOptions{now: time.Now, cleanupInterval: 5 * time.Minute}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewInMemoryIdempotencyStore creates a new in-memory idempotency store.
// A background goroutine purges expired entries until Close.
func NewInMemoryIdempotencyStore(opts ...InMemoryOption) *InMemoryIdempotencyStore {
	o := buildInMemoryOptions(opts)
	store := &InMemoryIdempotencyStore{
		entries:  make(map[string]entry),
		now:      o.now,
		stopChan: make(chan struct{}),
	}

	store.wg.Add(1)
	go store.cleanupLoop(o.cleanupInterval)

	return store
}

// MarkProcessed marks an event as processed with a TTL.
// It returns false when the event was already processed and has not expired.
func (s *InMemoryIdempotencyStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, exists := s.entries[eventID]; exists && now.Before(e.expiresAt) {
		return false, nil
	}

	s.entries[eventID] = entry{expiresAt: now.Add(ttl)}
	return true, nil
}

// IsProcessed checks if an event has already been processed
func (s *InMemoryIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.entries[eventID]
	if !exists {
		return false, nil
	}
	return s.now().Before(e.expiresAt), nil
}

// Forget removes the event mark
func (s *InMemoryIdempotencyStore) Forget(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, eventID)
	return nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (s *InMemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryIdempotencyStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired entries from the store
func (s *InMemoryIdempotencyStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for eventID, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, eventID)
		}
	}
}

// Size returns the number of entries in the store
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
