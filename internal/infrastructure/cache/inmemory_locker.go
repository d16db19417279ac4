package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

type heldLock struct {
	token     string
	expiresAt time.Time
}

// InMemoryLocker implements shared.Locker within one process.
// Expired locks are taken over on the next TryLock.
type InMemoryLocker struct {
	mu   sync.Mutex
	held map[string]heldLock
	now  func() time.Time
}

// NewInMemoryLocker creates a process-local locker
func NewInMemoryLocker(opts ...InMemoryOption) *InMemoryLocker {
	o := buildInMemoryOptions(opts)
	return &InMemoryLocker{
		held: make(map[string]heldLock),
		now:  o.now,
	}
}

// TryLock takes key for ttl without waiting
func (l *InMemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = heldLock{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// Unlock releases key if token still holds it
func (l *InMemoryLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.held[key]; ok && h.token == token {
		delete(l.held, key)
	}
	return nil
}

var _ shared.Locker = (*InMemoryLocker)(nil)
