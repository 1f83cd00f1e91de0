package singleflight

import (
	"context"
	"sync"
	"time"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

// InMemoryLock is a single-binary DistributedLock: useful for tests
// and for a single-instance deployment that still wants the
// lock-then-poll code path exercised. A real multi-process deployment
// would replace this with a Redis/etcd-backed implementation behind
// the same interface.
type InMemoryLock struct {
	clock fs.Clock

	mu      sync.Mutex
	holders map[string]time.Time // key -> expiry
}

// NewInMemoryLock creates an InMemoryLock using clock for expiry
// checks.
func NewInMemoryLock(clock fs.Clock) *InMemoryLock {
	return &InMemoryLock{clock: clock, holders: make(map[string]time.Time)}
}

func (l *InMemoryLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if expiry, held := l.holders[key]; held && now.Before(expiry) {
		return false, nil
	}
	l.holders[key] = now.Add(ttl)
	return true, nil
}

func (l *InMemoryLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holders, key)
	return nil
}
