package singleflight

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

func TestInMemoryLock_SecondAcquireFailsUntilReleased(t *testing.T) {
	clock := fs.NewFixedClock(time.Now())
	l := NewInMemoryLock(clock)

	ok, err := l.TryAcquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryAcquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(context.Background(), "k"))
	ok, err = l.TryAcquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInMemoryLock_ExpiresAfterTTL(t *testing.T) {
	clock := fs.NewFixedClock(time.Now())
	l := NewInMemoryLock(clock)

	ok, err := l.TryAcquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(2 * time.Second)
	ok, err = l.TryAcquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock should be acquirable again once its ttl has elapsed")
}
