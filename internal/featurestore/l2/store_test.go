package l2

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "l2.db")
	store, err := Open(Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_PutThenGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	asOf := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	err := store.PutMany(ctx, []Row{{
		Ticker: "AAPL", FeatureName: "sma_20", Value: 123.45,
		AsOf: asOf, CalculatedAt: asOf.Add(time.Minute), Version: 1,
	}})
	require.NoError(t, err)

	key := fs.FeatureKey{Ticker: "AAPL", FeatureName: "sma_20", AsOf: asOf, Version: 1}
	got, err := store.GetMany(ctx, []fs.FeatureKey{key})
	require.NoError(t, err)
	v, ok := got[key]
	require.True(t, ok)
	assert.InDelta(t, 123.45, v.Value, 1e-9)
	assert.Equal(t, fs.SourceL2, v.SourceTier)
}

func TestSQLiteStore_UpsertOverwritesOnlyWhenStrictlyNewer(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	asOf := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	key := fs.FeatureKey{Ticker: "AAPL", FeatureName: "sma_20", AsOf: asOf, Version: 1}

	calcAt := asOf.Add(time.Hour)
	require.NoError(t, store.PutMany(ctx, []Row{{Ticker: "AAPL", FeatureName: "sma_20", Value: 1, AsOf: asOf, CalculatedAt: calcAt, Version: 1}}))

	// Same calculated_at: tie, existing row wins (documented in DESIGN.md).
	require.NoError(t, store.PutMany(ctx, []Row{{Ticker: "AAPL", FeatureName: "sma_20", Value: 2, AsOf: asOf, CalculatedAt: calcAt, Version: 1}}))
	got, err := store.GetMany(ctx, []fs.FeatureKey{key})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got[key].Value)

	// Strictly newer calculated_at overwrites.
	require.NoError(t, store.PutMany(ctx, []Row{{Ticker: "AAPL", FeatureName: "sma_20", Value: 3, AsOf: asOf, CalculatedAt: calcAt.Add(time.Second), Version: 1}}))
	got, err = store.GetMany(ctx, []fs.FeatureKey{key})
	require.NoError(t, err)
	assert.Equal(t, 3.0, got[key].Value)
}

func TestSQLiteStore_ScanOrdersDescendingByAsOf(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		asOf := base.AddDate(0, 0, i)
		require.NoError(t, store.PutMany(ctx, []Row{{
			Ticker: "AAPL", FeatureName: "sma_20", Value: float64(i),
			AsOf: asOf, CalculatedAt: asOf, Version: 1,
		}}))
	}

	rows, err := store.Scan(ctx, "AAPL", "sma_20", base, base.AddDate(0, 0, 2), 1)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 2.0, rows[0].Value)
	assert.Equal(t, 0.0, rows[2].Value)
}

func TestSQLiteStore_InvalidateMarksSuperseded(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	asOf := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	key := fs.FeatureKey{Ticker: "AAPL", FeatureName: "sma_20", AsOf: asOf, Version: 1}

	require.NoError(t, store.PutMany(ctx, []Row{{Ticker: "AAPL", FeatureName: "sma_20", Value: 1, AsOf: asOf, CalculatedAt: asOf, Version: 1}}))

	n, err := store.Invalidate(ctx, "AAPL", "sma_20", asOf, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetMany(ctx, []fs.FeatureKey{key})
	require.NoError(t, err)
	_, ok := got[key]
	assert.False(t, ok, "superseded rows must not be returned by GetMany")
}

func TestSQLiteStore_UnavailableBuffersWrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	store.SetUnavailable(true)

	asOf := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.PutMany(ctx, []Row{{Ticker: "AAPL", FeatureName: "sma_20", Value: 1, AsOf: asOf, CalculatedAt: asOf, Version: 1}}))
	assert.Equal(t, 1, store.RetryBufferLen())

	key := fs.FeatureKey{Ticker: "AAPL", FeatureName: "sma_20", AsOf: asOf, Version: 1}
	got, err := store.GetMany(ctx, []fs.FeatureKey{key})
	require.NoError(t, err)
	assert.Empty(t, got, "reads while unavailable should report misses, not stale data")

	store.SetUnavailable(false)
	n, err := store.FlushRetryBuffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, store.RetryBufferLen())

	got, err = store.GetMany(ctx, []fs.FeatureKey{key})
	require.NoError(t, err)
	assert.Contains(t, got, key)
}

func TestSQLiteStore_RetryBufferDropsOldestOnOverflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "l2.db")
	store, err := Open(Config{Path: path, RetryBufferSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	store.SetUnavailable(true)

	asOf := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.PutMany(context.Background(), []Row{{Ticker: "A", FeatureName: "f", AsOf: asOf, CalculatedAt: asOf, Version: 1}}))
	require.NoError(t, store.PutMany(context.Background(), []Row{{Ticker: "B", FeatureName: "f", AsOf: asOf, CalculatedAt: asOf, Version: 1}}))

	assert.Equal(t, 1, store.RetryBufferLen())
	assert.Equal(t, int64(1), store.RetryBufferDrops())
}
