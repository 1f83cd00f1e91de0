package featurestore

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/featurestore/internal/featurestore/compute"
	"github.com/aristath/featurestore/internal/featurestore/l1"
	"github.com/aristath/featurestore/internal/featurestore/l2"
	"github.com/aristath/featurestore/internal/featurestore/metrics"
	"github.com/aristath/featurestore/internal/featurestore/rawdata"
	sf "github.com/aristath/featurestore/internal/featurestore/singleflight"
	fs "github.com/aristath/featurestore/internal/fstypes"
)

type testHarness struct {
	facade   *Facade
	provider *rawdata.FakeProvider
	l1       *l1.ToggleableStore
	l2       *l2.SQLiteStore
	clock    *fs.FixedClock
	tracker  *metrics.Tracker
	sink     *metrics.MemorySink
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	clock := fs.NewFixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	l1Cache := l1.New(1000, clock, 0)
	t.Cleanup(l1Cache.Close)
	l1Store := l1.NewToggleableStore(l1Cache)

	l2Store, err := l2.Open(l2.Config{Path: filepath.Join(t.TempDir(), "l2.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l2Store.Close() })

	provider := rawdata.NewFakeProvider()
	gateway := rawdata.New(provider, rawdata.Config{MaxRequestsPerSecond: 1000}, zerolog.Nop())

	engine := compute.NewEngine(4)
	coordinator := sf.New(sf.Options{PollInterval: time.Millisecond})
	sink := metrics.NewMemorySink()
	tracker := metrics.New(sink)

	registry, err := NewStandardRegistry()
	require.NoError(t, err)

	facade := New(Deps{
		Registry:    registry,
		L1:          l1Store,
		L2:          l2Store,
		RawData:     gateway,
		Engine:      engine,
		Coordinator: coordinator,
		Tracker:     tracker,
		Clock:       clock,
		Log:         zerolog.Nop(),
	}, Config{})

	return &testHarness{facade: facade, provider: provider, l1: l1Store, l2: l2Store, clock: clock, tracker: tracker, sink: sink}
}

func seedBars(h *testHarness, ticker string, days int) {
	base := h.clock.Now().AddDate(0, 0, -days-10)
	bars := make([]fs.Bar, 0, days+10)
	price := 100.0
	for i := 0; i < days+10; i++ {
		price += 0.1
		bars = append(bars, fs.Bar{T: base.AddDate(0, 0, i), Close: price})
	}
	h.provider.SetBars(ticker, bars)
}

func TestFacade_ColdComputeThenL1Hit(t *testing.T) {
	h := newHarness(t)
	seedBars(h, "AAPL", 20)

	resp, err := h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "AAPL", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"},
	})
	require.NoError(t, err)
	r := resp.Features["sma_20"]
	require.NoError(t, r.Err)
	assert.Equal(t, fs.SourceComputed, r.Value.SourceTier)
	assert.Equal(t, 1, h.provider.CallCount("AAPL"))
	assert.Equal(t, 0, resp.Telemetry.CacheHits)
	assert.Equal(t, 1, resp.Telemetry.CacheMisses)
	assert.Equal(t, 1, resp.Telemetry.Computed)
	assert.Equal(t, "computed", resp.Telemetry.SourcePerFeature["sma_20"])
	assert.GreaterOrEqual(t, resp.Telemetry.LatencyMS, 0.0)

	// Second call should hit L1 and not touch the provider again.
	resp, err = h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "AAPL", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"},
	})
	require.NoError(t, err)
	r2 := resp.Features["sma_20"]
	require.NoError(t, r2.Err)
	assert.Equal(t, fs.SourceL1, r2.Value.SourceTier)
	assert.Equal(t, 1, h.provider.CallCount("AAPL"), "l1 hit must not recompute")
	assert.InDelta(t, r.Value.Value, r2.Value.Value, 1e-9)
	assert.Equal(t, 1, resp.Telemetry.CacheHits)
	assert.Equal(t, 0, resp.Telemetry.CacheMisses)
	assert.Equal(t, 0, resp.Telemetry.Computed)
	assert.Equal(t, "l1", resp.Telemetry.SourcePerFeature["sma_20"])
}

func TestFacade_L2HitPromotesToL1(t *testing.T) {
	h := newHarness(t)
	seedBars(h, "AAPL", 20)

	_, err := h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "AAPL", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"},
	})
	require.NoError(t, err)

	// Evict from L1 directly; value must still be in L2.
	def, err := h.facade.registry.Lookup("sma_20", 0)
	require.NoError(t, err)
	key := fs.FeatureKey{Ticker: "AAPL", FeatureName: "sma_20", AsOf: fs.NormalizeAsOf(h.clock.Now(), def.TTLClass), Version: def.Version}
	h.l1.Delete(key)

	resp, err := h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "AAPL", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"},
	})
	require.NoError(t, err)
	assert.Equal(t, fs.SourceL2, resp.Features["sma_20"].Value.SourceTier)
	assert.Equal(t, 1, h.provider.CallCount("AAPL"), "l2 hit must not recompute")

	// L1 should now have it again (promotion).
	got := h.l1.Get([]fs.FeatureKey{key})
	_, ok := got[key]
	assert.True(t, ok, "l2 hit should promote back into l1")
}

func TestFacade_ConcurrentIdenticalRequestsComputeOnce(t *testing.T) {
	h := newHarness(t)
	seedBars(h, "AAPL", 20)

	var wg sync.WaitGroup
	var errs int64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
				Ticker: "AAPL", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"},
			})
			if err != nil {
				atomic.AddInt64(&errs, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), errs)
	assert.Equal(t, 1, h.provider.CallCount("AAPL"), "100 concurrent identical requests must compute exactly once")
}

func TestFacade_LookAheadBiasExcludesFutureBars(t *testing.T) {
	h := newHarness(t)
	asOf := h.clock.Now()
	base := fs.NormalizeAsOf(asOf, fs.TTLDaily).AddDate(0, 0, -30)
	var bars []fs.Bar
	price := 100.0
	for i := 0; i < 40; i++ { // includes 9 bars strictly after asOf
		price += 1
		bars = append(bars, fs.Bar{T: base.AddDate(0, 0, i), Close: price})
	}
	h.provider.SetBars("AAPL", bars)

	resp, err := h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "AAPL", AsOf: asOf, FeatureNames: []string{"sma_20"},
	})
	require.NoError(t, err)
	r := resp.Features["sma_20"]
	require.NoError(t, r.Err)

	// sma_20 is daily-class, so its as_of is normalized to midnight.
	// bars[30] falls exactly on that normalized as_of (base is it minus
	// 30 days); the expected SMA uses only the 20 bars ending there,
	// bars[11..30] inclusive.
	sum := 0.0
	for i := 11; i <= 30; i++ {
		sum += bars[i].Close
	}
	expected := sum / 20
	assert.InDelta(t, expected, r.Value.Value, 1e-6)
}

func TestFacade_L1UnavailableDegradesToL2OrCompute(t *testing.T) {
	h := newHarness(t)
	seedBars(h, "AAPL", 20)

	_, err := h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "AAPL", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"},
	})
	require.NoError(t, err)

	h.l1.SetEnabled(false)
	resp, err := h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "AAPL", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"},
	})
	require.NoError(t, err)
	assert.Equal(t, fs.SourceL2, resp.Features["sma_20"].Value.SourceTier)
	assert.Equal(t, 1, h.provider.CallCount("AAPL"), "l1 outage should fall back to l2, not recompute")
}

func TestFacade_InsufficientDataCachedAsAbsent(t *testing.T) {
	h := newHarness(t)
	h.provider.SetBars("THIN", nil)

	resp, err := h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "THIN", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"},
	})
	require.NoError(t, err)
	r := resp.Features["sma_20"]
	require.NoError(t, r.Err)
	assert.True(t, r.Value.Absent)

	resp, err = h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "THIN", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Features["sma_20"].Value.Absent)
	assert.Equal(t, 1, h.provider.CallCount("THIN"), "absent result should be cached too")
}

func TestFacade_UnknownFeatureFailsWholeCall(t *testing.T) {
	h := newHarness(t)
	_, err := h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "AAPL", AsOf: h.clock.Now(), FeatureNames: []string{"not_a_feature"},
	})
	assert.ErrorIs(t, err, fs.ErrUnknownFeature)
}

func TestFacade_PartialModeIsolatesPerFeatureFailures(t *testing.T) {
	h := newHarness(t)
	seedBars(h, "AAPL", 20)
	h.provider.MarkUnknown("ZZZZ")

	resp, err := h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "AAPL", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"}, Options: Options{Partial: true},
	})
	require.NoError(t, err)
	assert.NoError(t, resp.Features["sma_20"].Err)

	resp, err = h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "ZZZZ", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"}, Options: Options{Partial: true},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, resp.Features["sma_20"].Err, fs.ErrUnknownTicker)
}

func TestFacade_TTLOverrideZeroDisablesL1(t *testing.T) {
	h := newHarness(t)
	seedBars(h, "AAPL", 20)
	zero := time.Duration(0)

	_, err := h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "AAPL", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"},
		Options: Options{TTLOverride: &zero},
	})
	require.NoError(t, err)

	def, err := h.facade.registry.Lookup("sma_20", 0)
	require.NoError(t, err)
	key := fs.FeatureKey{Ticker: "AAPL", FeatureName: "sma_20", AsOf: fs.NormalizeAsOf(h.clock.Now(), def.TTLClass), Version: def.Version}
	_, ok := h.l1.Get([]fs.FeatureKey{key})[key]
	assert.False(t, ok, "ttl_override=0 must skip the l1 write")
}

func TestFacade_InvalidateForcesRecompute(t *testing.T) {
	h := newHarness(t)
	seedBars(h, "AAPL", 20)

	resp, err := h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "AAPL", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.provider.CallCount("AAPL"))
	firstCalculatedAt := resp.Features["sma_20"].Value.CalculatedAt

	invalidatedAt := h.clock.Now()
	require.NoError(t, h.facade.Invalidate(context.Background(), "AAPL", "sma_20", h.clock.Now().AddDate(0, 0, -1), h.clock.Now()))

	// Advance the clock so the recomputed value's calculated_at is
	// distinguishable from both the invalidation instant and the
	// original compute, per spec.md §8 testable property #4.
	h.clock.Advance(time.Minute)

	resp, err = h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "AAPL", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, h.provider.CallCount("AAPL"), "invalidated feature must recompute on next read")
	recomputedAt := resp.Features["sma_20"].Value.CalculatedAt
	assert.True(t, recomputedAt.After(invalidatedAt), "recomputed value's calculated_at must be strictly after the invalidation timestamp")
	assert.True(t, recomputedAt.After(firstCalculatedAt), "recomputed value's calculated_at must be strictly after the original compute")
}

func TestFacade_WarmPopulatesCacheForWatchlist(t *testing.T) {
	h := newHarness(t)
	seedBars(h, "AAPL", 20)
	seedBars(h, "MSFT", 20)

	require.NoError(t, h.facade.Warm(context.Background(), []string{"AAPL", "MSFT"}, []string{"sma_20"}, h.clock.Now()))
	assert.Equal(t, 1, h.provider.CallCount("AAPL"))
	assert.Equal(t, 1, h.provider.CallCount("MSFT"))

	resp, err := h.facade.GetFeatures(context.Background(), GetFeaturesRequest{
		Ticker: "AAPL", AsOf: h.clock.Now(), FeatureNames: []string{"sma_20"},
	})
	require.NoError(t, err)
	assert.Equal(t, fs.SourceL1, resp.Features["sma_20"].Value.SourceTier)
	assert.Equal(t, 1, h.provider.CallCount("AAPL"), "warm should have already cached the value")
}
