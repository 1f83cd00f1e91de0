package featurestore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/featurestore/internal/featurestore/compute"
	"github.com/aristath/featurestore/internal/featurestore/l2"
	"github.com/aristath/featurestore/internal/featurestore/metrics"
	sf "github.com/aristath/featurestore/internal/featurestore/singleflight"
	fs "github.com/aristath/featurestore/internal/fstypes"
)

// L1Store is the subset of l1.Store the Facade depends on. Declared
// here (rather than imported) so the Facade can also accept an
// l1.ToggleableStore or any other implementation without a package
// cycle back through l1.
type L1Store interface {
	Get(keys []fs.FeatureKey) map[fs.FeatureKey]fs.FeatureValue
	Set(key fs.FeatureKey, value fs.FeatureValue, ttl time.Duration)
	Delete(key fs.FeatureKey)
	DeletePrefix(ticker, featureName string)
}

// availabilityChecker is implemented by l1.ToggleableStore; the
// Facade type-asserts for it purely to emit the l1_unavailable metric
// spec.md §4.3 calls for; correctness never depends on it.
type availabilityChecker interface {
	Enabled() bool
}

// RawDataSource is the raw-data access point the Facade depends on;
// rawdata.Gateway satisfies it.
type RawDataSource interface {
	FetchBars(ctx context.Context, ticker string, asOf time.Time, windowDays int) ([]fs.Bar, error)
}

// Config tunes the Facade's cache-policy knobs, spec.md §6.
type Config struct {
	TTLIntraday       time.Duration // default L1/L2 TTL for TTLIntraday features
	TTLDaily          time.Duration // default TTL for TTLDaily features
	TTLStaticMax      time.Duration // upper bound TTL for TTLStatic features
	AbsentTTLFraction float64       // fraction of the normal TTL used for Absent results, default 0.1
	PendingComputeMax int           // backpressure bound on concurrent in-flight computes, default 256 (a fixed bound; it does not scale with the compute pool size)
}

func (c Config) withDefaults() Config {
	if c.TTLIntraday <= 0 {
		c.TTLIntraday = 60 * time.Second
	}
	if c.TTLDaily <= 0 {
		c.TTLDaily = 24 * time.Hour
	}
	if c.TTLStaticMax <= 0 {
		c.TTLStaticMax = 7 * 24 * time.Hour
	}
	if c.AbsentTTLFraction <= 0 {
		c.AbsentTTLFraction = 0.1
	}
	if c.PendingComputeMax <= 0 {
		c.PendingComputeMax = 256
	}
	return c
}

func (c Config) ttlFor(class fs.TTLClass) time.Duration {
	switch class {
	case fs.TTLIntraday:
		return c.TTLIntraday
	case fs.TTLStatic:
		return c.TTLStaticMax
	default:
		return c.TTLDaily
	}
}

// Options carries the per-call knobs spec.md §4.7 describes.
type Options struct {
	// TTLOverride, when non-nil, replaces the definition's default
	// TTL for this call's writes. A pointer to 0 explicitly disables
	// L1 (neither read nor write) for this call, spec.md §4.3.
	TTLOverride *time.Duration
	// Partial allows per-feature failures (UnknownTicker, Upstream,
	// Deadline) to surface as an error attached to that feature's
	// result rather than failing the whole call.
	Partial bool
}

// FeatureResult is one feature's outcome within a GetFeatures call.
type FeatureResult struct {
	Value fs.FeatureValue
	Err   error
}

// GetFeaturesRequest is the input to GetFeatures.
type GetFeaturesRequest struct {
	Ticker       string
	AsOf         time.Time
	FeatureNames []string
	Options      Options
}

// GetFeaturesResponse is the output of GetFeatures, keyed by the
// originally requested feature name so callers can always find their
// answer regardless of internal normalization.
type GetFeaturesResponse struct {
	Features  map[string]FeatureResult
	Telemetry Telemetry
}

// Telemetry is the per-call summary spec.md §6's external interface
// promises alongside the features map: how many requested features
// were served from a cache tier versus computed fresh, the wall-clock
// cost of the whole call, and which tier ultimately answered each
// feature. It is best-effort accounting for the caller, distinct from
// the aggregate C8 Metrics & Cost Tracker, which records the same
// events process-wide rather than per-call.
type Telemetry struct {
	CacheHits        int
	CacheMisses      int
	Computed         int
	LatencyMS        float64
	SourcePerFeature map[string]string
}

// Facade is the Feature Store Facade (C7): the single entry point
// that resolves feature names, walks the L1 -> L2 -> singleflight
// compute pipeline spec.md §4.7 describes, and writes results back
// through the tiers before returning. It is the only component
// callers (HTTP handlers, the scheduler's warm sweep) talk to.
type Facade struct {
	registry    *Registry
	l1          L1Store
	l2          l2.Store
	rawData     RawDataSource
	engine      *compute.Engine
	coordinator *sf.Coordinator
	tracker     *metrics.Tracker
	clock       fs.Clock
	log         zerolog.Logger
	cfg         Config

	pending int64 // current in-flight compute count, for backpressure
}

// Deps bundles the Facade's collaborators, all already constructed.
type Deps struct {
	Registry    *Registry
	L1          L1Store
	L2          l2.Store
	RawData     RawDataSource
	Engine      *compute.Engine
	Coordinator *sf.Coordinator
	Tracker     *metrics.Tracker
	Clock       fs.Clock
	Log         zerolog.Logger
}

// New creates a Facade.
func New(deps Deps, cfg Config) *Facade {
	clock := deps.Clock
	if clock == nil {
		clock = fs.SystemClock{}
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = metrics.New(nil)
	}
	return &Facade{
		registry:    deps.Registry,
		l1:          deps.L1,
		l2:          deps.L2,
		rawData:     deps.RawData,
		engine:      deps.Engine,
		coordinator: deps.Coordinator,
		tracker:     tracker,
		clock:       clock,
		log:         deps.Log.With().Str("component", "facade").Logger(),
		cfg:         cfg.withDefaults(),
	}
}

// GetFeatures is the main read path: resolve each name against the
// Registry, normalize as_of per TTL class, probe L1 then L2, and
// route whatever's left through the singleflight-guarded compute
// pipeline. Results preserve the order of req.FeatureNames via the
// response map (callers index by name, not position).
//
// An unknown feature name always fails the whole call, per spec.md
// §7 ("Terminal to the call"). Per-feature failures (unknown ticker,
// upstream trouble, deadline) fail the whole call unless
// req.Options.Partial is set, in which case they're attached to that
// feature's FeatureResult and the rest proceed.
func (f *Facade) GetFeatures(ctx context.Context, req GetFeaturesRequest) (GetFeaturesResponse, error) {
	start := f.clock.Now()
	resp := GetFeaturesResponse{Features: make(map[string]FeatureResult, len(req.FeatureNames))}
	telemetry := Telemetry{SourcePerFeature: make(map[string]string, len(req.FeatureNames))}
	finish := func() GetFeaturesResponse {
		telemetry.LatencyMS = float64(f.clock.Now().Sub(start)) / float64(time.Millisecond)
		resp.Telemetry = telemetry
		return resp
	}

	type resolved struct {
		name string
		def  *fs.FeatureDefinition
		key  fs.FeatureKey
	}
	resolvedList := make([]resolved, 0, len(req.FeatureNames))
	for _, name := range req.FeatureNames {
		def, err := f.registry.Lookup(name, 0)
		if err != nil {
			return GetFeaturesResponse{}, err
		}
		asOf := fs.NormalizeAsOf(req.AsOf, def.TTLClass)
		key := fs.FeatureKey{Ticker: req.Ticker, FeatureName: def.Name, AsOf: asOf, Version: def.Version}
		resolvedList = append(resolvedList, resolved{name: name, def: def, key: key})
	}

	l1Disabled := req.Options.TTLOverride != nil && *req.Options.TTLOverride == 0

	// L1 probe, batched and deduplicated by key.
	keysByKey := make(map[fs.FeatureKey][]resolved, len(resolvedList))
	orderedKeys := make([]fs.FeatureKey, 0, len(resolvedList))
	for _, r := range resolvedList {
		if _, seen := keysByKey[r.key]; !seen {
			orderedKeys = append(orderedKeys, r.key)
		}
		keysByKey[r.key] = append(keysByKey[r.key], r)
	}

	var l1Hits map[fs.FeatureKey]fs.FeatureValue
	if !l1Disabled && f.l1 != nil {
		if checker, ok := f.l1.(availabilityChecker); ok && !checker.Enabled() {
			f.tracker.RecordTierUnavailable("l1")
		}
		l1Hits = f.l1.Get(orderedKeys)
	}

	remaining := make([]fs.FeatureKey, 0, len(orderedKeys))
	for _, k := range orderedKeys {
		if v, ok := l1Hits[k]; ok {
			for _, r := range keysByKey[k] {
				f.tracker.RecordRequest("l1", r.def.Name, f.clock.Now().Sub(start))
				resp.Features[r.name] = FeatureResult{Value: withTier(v, fs.SourceL1)}
				telemetry.CacheHits++
				telemetry.SourcePerFeature[r.name] = string(fs.SourceL1)
			}
			continue
		}
		remaining = append(remaining, k)
	}

	// L2 probe for whatever L1 didn't have, with promotion back into L1
	// on hit. The promotion is a synchronous L1 Set made before this
	// call returns.
	if len(remaining) > 0 && f.l2 != nil {
		l2Hits, err := f.l2.GetMany(ctx, remaining)
		if err != nil {
			f.tracker.RecordTierUnavailable("l2")
			l2Hits = nil
		}
		stillRemaining := remaining[:0:0]
		for _, k := range remaining {
			v, ok := l2Hits[k]
			if !ok {
				stillRemaining = append(stillRemaining, k)
				continue
			}
			for _, r := range keysByKey[k] {
				f.tracker.RecordRequest("l2", r.def.Name, f.clock.Now().Sub(start))
				resp.Features[r.name] = FeatureResult{Value: withTier(v, fs.SourceL2)}
				telemetry.CacheHits++
				telemetry.SourcePerFeature[r.name] = string(fs.SourceL2)
			}
			if !l1Disabled && f.l1 != nil {
				ttl := f.effectiveTTL(keysByKey[k][0].def, req.Options, v.Absent)
				f.l1.Set(k, v, ttl)
			}
		}
		remaining = stillRemaining
	}

	for _, k := range remaining {
		telemetry.CacheMisses += len(keysByKey[k])
	}

	if len(remaining) == 0 {
		return finish(), nil
	}

	// Backpressure: fail fast rather than queue unboundedly many
	// concurrent computes, spec.md §5.
	if !f.reservePending(len(remaining)) {
		f.tracker.RecordOverloaded()
		if !req.Options.Partial {
			return GetFeaturesResponse{}, fs.ErrOverloaded
		}
		for _, k := range remaining {
			for _, r := range keysByKey[k] {
				resp.Features[r.name] = FeatureResult{Err: fs.ErrOverloaded}
			}
		}
		return finish(), nil
	}
	defer f.releasePending(len(remaining))

	for _, k := range remaining {
		def := keysByKey[k][0].def
		v, err := f.computeAndCache(ctx, k, def, req.Options)
		if err != nil {
			f.log.Warn().Err(err).Str("ticker", req.Ticker).Str("feature", def.Name).Msg("compute failed")
			if !req.Options.Partial {
				return GetFeaturesResponse{}, err
			}
			for _, r := range keysByKey[k] {
				resp.Features[r.name] = FeatureResult{Err: err}
			}
			continue
		}
		f.tracker.RecordRequest("computed", def.Name, f.clock.Now().Sub(start))
		for _, r := range keysByKey[k] {
			resp.Features[r.name] = FeatureResult{Value: v}
			telemetry.Computed++
			telemetry.SourcePerFeature[r.name] = string(v.SourceTier)
		}
	}

	return finish(), nil
}

// computeAndCache runs the singleflight-guarded compute for a single
// key and writes the result back to L2 then L1 (spec.md §4.7's
// ordering: durable tier first, so a crash between the two writes
// loses only an accelerator, never the source of truth).
func (f *Facade) computeAndCache(ctx context.Context, key fs.FeatureKey, def *fs.FeatureDefinition, opts Options) (fs.FeatureValue, error) {
	poll := func(pctx context.Context) (fs.FeatureValue, bool, error) {
		if f.l1 != nil {
			if v, ok := f.l1.Get([]fs.FeatureKey{key})[key]; ok {
				return v, true, nil
			}
		}
		if f.l2 != nil {
			hits, err := f.l2.GetMany(pctx, []fs.FeatureKey{key})
			if err != nil {
				return fs.FeatureValue{}, false, err
			}
			if v, ok := hits[key]; ok {
				return v, true, nil
			}
		}
		return fs.FeatureValue{}, false, nil
	}

	run := func() (fs.FeatureValue, error) {
		// Detached from the caller's ctx: a compute already under way
		// must finish regardless of who started it, see Coordinator.Do.
		bgCtx := context.Background()

		bars, err := f.rawData.FetchBars(bgCtx, key.Ticker, key.AsOf, def.WindowDays)
		if err != nil {
			if errors.Is(err, fs.ErrInsufficientData) {
				return f.cacheAbsent(bgCtx, key, def, opts, "insufficient_data")
			}
			return fs.FeatureValue{}, err
		}

		result, err := f.engine.Run(bgCtx, def, bars)
		if err != nil {
			if errors.Is(err, fs.ErrInsufficientData) {
				return f.cacheAbsent(bgCtx, key, def, opts, "insufficient_data")
			}
			return fs.FeatureValue{}, err
		}
		f.tracker.RecordCompute(def.Name, def.ComputeCostUSD)

		if result.Absent {
			reason, _ := result.Metadata["absent_reason"].(string)
			return f.cacheAbsent(bgCtx, key, def, opts, reason)
		}

		runID := uuid.New().String()
		if result.Metadata == nil {
			result.Metadata = map[string]interface{}{}
		}
		result.Metadata["compute_run_id"] = runID
		f.log.Debug().Str("compute_run_id", runID).Str("ticker", key.Ticker).Str("feature_name", key.FeatureName).Msg("computed feature value")

		value := fs.FeatureValue{
			Value:        result.Value,
			CalculatedAt: f.clock.Now(),
			SourceTier:   fs.SourceComputed,
			Metadata:     result.Metadata,
		}
		f.writeThrough(bgCtx, key, def, opts, value)
		return value, nil
	}

	return f.coordinator.Do(ctx, key.String(), run, poll)
}

func (f *Facade) cacheAbsent(ctx context.Context, key fs.FeatureKey, def *fs.FeatureDefinition, opts Options, reason string) (fs.FeatureValue, error) {
	value := fs.FeatureValue{
		Absent:       true,
		CalculatedAt: f.clock.Now(),
		SourceTier:   fs.SourceAbsent,
		Metadata:     map[string]interface{}{"absent_reason": reason},
	}
	f.writeThrough(ctx, key, def, opts, value)
	return value, nil
}

// writeThrough persists a freshly computed value to L2 then L1. If
// both tiers fail to take the write, the result is still returned to
// the caller uncached, spec.md §4.7's documented degraded mode.
func (f *Facade) writeThrough(ctx context.Context, key fs.FeatureKey, def *fs.FeatureDefinition, opts Options, value fs.FeatureValue) {
	l2Ok := false
	if f.l2 != nil {
		row := l2.Row{
			Ticker:       key.Ticker,
			FeatureName:  key.FeatureName,
			Value:        value.Value,
			Absent:       value.Absent,
			AsOf:         key.AsOf,
			CalculatedAt: value.CalculatedAt,
			Version:      key.Version,
			Metadata:     value.Metadata,
		}
		if err := f.l2.PutMany(ctx, []l2.Row{row}); err != nil {
			f.tracker.RecordTierUnavailable("l2")
		} else {
			l2Ok = true
		}
	}

	l1Disabled := opts.TTLOverride != nil && *opts.TTLOverride == 0
	l1Ok := false
	if !l1Disabled && f.l1 != nil {
		ttl := f.effectiveTTL(def, opts, value.Absent)
		f.l1.Set(key, value, ttl)
		if checker, ok := f.l1.(availabilityChecker); !ok || checker.Enabled() {
			l1Ok = true
		}
	}

	if !l1Ok && !l2Ok {
		f.tracker.RecordUncachedServed(def.Name)
	}
}

// effectiveTTL applies any per-call override, then the Absent-result
// TTL fraction from spec.md §4.5, then the definition's class default.
func (f *Facade) effectiveTTL(def *fs.FeatureDefinition, opts Options, absent bool) time.Duration {
	ttl := f.cfg.ttlFor(def.TTLClass)
	if opts.TTLOverride != nil && *opts.TTLOverride > 0 {
		ttl = *opts.TTLOverride
	}
	if absent {
		ttl = time.Duration(float64(ttl) * f.cfg.AbsentTTLFraction)
	}
	return ttl
}

func (f *Facade) reservePending(n int) bool {
	for {
		cur := atomic.LoadInt64(&f.pending)
		if cur+int64(n) > int64(f.cfg.PendingComputeMax) {
			return false
		}
		if atomic.CompareAndSwapInt64(&f.pending, cur, cur+int64(n)) {
			return true
		}
	}
}

func (f *Facade) releasePending(n int) {
	atomic.AddInt64(&f.pending, -int64(n))
}

func withTier(v fs.FeatureValue, tier fs.SourceTier) fs.FeatureValue {
	v.SourceTier = tier
	return v
}

// Warm proactively computes and caches features that aren't already
// hot, for the set of (ticker, feature_name) pairs a caller (e.g. the
// scheduler's opportunistic sweep) cares about. It reuses GetFeatures
// per ticker and discards the values, since the point is the cache
// side effect, not the response.
func (f *Facade) Warm(ctx context.Context, tickers []string, featureNames []string, asOf time.Time) error {
	for _, ticker := range tickers {
		if _, err := f.GetFeatures(ctx, GetFeaturesRequest{
			Ticker:       ticker,
			AsOf:         asOf,
			FeatureNames: featureNames,
			Options:      Options{Partial: true},
		}); err != nil {
			return fmt.Errorf("warm %s: %w", ticker, err)
		}
	}
	return nil
}

// Invalidate marks cached values for (ticker, feature_name) as stale
// in both tiers: every L1 entry for the pair is deleted outright,
// whatever its as_of (the [from, to] range is not applied to L1;
// entries are cheap to recompute or re-fetch), while only L2 rows with
// as_of within [from, to] are marked superseded so the next read
// recomputes them while the audit trail is preserved.
func (f *Facade) Invalidate(ctx context.Context, ticker, featureName string, from, to time.Time) error {
	if f.l1 != nil {
		f.l1.DeletePrefix(ticker, featureName)
	}
	if f.l2 != nil {
		if _, err := f.l2.Invalidate(ctx, ticker, featureName, from, to); err != nil {
			return fmt.Errorf("invalidate %s/%s: %w", ticker, featureName, err)
		}
	}
	return nil
}
