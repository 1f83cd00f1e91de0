package metrics

import (
	"sync/atomic"
	"time"
)

// Tracker is the typed façade over Sink: it knows the metric names and
// label shapes spec.md §4.8 requires, so call sites write
// tracker.RecordRequest(...) instead of re-deriving label maps everywhere.
type Tracker struct {
	sink Sink

	hits   int64
	misses int64
}

// New creates a Tracker over sink.
func New(sink Sink) *Tracker {
	if sink == nil {
		sink = NopSink{}
	}
	return &Tracker{sink: sink}
}

// RecordRequest emits feature_requests_total{tier,feature_name} and
// feature_latency_seconds{tier}, and updates the rolling hit ratio.
func (t *Tracker) RecordRequest(tier string, featureName string, latency time.Duration) {
	labels := map[string]string{"tier": tier, "feature_name": featureName}
	t.sink.CounterInc("feature_requests_total", labels, 1)
	t.sink.HistogramObserve("feature_latency_seconds", map[string]string{"tier": tier}, latency.Seconds())

	if tier == "l1" || tier == "l2" {
		atomic.AddInt64(&t.hits, 1)
	} else {
		atomic.AddInt64(&t.misses, 1)
	}
	t.updateHitRatio()
}

func (t *Tracker) updateHitRatio() {
	hits := atomic.LoadInt64(&t.hits)
	misses := atomic.LoadInt64(&t.misses)
	total := hits + misses
	if total == 0 {
		return
	}
	t.sink.GaugeSet("cache_hit_ratio", nil, float64(hits)/float64(total))
}

// RecordCompute emits compute_runs_total{feature_name} and
// estimated_cost_usd_total, the accounting figure from spec.md §4.8
// (off-by-one tolerable, it's not a billing primitive).
func (t *Tracker) RecordCompute(featureName string, costUSD float64) {
	t.sink.CounterInc("compute_runs_total", map[string]string{"feature_name": featureName}, 1)
	if costUSD > 0 {
		t.sink.CounterInc("estimated_cost_usd_total", map[string]string{"feature_name": featureName}, costUSD)
	}
}

// RecordTierUnavailable increments the l1_unavailable / l2_unavailable
// counters described in spec.md §4.3/§4.4.
func (t *Tracker) RecordTierUnavailable(tier string) {
	t.sink.CounterInc(tier+"_unavailable", nil, 1)
}

// RecordUncachedServed increments the uncached_served counter from
// spec.md §4.7 (both tiers unreachable, compute still served).
func (t *Tracker) RecordUncachedServed(featureName string) {
	t.sink.CounterInc("uncached_served", map[string]string{"feature_name": featureName}, 1)
}

// RecordRetryBufferDrop increments the L2 retry-buffer overflow
// counter from spec.md §4.4.
func (t *Tracker) RecordRetryBufferDrop() {
	t.sink.CounterInc("l2_retry_buffer_drops", nil, 1)
}

// RecordOverloaded increments the Overloaded-rejection counter from
// spec.md §5's backpressure policy.
func (t *Tracker) RecordOverloaded() {
	t.sink.CounterInc("overloaded_rejections", nil, 1)
}

// Sink exposes the underlying sink, e.g. so the HTTP surface can dump
// a MemorySink's contents.
func (t *Tracker) Sink() Sink { return t.sink }
