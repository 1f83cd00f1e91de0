package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_RecordRequestUpdatesHitRatio(t *testing.T) {
	sink := NewMemorySink()
	tr := New(sink)

	tr.RecordRequest("l1", "sma_20", time.Millisecond)
	tr.RecordRequest("l1", "sma_20", time.Millisecond)
	tr.RecordRequest("computed", "sma_20", time.Millisecond)

	assert.InDelta(t, 2.0/3.0, sink.Gauge("cache_hit_ratio"), 1e-9)
	assert.Equal(t, 3.0, sink.Counter("feature_requests_total,feature_name=sma_20,tier=l1")+sink.Counter("feature_requests_total,feature_name=sma_20,tier=computed"))
}

func TestTracker_RecordCompute(t *testing.T) {
	sink := NewMemorySink()
	tr := New(sink)

	tr.RecordCompute("rsi_14", 0.0002)
	tr.RecordCompute("rsi_14", 0.0002)

	assert.Equal(t, 2.0, sink.Counter("compute_runs_total,feature_name=rsi_14"))
	assert.InDelta(t, 0.0004, sink.Counter("estimated_cost_usd_total,feature_name=rsi_14"), 1e-12)
}

func TestTracker_RecordTierUnavailable(t *testing.T) {
	sink := NewMemorySink()
	tr := New(sink)

	tr.RecordTierUnavailable("l2")
	tr.RecordTierUnavailable("l2")

	assert.Equal(t, 2.0, sink.Counter("l2_unavailable"))
}

func TestMemorySink_Dump_IsSortedAndNonEmpty(t *testing.T) {
	sink := NewMemorySink()
	sink.CounterInc("b_counter", nil, 1)
	sink.CounterInc("a_counter", nil, 1)

	dump := sink.Dump()
	assert.Contains(t, dump, "a_counter")
	assert.Contains(t, dump, "b_counter")
	assert.Less(t, strings.Index(dump, "a_counter"), strings.Index(dump, "b_counter"))
}
