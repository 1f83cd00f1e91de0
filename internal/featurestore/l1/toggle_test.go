package l1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

func TestToggleableStore_DisabledReportsAllMisses(t *testing.T) {
	clock := fs.NewFixedClock(time.Now())
	inner := New(10, clock, 0)
	s := NewToggleableStore(inner)
	k := key("AAPL", "sma_20")

	s.Set(k, fs.FeatureValue{Value: 1}, time.Minute)
	assert.True(t, s.Enabled())
	_, ok := s.Get([]fs.FeatureKey{k})[k]
	assert.True(t, ok)

	s.SetEnabled(false)
	_, ok = s.Get([]fs.FeatureKey{k})[k]
	assert.False(t, ok)

	s.Set(k, fs.FeatureValue{Value: 2}, time.Minute) // no-op while disabled
	s.SetEnabled(true)
	v, ok := s.Get([]fs.FeatureKey{k})[k]
	assert.True(t, ok)
	assert.Equal(t, 1.0, v.Value, "write while disabled must not have taken effect")
}
