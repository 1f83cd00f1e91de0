package l1

import (
	"sync/atomic"
	"time"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

// ToggleableStore wraps a Store and lets tests/ops simulate the L1
// "unreachable" failure mode from spec.md §4.3: while disabled, Get
// always reports every key as a miss and Set/Delete are no-ops, the
// same observable behavior as a real network partition to the cache
// tier. Recovery is automatic the instant it's re-enabled.
type ToggleableStore struct {
	inner   Store
	enabled atomic.Bool
}

// NewToggleableStore wraps inner, starting enabled.
func NewToggleableStore(inner Store) *ToggleableStore {
	s := &ToggleableStore{inner: inner}
	s.enabled.Store(true)
	return s
}

// SetEnabled flips reachability. Disabling models an outage.
func (s *ToggleableStore) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// Enabled reports current reachability.
func (s *ToggleableStore) Enabled() bool { return s.enabled.Load() }

func (s *ToggleableStore) Get(keys []fs.FeatureKey) map[fs.FeatureKey]fs.FeatureValue {
	if !s.enabled.Load() {
		return map[fs.FeatureKey]fs.FeatureValue{}
	}
	return s.inner.Get(keys)
}

func (s *ToggleableStore) Set(key fs.FeatureKey, value fs.FeatureValue, ttl time.Duration) {
	if !s.enabled.Load() {
		return
	}
	s.inner.Set(key, value, ttl)
}

func (s *ToggleableStore) Delete(key fs.FeatureKey) {
	if !s.enabled.Load() {
		return
	}
	s.inner.Delete(key)
}

func (s *ToggleableStore) DeletePrefix(ticker, featureName string) {
	if !s.enabled.Load() {
		return
	}
	s.inner.DeletePrefix(ticker, featureName)
}
