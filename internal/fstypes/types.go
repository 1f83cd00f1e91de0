// Package fstypes holds the shared value types, sentinel errors, and
// Clock abstraction used across the feature store packages (registry,
// compute, l1, l2, rawdata, singleflight, metrics, facade). Keeping
// them in a leaf package avoids import cycles between those packages.
package fstypes

import (
	"fmt"
	"time"
)

// TTLClass buckets features by refresh cadence, which drives both the
// as-of normalization granularity and the default L1 TTL.
type TTLClass string

const (
	TTLIntraday TTLClass = "intraday"
	TTLDaily    TTLClass = "daily"
	TTLStatic   TTLClass = "static"
)

// SourceTier records which tier ultimately produced a FeatureValue.
// It never participates in cache-key equality.
type SourceTier string

const (
	SourceL1       SourceTier = "l1"
	SourceL2       SourceTier = "l2"
	SourceComputed SourceTier = "computed"
	SourceAbsent   SourceTier = "absent"
)

// FeatureKey is the identity of a cached value. Equality uses the
// normalized AsOf, not whatever precision the caller happened to pass
// in: two requests differing only below the normalization unit must
// resolve to the same cache entry.
type FeatureKey struct {
	Ticker      string
	FeatureName string
	AsOf        time.Time
	Version     int
}

// NormalizeAsOf truncates AsOf to the unit appropriate for the given
// TTL class: day boundary for daily/static, minute boundary for
// intraday. Must be called before a FeatureKey is used for lookup,
// storage, or equality.
func NormalizeAsOf(asOf time.Time, class TTLClass) time.Time {
	asOf = asOf.UTC()
	switch class {
	case TTLIntraday:
		return asOf.Truncate(time.Minute)
	default: // daily, static
		return time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// String renders the stable L1 key encoding from spec.md §6:
// feature:{TICKER}:{feature_name}:{YYYY-MM-DD or YYYY-MM-DDTHH:MM}:{version}
func (k FeatureKey) String() string {
	layout := "2006-01-02"
	if k.AsOf.Hour() != 0 || k.AsOf.Minute() != 0 || k.AsOf.Second() != 0 {
		layout = "2006-01-02T15:04"
	}
	return fmt.Sprintf("feature:%s:%s:%s:%d", k.Ticker, k.FeatureName, k.AsOf.Format(layout), k.Version)
}

// FeatureValue is a cached scalar result. Absent is a first-class
// result state distinct from both 0.0 and an error.
type FeatureValue struct {
	Value        float64
	Absent       bool
	CalculatedAt time.Time
	SourceTier   SourceTier
	Metadata     map[string]interface{}
}

// Bar is a single OHLCV observation.
type Bar struct {
	T      time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// FeatureDefinition is registered ahead of time and immutable once
// registered. A behavior change requires a new Version; old versions
// stay queryable in L2 until an external retention policy purges them
// (not part of this core).
type FeatureDefinition struct {
	Name            string
	Version         int
	TTLClass        TTLClass
	WindowDays      int
	Compute         ComputeFunc
	RawDependencies []string // OHLCV fields the compute function reads, e.g. "close", "volume"
	Description     string
	ComputeCostUSD  float64 // accounting constant, see spec.md §4.8
}

// ComputeResult is the explicit sum-type result of a compute function:
// either a value, or an Absent marker, never an exception.
type ComputeResult struct {
	Value    float64
	Absent   bool
	Metadata map[string]interface{}
}

// ComputeFunc is a pure function of sorted bars strictly <= as-of. It
// must not touch any other state, clock, or I/O: determinism requires
// equal inputs to yield bit-for-bit equal outputs across runs and
// workers.
type ComputeFunc func(bars []Bar, windowDays int) (ComputeResult, error)

// Absent constructs an Absent ComputeResult, optionally recording why.
func Absent(reason string) ComputeResult {
	md := map[string]interface{}{}
	if reason != "" {
		md["absent_reason"] = reason
	}
	return ComputeResult{Absent: true, Metadata: md}
}
