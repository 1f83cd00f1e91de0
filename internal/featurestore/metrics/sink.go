// Package metrics implements the Metrics & Cost Tracker (C8): counters
// and histograms tagged by feature_name and tier, per spec.md §4.8
// and §6. No metric carries a ticker label.
package metrics

import "time"

// Sink is the external collaborator this package consumes (spec.md
// §1, §6): counter_inc, histogram_observe, gauge_set. Must be safe
// under concurrent updates.
type Sink interface {
	CounterInc(name string, labels map[string]string, amount float64)
	HistogramObserve(name string, labels map[string]string, value float64)
	GaugeSet(name string, labels map[string]string, value float64)
}

// NopSink discards every update; useful when metrics aren't wired.
type NopSink struct{}

func (NopSink) CounterInc(string, map[string]string, float64)      {}
func (NopSink) HistogramObserve(string, map[string]string, float64) {}
func (NopSink) GaugeSet(string, map[string]string, float64)        {}

// durationSeconds is a small helper so callers can pass a
// time.Duration straight into HistogramObserve.
func durationSeconds(d time.Duration) float64 { return d.Seconds() }
