package metrics

import (
	"fmt"
	"sort"
	"sync"
)

// MemorySink accumulates metric updates in memory: counters sum,
// histograms keep every observation (fine at test/demo scale),
// gauges hold the latest value. Used by tests asserting on emitted
// metrics and by the HTTP surface's plain-text /metrics dump.
type MemorySink struct {
	mu          sync.Mutex
	counters    map[string]float64
	histograms  map[string][]float64
	gauges      map[string]float64
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		counters:   make(map[string]float64),
		histograms: make(map[string][]float64),
		gauges:     make(map[string]float64),
	}
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := name
	for _, k := range keys {
		key += fmt.Sprintf(",%s=%s", k, labels[k])
	}
	return key
}

func (s *MemorySink) CounterInc(name string, labels map[string]string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[metricKey(name, labels)] += amount
}

func (s *MemorySink) HistogramObserve(name string, labels map[string]string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := metricKey(name, labels)
	s.histograms[k] = append(s.histograms[k], value)
}

func (s *MemorySink) GaugeSet(name string, labels map[string]string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[metricKey(name, labels)] = value
}

// Counter returns the current total for a counter key (name plus
// sorted "k=v" label suffixes), 0 if never observed.
func (s *MemorySink) Counter(key string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key]
}

// Observations returns every recorded value for a histogram key.
func (s *MemorySink) Observations(key string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.histograms[key]))
	copy(out, s.histograms[key])
	return out
}

// Gauge returns the latest value set for a gauge key.
func (s *MemorySink) Gauge(key string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gauges[key]
}

// Dump renders every metric as plain text, sorted by key, for the
// HTTP surface's /metrics endpoint.
func (s *MemorySink) Dump() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k := range s.counters {
		keys = append(keys, "counter:"+k)
	}
	for k := range s.gauges {
		keys = append(keys, "gauge:"+k)
	}
	for k := range s.histograms {
		keys = append(keys, "histogram:"+k)
	}
	sort.Strings(keys)

	out := ""
	for _, k := range keys {
		switch {
		case len(k) > 8 && k[:8] == "counter:":
			out += fmt.Sprintf("%s %g\n", k[8:], s.counters[k[8:]])
		case len(k) > 6 && k[:6] == "gauge:":
			out += fmt.Sprintf("%s %g\n", k[6:], s.gauges[k[6:]])
		case len(k) > 10 && k[:10] == "histogram:":
			name := k[10:]
			obs := s.histograms[name]
			sum := 0.0
			for _, v := range obs {
				sum += v
			}
			out += fmt.Sprintf("%s count=%d sum=%g\n", name, len(obs), sum)
		}
	}
	return out
}
