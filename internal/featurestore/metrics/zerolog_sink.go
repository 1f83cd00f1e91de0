package metrics

import "github.com/rs/zerolog"

// ZerologSink logs every metric update at debug level, the way the
// teacher repo logs everything it can't ship to a real metrics
// backend on an embedded device. It's a reasonable choice for local
// dev; it keeps nothing in memory, so the HTTP surface's /metrics dump
// (which reads a MemorySink) has nothing to show from it. A production
// deployment would swap in a Prometheus or StatsD sink behind the
// same Sink interface.
type ZerologSink struct {
	log zerolog.Logger
}

// NewZerologSink creates a ZerologSink.
func NewZerologSink(log zerolog.Logger) *ZerologSink {
	return &ZerologSink{log: log.With().Str("component", "metrics").Logger()}
}

func (s *ZerologSink) CounterInc(name string, labels map[string]string, amount float64) {
	e := s.log.Debug().Str("metric", name).Float64("amount", amount)
	for k, v := range labels {
		e = e.Str(k, v)
	}
	e.Msg("counter_inc")
}

func (s *ZerologSink) HistogramObserve(name string, labels map[string]string, value float64) {
	e := s.log.Debug().Str("metric", name).Float64("value", value)
	for k, v := range labels {
		e = e.Str(k, v)
	}
	e.Msg("histogram_observe")
}

func (s *ZerologSink) GaugeSet(name string, labels map[string]string, value float64) {
	e := s.log.Debug().Str("metric", name).Float64("value", value)
	for k, v := range labels {
		e = e.Str(k, v)
	}
	e.Msg("gauge_set")
}
