package featurestore

import (
	"github.com/aristath/featurestore/internal/featurestore/compute"
	fs "github.com/aristath/featurestore/internal/fstypes"
)

// StandardDefinitions is the explicit, first-class table of feature
// definitions this service ships with. Per the Design Notes' "Dynamic
// wiring of compute functions" guidance, compute functions are
// supplied here as function values, never resolved by string lookup
// at request time — this table is the only place a name is turned
// into a function.
func StandardDefinitions() []fs.FeatureDefinition {
	return []fs.FeatureDefinition{
		{
			Name:            "ret_5d",
			Version:         1,
			TTLClass:        fs.TTLDaily,
			WindowDays:      5,
			Compute:         compute.Return,
			RawDependencies: []string{"close"},
			Description:     "5-day simple return on close price",
			ComputeCostUSD:  0.0001,
		},
		{
			Name:            "ret_20d",
			Version:         1,
			TTLClass:        fs.TTLDaily,
			WindowDays:      20,
			Compute:         compute.Return,
			RawDependencies: []string{"close"},
			Description:     "20-day simple return on close price",
			ComputeCostUSD:  0.0001,
		},
		{
			Name:            "ret_60d",
			Version:         1,
			TTLClass:        fs.TTLDaily,
			WindowDays:      60,
			Compute:         compute.Return,
			RawDependencies: []string{"close"},
			Description:     "60-day simple return on close price",
			ComputeCostUSD:  0.0001,
		},
		{
			Name:            "rsi_14",
			Version:         1,
			TTLClass:        fs.TTLDaily,
			WindowDays:      14,
			Compute:         compute.RSI,
			RawDependencies: []string{"close"},
			Description:     "14-day Relative Strength Index",
			ComputeCostUSD:  0.0002,
		},
		{
			Name:            "sma_20",
			Version:         1,
			TTLClass:        fs.TTLDaily,
			WindowDays:      20,
			Compute:         compute.SMA,
			RawDependencies: []string{"close"},
			Description:     "20-day simple moving average of close",
			ComputeCostUSD:  0.0001,
		},
		{
			Name:            "ema_12",
			Version:         1,
			TTLClass:        fs.TTLIntraday,
			WindowDays:      12,
			Compute:         compute.EMA,
			RawDependencies: []string{"close"},
			Description:     "12-period exponential moving average of close, intraday refresh",
			ComputeCostUSD:  0.0001,
		},
		{
			Name:            "volatility_20d",
			Version:         1,
			TTLClass:        fs.TTLDaily,
			WindowDays:      20,
			Compute:         compute.Volatility,
			RawDependencies: []string{"close"},
			Description:     "20-day standard deviation of daily simple returns",
			ComputeCostUSD:  0.0003,
		},
		{
			Name:            "sma_200",
			Version:         1,
			TTLClass:        fs.TTLStatic,
			WindowDays:      200,
			Compute:         compute.SMA,
			RawDependencies: []string{"close"},
			Description:     "200-day simple moving average of close; rarely changes class",
			ComputeCostUSD:  0.0001,
		},
		{
			Name:            "sharpe_like",
			Version:         1,
			TTLClass:        fs.TTLDaily,
			WindowDays:      20,
			Compute:         compute.SharpeLike,
			RawDependencies: []string{"close"},
			Description:     "20-day mean/stddev of daily returns, risk-free rate held at zero",
			ComputeCostUSD:  0.0003,
		},
	}
}

// NewStandardRegistry builds and seals a Registry from
// StandardDefinitions. Returns an error if any registration fails,
// which would only happen from a programming mistake (duplicate name
// and version in the table above).
func NewStandardRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, def := range StandardDefinitions() {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	r.Seal()
	return r, nil
}
