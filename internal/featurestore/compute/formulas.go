// Package compute holds the pure compute functions feature definitions
// register, plus the worker pool that runs them (C5 in the feature
// store design). Compute functions never touch the clock, I/O, or any
// state beyond the bars they're given: determinism requires equal
// inputs to yield bit-for-bit equal outputs across runs and workers.
package compute

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

// closes extracts closing prices from bars, oldest first.
func closes(bars []fs.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Return computes the simple return over windowDays bars: the
// percentage change from the oldest bar in the window to the most
// recent (as-of) close. Faithful to the teacher's
// trader-go/pkg/formulas style of translating a well-known indicator
// into a small pure function over a price slice.
func Return(bars []fs.Bar, windowDays int) (fs.ComputeResult, error) {
	if len(bars) < windowDays+1 {
		return fs.ComputeResult{}, fs.ErrInsufficientData
	}
	window := bars[len(bars)-(windowDays+1):]
	start := window[0].Close
	end := window[len(window)-1].Close
	if start == 0 {
		return fs.Absent("zero_base_price"), nil
	}
	ret := (end - start) / start
	if math.IsNaN(ret) || math.IsInf(ret, 0) {
		return fs.Absent("non_finite_result"), nil
	}
	return fs.ComputeResult{
		Value: ret,
		Metadata: map[string]interface{}{
			"window_days": windowDays,
			"bars_used":   len(window),
		},
	}, nil
}

// RSI computes the Relative Strength Index over windowDays using
// go-talib, mirroring trader-go/pkg/formulas/rsi.go's translation.
func RSI(bars []fs.Bar, windowDays int) (fs.ComputeResult, error) {
	if len(bars) < windowDays+1 {
		return fs.ComputeResult{}, fs.ErrInsufficientData
	}
	c := closes(bars)
	rsi := talib.Rsi(c, windowDays)
	if len(rsi) == 0 {
		return fs.Absent("talib_empty_result"), nil
	}
	last := rsi[len(rsi)-1]
	if math.IsNaN(last) {
		return fs.Absent("talib_nan_result"), nil
	}
	return fs.ComputeResult{
		Value:    last,
		Metadata: map[string]interface{}{"window_days": windowDays, "bars_used": len(bars)},
	}, nil
}

// SMA computes the simple moving average of closes over windowDays.
func SMA(bars []fs.Bar, windowDays int) (fs.ComputeResult, error) {
	if len(bars) < windowDays {
		return fs.ComputeResult{}, fs.ErrInsufficientData
	}
	c := closes(bars)
	sma := talib.Sma(c, windowDays)
	if len(sma) == 0 {
		return fs.Absent("talib_empty_result"), nil
	}
	last := sma[len(sma)-1]
	if math.IsNaN(last) {
		return fs.Absent("talib_nan_result"), nil
	}
	return fs.ComputeResult{
		Value:    last,
		Metadata: map[string]interface{}{"window_days": windowDays, "bars_used": len(bars)},
	}, nil
}

// EMA computes the exponential moving average of closes over windowDays.
func EMA(bars []fs.Bar, windowDays int) (fs.ComputeResult, error) {
	if len(bars) < windowDays {
		return fs.ComputeResult{}, fs.ErrInsufficientData
	}
	c := closes(bars)
	ema := talib.Ema(c, windowDays)
	if len(ema) == 0 {
		return fs.Absent("talib_empty_result"), nil
	}
	last := ema[len(ema)-1]
	if math.IsNaN(last) {
		return fs.Absent("talib_nan_result"), nil
	}
	return fs.ComputeResult{
		Value:    last,
		Metadata: map[string]interface{}{"window_days": windowDays, "bars_used": len(bars)},
	}, nil
}

// Volatility computes the standard deviation of daily simple returns
// over windowDays, via gonum/stat, the way
// modules/optimization/risk.go derives volatility for the optimizer.
func Volatility(bars []fs.Bar, windowDays int) (fs.ComputeResult, error) {
	if len(bars) < windowDays+1 {
		return fs.ComputeResult{}, fs.ErrInsufficientData
	}
	window := bars[len(bars)-(windowDays+1):]
	rets := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		prev := window[i-1].Close
		if prev == 0 {
			continue
		}
		rets = append(rets, (window[i].Close-prev)/prev)
	}
	if len(rets) < 2 {
		return fs.Absent("insufficient_returns"), nil
	}
	sd := stat.StdDev(rets, nil)
	if math.IsNaN(sd) {
		return fs.Absent("non_finite_result"), nil
	}
	return fs.ComputeResult{
		Value:    sd,
		Metadata: map[string]interface{}{"window_days": windowDays, "returns_used": len(rets)},
	}, nil
}

// SharpeLike computes mean(daily returns) / stddev(daily returns) over
// windowDays, the teacher's max_sharpe objective
// ((mu'w - r_f) / sqrt(w'Sigma w), modules/optimization/mv_optimizer.go)
// reduced to a single series with the risk-free rate held at zero.
func SharpeLike(bars []fs.Bar, windowDays int) (fs.ComputeResult, error) {
	if len(bars) < windowDays+1 {
		return fs.ComputeResult{}, fs.ErrInsufficientData
	}
	window := bars[len(bars)-(windowDays+1):]
	rets := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		prev := window[i-1].Close
		if prev == 0 {
			continue
		}
		rets = append(rets, (window[i].Close-prev)/prev)
	}
	if len(rets) < 2 {
		return fs.Absent("insufficient_returns"), nil
	}
	mean := stat.Mean(rets, nil)
	sd := stat.StdDev(rets, nil)
	if sd == 0 {
		return fs.Absent("zero_volatility"), nil
	}
	sharpe := mean / sd
	if math.IsNaN(sharpe) || math.IsInf(sharpe, 0) {
		return fs.Absent("non_finite_result"), nil
	}
	return fs.ComputeResult{
		Value:    sharpe,
		Metadata: map[string]interface{}{"window_days": windowDays, "returns_used": len(rets)},
	}, nil
}
