package compute

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

func makeBars(closes []float64) []fs.Bar {
	bars := make([]fs.Bar, len(closes))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = fs.Bar{T: base.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return bars
}

func TestReturn_SimplePercentage(t *testing.T) {
	bars := makeBars([]float64{100, 101, 102, 103, 104, 110})
	result, err := Return(bars, 5)
	require.NoError(t, err)
	assert.False(t, result.Absent)
	assert.InDelta(t, 0.10, result.Value, 1e-9)
}

func TestReturn_InsufficientData(t *testing.T) {
	bars := makeBars([]float64{100, 101})
	_, err := Return(bars, 5)
	assert.ErrorIs(t, err, fs.ErrInsufficientData)
}

func TestReturn_ZeroBasePrice(t *testing.T) {
	bars := makeBars([]float64{0, 101, 102, 103, 104, 110})
	result, err := Return(bars, 5)
	require.NoError(t, err)
	assert.True(t, result.Absent)
	assert.Equal(t, "zero_base_price", result.Metadata["absent_reason"])
}

func TestSMA_MatchesManualAverage(t *testing.T) {
	bars := makeBars([]float64{10, 20, 30, 40, 50})
	result, err := SMA(bars, 5)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, result.Value, 1e-9)
}

func TestSMA_InsufficientData(t *testing.T) {
	bars := makeBars([]float64{10, 20})
	_, err := SMA(bars, 5)
	assert.ErrorIs(t, err, fs.ErrInsufficientData)
}

func TestRSI_BoundedZeroToHundred(t *testing.T) {
	closes := make([]float64, 30)
	price := 100.0
	for i := range closes {
		if i%2 == 0 {
			price += 1
		} else {
			price -= 0.5
		}
		closes[i] = price
	}
	bars := makeBars(closes)
	result, err := RSI(bars, 14)
	require.NoError(t, err)
	assert.False(t, result.Absent)
	assert.GreaterOrEqual(t, result.Value, 0.0)
	assert.LessOrEqual(t, result.Value, 100.0)
}

func TestEMA_InsufficientData(t *testing.T) {
	bars := makeBars([]float64{10, 20})
	_, err := EMA(bars, 12)
	assert.ErrorIs(t, err, fs.ErrInsufficientData)
}

func TestVolatility_ConstantPricesIsZero(t *testing.T) {
	closes := make([]float64, 21)
	for i := range closes {
		closes[i] = 100
	}
	bars := makeBars(closes)
	result, err := Volatility(bars, 20)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, result.Value, 1e-9)
}

func TestVolatility_InsufficientData(t *testing.T) {
	bars := makeBars([]float64{100, 101})
	_, err := Volatility(bars, 20)
	assert.ErrorIs(t, err, fs.ErrInsufficientData)
}

func TestSharpeLike_PositiveDriftIsPositive(t *testing.T) {
	closes := make([]float64, 21)
	price := 100.0
	for i := range closes {
		price *= 1.01
		closes[i] = price
	}
	bars := makeBars(closes)
	result, err := SharpeLike(bars, 20)
	require.NoError(t, err)
	assert.False(t, result.Absent)
	assert.Greater(t, result.Value, 0.0)
}

func TestSharpeLike_ZeroVolatilityIsAbsent(t *testing.T) {
	closes := make([]float64, 21)
	for i := range closes {
		closes[i] = 100
	}
	bars := makeBars(closes)
	result, err := SharpeLike(bars, 20)
	require.NoError(t, err)
	assert.True(t, result.Absent)
	assert.Equal(t, "zero_volatility", result.Metadata["absent_reason"])
}

func TestSharpeLike_InsufficientData(t *testing.T) {
	bars := makeBars([]float64{100, 101})
	_, err := SharpeLike(bars, 20)
	assert.ErrorIs(t, err, fs.ErrInsufficientData)
}
