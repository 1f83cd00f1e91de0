// Package rawdata implements the Raw Data Gateway (C2): it fetches
// OHLCV bars for a ticker over a window and applies the as-of cutoff
// strictly. No bar with timestamp > as_of may ever leave this
// package — that invariant is what prevents look-ahead bias, the
// single most important property of the whole feature store.
package rawdata

import (
	"context"
	"time"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

// Provider is the external collaborator this package consumes
// (spec.md §1, §6): a raw-data API offering OHLCV bars for a ticker
// over a date range. Implementations are not required to pre-sort,
// dedupe, or apply an as-of cutoff — the Gateway does all three.
type Provider interface {
	FetchBars(ctx context.Context, ticker string, start, end time.Time) ([]fs.Bar, error)
}

// ProviderError classifies a Provider failure per spec.md §4.2.
type ProviderError struct {
	Kind string // "insufficient_data", "unknown_ticker", "upstream"
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return "rawdata: " + e.Kind
	}
	return "rawdata: " + e.Kind + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }
