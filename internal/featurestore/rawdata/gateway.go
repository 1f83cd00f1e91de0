package rawdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

// Gateway wraps a Provider with the policies spec.md §4.2 requires:
// strict as-of cutoff, ascending-sorted deduplicated bars, exponential
// backoff retry (max 3 attempts) on Upstream failures, and no retry on
// InsufficientData.
type Gateway struct {
	provider Provider
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// Config configures the Gateway. MaxRequestsPerSecond caps the rate of
// calls made to the underlying Provider, protecting the origin the
// way warming/service.go's rate.Limiter protects its origin.
type Config struct {
	MaxRequestsPerSecond float64
}

// New creates a Gateway over provider.
func New(provider Provider, cfg Config, log zerolog.Logger) *Gateway {
	rps := cfg.MaxRequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	return &Gateway{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		log:      log.With().Str("component", "rawdata_gateway").Logger(),
	}
}

// FetchBars returns bars for ticker from asOf - (2*windowDays + 5)
// calendar days (padding for weekends and holidays) through asOf,
// strictly excluding any bar with t > asOf, sorted ascending and
// deduplicated by timestamp. It fails with ErrInsufficientData if
// fewer than windowDays bars remain after the cutoff (no retry), or
// with ErrUpstream after three exponential-backoff attempts against a
// transient provider failure.
func (g *Gateway) FetchBars(ctx context.Context, ticker string, asOf time.Time, windowDays int) ([]fs.Bar, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", fs.ErrDeadline, err)
	}

	start := asOf.AddDate(0, 0, -windowDays*2-5) // pad for weekends/holidays
	var bars []fs.Bar

	operation := func() error {
		fetched, err := g.provider.FetchBars(ctx, ticker, start, asOf)
		if err != nil {
			if pe, ok := err.(*ProviderError); ok {
				switch pe.Kind {
				case "unknown_ticker":
					return backoff.Permanent(fmt.Errorf("%w: %s", fs.ErrUnknownTicker, ticker))
				case "insufficient_data":
					return backoff.Permanent(fmt.Errorf("%w: %s", fs.ErrInsufficientData, ticker))
				}
			}
			// Treat anything else, including unclassified errors, as
			// transient upstream trouble and let backoff retry it.
			return fmt.Errorf("%w: %v", fs.ErrUpstream, err)
		}
		bars = fetched
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2) // 3 total attempts
	bo = backoff.WithContext(bo, ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		g.log.Warn().Err(err).Str("ticker", ticker).Msg("raw data fetch failed")
		return nil, err
	}

	bars = filterSortDedup(bars, asOf)
	if len(bars) < windowDays {
		return nil, fmt.Errorf("%w: %s: got %d bars, need %d", fs.ErrInsufficientData, ticker, len(bars), windowDays)
	}
	return bars, nil
}

// filterSortDedup enforces the as-of cutoff and returns bars sorted
// ascending by timestamp with duplicate timestamps collapsed (last
// write wins), matching spec.md §4.2 and §6.
func filterSortDedup(bars []fs.Bar, asOf time.Time) []fs.Bar {
	byTime := make(map[int64]fs.Bar, len(bars))
	for _, b := range bars {
		if b.T.After(asOf) {
			continue
		}
		byTime[b.T.Unix()] = b
	}
	out := make([]fs.Bar, 0, len(byTime))
	for _, b := range byTime {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].T.Before(out[j].T) })
	return out
}
