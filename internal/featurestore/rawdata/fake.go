package rawdata

import (
	"context"
	"sync"
	"time"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

// FakeProvider is an in-memory Provider used by tests and the
// scenarios table in spec.md §8. It never touches the network and
// records how many times it was called per ticker, so tests can
// assert singleflight dedup and retry behavior.
type FakeProvider struct {
	mu        sync.Mutex
	bars      map[string][]fs.Bar // ticker -> all known bars, any order
	calls     map[string]int
	failCount map[string]int // remaining induced Upstream failures per ticker
	unknown   map[string]bool
}

// NewFakeProvider creates an empty FakeProvider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		bars:      make(map[string][]fs.Bar),
		calls:     make(map[string]int),
		failCount: make(map[string]int),
		unknown:   make(map[string]bool),
	}
}

// SetBars replaces the known bars for ticker.
func (p *FakeProvider) SetBars(ticker string, bars []fs.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars[ticker] = bars
}

// FailNextN makes the next n FetchBars calls for ticker return a
// transient (Upstream-classified) error.
func (p *FakeProvider) FailNextN(ticker string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCount[ticker] = n
}

// MarkUnknown makes ticker always return an unknown-ticker error.
func (p *FakeProvider) MarkUnknown(ticker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unknown[ticker] = true
}

// CallCount returns how many times FetchBars was invoked for ticker.
func (p *FakeProvider) CallCount(ticker string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[ticker]
}

func (p *FakeProvider) FetchBars(ctx context.Context, ticker string, start, end time.Time) ([]fs.Bar, error) {
	p.mu.Lock()
	p.calls[ticker]++
	if p.unknown[ticker] {
		p.mu.Unlock()
		return nil, &ProviderError{Kind: "unknown_ticker"}
	}
	if p.failCount[ticker] > 0 {
		p.failCount[ticker]--
		p.mu.Unlock()
		return nil, &ProviderError{Kind: "upstream"}
	}
	all := p.bars[ticker]
	p.mu.Unlock()

	out := make([]fs.Bar, 0, len(all))
	for _, b := range all {
		if !b.T.Before(start) && !b.T.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}
