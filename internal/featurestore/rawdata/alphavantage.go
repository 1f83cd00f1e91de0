package rawdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

// ErrRateLimitExceeded is returned once AlphaVantageClient's daily
// request budget is spent, mirroring the teacher's
// clients/alphavantage client (client_test.go's TestRateLimiting
// asserts exactly this error type; the implementation it tested was
// lost upstream, so this rebuilds the contract the test pins down).
type ErrRateLimitExceeded struct{}

func (ErrRateLimitExceeded) Error() string {
	return "alphavantage: daily rate limit exceeded"
}

type cacheEntry struct {
	bars      []fs.Bar
	expiresAt time.Time
}

// AlphaVantageClient is a thin Alpha Vantage TIME_SERIES_DAILY client
// implementing Provider: the out-of-process example a real
// market-data vendor integration would follow, per SPEC_FULL.md's C2
// section. It is not wired into the default binary wiring (the
// FakeProvider is), but is selected by cmd/server/main.go when an API
// key is configured. The free tier caps requests per day, so this
// client tracks that budget and caches parsed responses to avoid
// spending it on repeat lookups within a session.
type AlphaVantageClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	mu                sync.Mutex
	requestsToday     int
	maxRequestsPerDay int
	lastReset         time.Time
	cache             map[string]cacheEntry
}

// NewAlphaVantageClient creates a client against the real Alpha
// Vantage API, with the free tier's default daily budget of 25
// requests.
func NewAlphaVantageClient(apiKey string, log zerolog.Logger) *AlphaVantageClient {
	return &AlphaVantageClient{
		apiKey:            apiKey,
		baseURL:           "https://www.alphavantage.co/query",
		httpClient:        &http.Client{Timeout: 10 * time.Second},
		log:               log.With().Str("component", "alphavantage_client").Logger(),
		maxRequestsPerDay: 25,
		lastReset:         time.Now(),
		cache:             make(map[string]cacheEntry),
	}
}

// GetRemainingRequests reports how many requests remain in today's budget.
func (c *AlphaVantageClient) GetRemainingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfNewDayLocked()
	return c.maxRequestsPerDay - c.requestsToday
}

// ResetDailyCounter clears the daily request count.
func (c *AlphaVantageClient) ResetDailyCounter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsToday = 0
	c.lastReset = time.Now()
}

func (c *AlphaVantageClient) resetIfNewDayLocked() {
	if time.Since(c.lastReset) >= 24*time.Hour {
		c.requestsToday = 0
		c.lastReset = time.Now()
	}
}

func (c *AlphaVantageClient) checkRateLimit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfNewDayLocked()
	if c.requestsToday >= c.maxRequestsPerDay {
		return ErrRateLimitExceeded{}
	}
	c.requestsToday++
	return nil
}

func (c *AlphaVantageClient) setCache(key string, bars []fs.Bar, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{bars: bars, expiresAt: time.Now().Add(ttl)}
}

func (c *AlphaVantageClient) getFromCache(key string) ([]fs.Bar, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.bars, true
}

// ClearCache drops every cached response.
func (c *AlphaVantageClient) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cacheEntry)
}

// buildCacheKey derives a stable cache key from function+params,
// excluding "apikey" so the secret never ends up as part of a cache
// key logged or inspected elsewhere.
func buildCacheKey(function string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "apikey" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(function)
	for _, k := range keys {
		b.WriteByte(':')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// parseFloat64 tolerates the sentinel strings Alpha Vantage's JSON
// payloads use for missing numbers ("None", "null", "-", "") and the
// trailing "%" some fields carry, returning 0 rather than erroring.
func parseFloat64(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	switch s {
	case "", "None", "null", "-":
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

type dailyTimeSeriesResponse struct {
	TimeSeries map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	} `json:"Time Series (Daily)"`
}

// parseDailyTimeSeries decodes an Alpha Vantage TIME_SERIES_DAILY
// payload into Bars, any order; the Gateway that wraps this Provider
// sorts and dedups before applying the as-of cutoff.
func parseDailyTimeSeries(data []byte) ([]fs.Bar, error) {
	var resp dailyTimeSeriesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("alphavantage: decode daily series: %w", err)
	}
	bars := make([]fs.Bar, 0, len(resp.TimeSeries))
	for dateStr, v := range resp.TimeSeries {
		bars = append(bars, fs.Bar{
			T:      parseDate(dateStr),
			Open:   parseFloat64(v.Open),
			High:   parseFloat64(v.High),
			Low:    parseFloat64(v.Low),
			Close:  parseFloat64(v.Close),
			Volume: parseFloat64(v.Volume),
		})
	}
	return bars, nil
}

// FetchBars implements Provider over the real Alpha Vantage API. It
// spends one request-budget slot per uncached symbol lookup and
// caches the parsed response for an hour, since intraday re-fetching
// of the same symbol's full daily series within a session is wasted
// budget.
func (c *AlphaVantageClient) FetchBars(ctx context.Context, ticker string, start, end time.Time) ([]fs.Bar, error) {
	params := map[string]string{"symbol": ticker, "outputsize": "full"}
	cacheKey := buildCacheKey("TIME_SERIES_DAILY", params)

	bars, ok := c.getFromCache(cacheKey)
	if !ok {
		if err := c.checkRateLimit(); err != nil {
			return nil, &ProviderError{Kind: "upstream", Err: err}
		}

		url := fmt.Sprintf("%s?function=TIME_SERIES_DAILY&symbol=%s&outputsize=full&apikey=%s",
			c.baseURL, ticker, c.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, &ProviderError{Kind: "upstream", Err: err}
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &ProviderError{Kind: "upstream", Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &ProviderError{Kind: "upstream", Err: err}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &ProviderError{Kind: "upstream", Err: fmt.Errorf("alphavantage: status %d", resp.StatusCode)}
		}

		parsed, err := parseDailyTimeSeries(body)
		if err != nil {
			return nil, &ProviderError{Kind: "upstream", Err: err}
		}
		if len(parsed) == 0 {
			return nil, &ProviderError{Kind: "unknown_ticker"}
		}
		c.setCache(cacheKey, parsed, time.Hour)
		bars = parsed
	}

	out := make([]fs.Bar, 0, len(bars))
	for _, b := range bars {
		if !b.T.Before(start) && !b.T.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}
