// Package collector fetches and cleans OHLCV windows from market data sources.
package collector

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"BarOracle/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// MockFetcher returns controllable data for development and testing. When
// Bars is nil it generates a gentle random walk ending now.
type MockFetcher struct {
	Price float64
	Bars  []model.OHLCV
	Err   error
	Seed  int64
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) Fetch(_ context.Context, symbol, _, interval string) ([]model.OHLCV, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Bars != nil {
		return append([]model.OHLCV(nil), m.Bars...), nil
	}
	step, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	price := m.Price
	if price <= 0 {
		price = 100
	}
	end := time.Now().UTC().Truncate(step)
	return RandomWalk(m.Seed, 120, price, end.Add(-119*step), step), nil
}

// RandomWalk builds n bars of a seeded geometric random walk with 0.1%
// per-bar volatility.
func RandomWalk(seed int64, n int, start float64, t0 time.Time, every time.Duration) []model.OHLCV {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]model.OHLCV, n)
	price := start
	for i := range bars {
		open := price
		price *= 1 + rng.NormFloat64()*0.001
		bars[i] = model.OHLCV{
			Time:   t0.Add(time.Duration(i) * every),
			Open:   open,
			High:   math.Max(open, price) * (1 + rng.Float64()*0.0005),
			Low:    math.Min(open, price) * (1 - rng.Float64()*0.0005),
			Close:  price,
			Volume: 500 + rng.Float64()*1000,
		}
	}
	return bars
}

// Collector wraps a Fetcher with rate limiting and bar cleaning.
type Collector struct {
	Fetcher Fetcher
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewCollector creates a Collector allowing requestsPerMinute upstream calls
// (unlimited when <= 0).
func NewCollector(fetcher Fetcher, requestsPerMinute int, log zerolog.Logger) *Collector {
	limit := rate.Inf
	burst := 1
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
		burst = min(requestsPerMinute, 5)
	}
	return &Collector{
		Fetcher: fetcher,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With().Str("component", "collector").Str("source", fetcher.Name()).Logger(),
	}
}

// Collect fetches the trailing window for symbol. It returns
// model.ErrDataUnavailable when no usable bars remain after cleaning.
func (c *Collector) Collect(ctx context.Context, symbol, period, interval string) (*model.PriceSeries, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	raw, err := c.Fetcher.Fetch(ctx, symbol, period, interval)
	if err != nil {
		return nil, fmt.Errorf("fetch %s from %s: %w", symbol, c.Fetcher.Name(), err)
	}
	bars := Clean(raw)
	if dropped := len(raw) - len(bars); dropped > 0 {
		c.log.Debug().Str("symbol", symbol).Int("dropped", dropped).Msg("discarded invalid bars")
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s %s/%s: %w", symbol, period, interval, model.ErrDataUnavailable)
	}
	return &model.PriceSeries{
		Symbol:    symbol,
		Interval:  interval,
		Bars:      bars,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// Clean returns bars sorted ascending with non-finite or non-positive closes
// removed. For duplicate timestamps the later entry wins.
func Clean(raw []model.OHLCV) []model.OHLCV {
	bars := make([]model.OHLCV, 0, len(raw))
	for _, b := range raw {
		if b.Close <= 0 || math.IsNaN(b.Close) || math.IsInf(b.Close, 0) {
			continue
		}
		bars = append(bars, b)
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })

	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
