package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"BarOracle/internal/model"
)

// Fetcher retrieves OHLCV bars. period is a lookback such as "1d" or "5d";
// interval is the bar size such as "1m" or "1h".
type Fetcher interface {
	Fetch(ctx context.Context, symbol, period, interval string) ([]model.OHLCV, error)
	Name() string
}

// ParseInterval converts a bar-size label ("1m", "15m", "1h", "1d", "1wk",
// "1mo") to a duration. Months are treated as 30 days.
func ParseInterval(label string) (time.Duration, error) {
	s := strings.TrimSpace(strings.ToLower(label))
	units := []struct {
		suffix string
		unit   time.Duration
	}{
		{"mo", 30 * 24 * time.Hour},
		{"wk", 7 * 24 * time.Hour},
		{"m", time.Minute},
		{"h", time.Hour},
		{"d", 24 * time.Hour},
		{"y", 365 * 24 * time.Hour},
	}
	for _, u := range units {
		if !strings.HasSuffix(s, u.suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(s, u.suffix))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid interval %q", label)
		}
		return time.Duration(n) * u.unit, nil
	}
	return 0, fmt.Errorf("invalid interval %q", label)
}

// NewFetcher builds the fetcher for a configured source: "yahoo", "http" or
// "mock".
func NewFetcher(source, baseURL, apiKey, proxyURL string) (Fetcher, error) {
	switch source {
	case "", "yahoo":
		return NewYahooFetcher(proxyURL), nil
	case "http":
		if baseURL == "" {
			return nil, fmt.Errorf("http source needs a base URL")
		}
		return NewHTTPFetcher(baseURL, apiKey, proxyURL), nil
	case "mock":
		return &MockFetcher{}, nil
	default:
		return nil, fmt.Errorf("unknown market source %q", source)
	}
}
