package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"BarOracle/internal/model"
)

// errUnsupportedInterval is returned when the API has no endpoint for the
// requested bar size.
var errUnsupportedInterval = errors.New("interval not served")

// HTTPFetcher implements Fetcher against a generic bars REST API:
//
//	GET {base}/api/v1/bars?symbol=BTC-USD&interval=5m&period=1d
//
// returning a JSON array of {timestamp, open, high, low, close, volume}.
// When the API rejects an interval with 404 or 422, 1m bars are fetched and
// resampled.
type HTTPFetcher struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPFetcher creates a new fetcher with optional proxy support.
func NewHTTPFetcher(baseURL, apiKey, proxyURL string) *HTTPFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &HTTPFetcher{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (f *HTTPFetcher) Name() string { return "http" }

type restBar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, symbol, period, interval string) ([]model.OHLCV, error) {
	bars, err := f.fetchBars(ctx, symbol, period, interval)
	if err == nil || !errors.Is(err, errUnsupportedInterval) || interval == "1m" {
		return bars, err
	}
	step, perr := ParseInterval(interval)
	if perr != nil {
		return nil, perr
	}
	minute, merr := f.fetchBars(ctx, symbol, period, "1m")
	if merr != nil {
		return nil, fmt.Errorf("%s fetch failed: %w; 1m fallback also failed: %w", interval, err, merr)
	}
	return Resample(minute, step), nil
}

func (f *HTTPFetcher) fetchBars(ctx context.Context, symbol, period, interval string) ([]model.OHLCV, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("period", period)
	endpoint := fmt.Sprintf("%s/api/v1/bars?%s", f.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("fetch %s bars: %w", interval, errUnsupportedInterval)
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch bars: status %d, body: %s", resp.StatusCode, string(body))
	}

	var raw []restBar
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode bars: %w", err)
	}
	bars := make([]model.OHLCV, len(raw))
	for i, rb := range raw {
		bars[i] = model.OHLCV{
			Time:   time.Unix(rb.Timestamp, 0).UTC(),
			Open:   rb.Open,
			High:   rb.High,
			Low:    rb.Low,
			Close:  rb.Close,
			Volume: rb.Volume,
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

// Resample aggregates ascending bars into buckets of step, keyed by
// time.Truncate. Open is the first bar's open, close the last bar's close.
func Resample(bars []model.OHLCV, step time.Duration) []model.OHLCV {
	if len(bars) == 0 || step <= 0 {
		return nil
	}
	var out []model.OHLCV
	var cur model.OHLCV
	var curKey time.Time

	for i, b := range bars {
		key := b.Time.Truncate(step)
		if i == 0 || !key.Equal(curKey) {
			if i > 0 {
				out = append(out, cur)
			}
			curKey = key
			cur = model.OHLCV{Time: key, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	return append(out, cur)
}
