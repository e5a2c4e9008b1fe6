package training

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"BarOracle/internal/artifact"
	"BarOracle/internal/collector"
	"BarOracle/internal/features"
	"BarOracle/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// zigzag alternates runs of five up moves and five down moves, so a positive
// last return predicts a rise four times out of five.
func zigzag(n int) []model.OHLCV {
	bars := make([]model.OHLCV, n)
	price := 100.0
	for i := range bars {
		if i > 0 {
			if ((i-1)/5)%2 == 0 {
				price += 1
			} else {
				price -= 1
			}
		}
		bars[i] = model.OHLCV{Time: t0.Add(time.Duration(i) * time.Minute), Open: price, High: price, Low: price, Close: price, Volume: 1}
	}
	return bars
}

func TestTarget(t *testing.T) {
	bars := []model.OHLCV{{Close: 100}, {Close: 101}, {Close: 101}, {Close: 100}}
	assert.Equal(t, model.DirectionRises, Target(bars, 0))
	assert.Equal(t, model.DirectionFalls, Target(bars, 1), "equal close is not a rise")
	assert.Equal(t, model.DirectionFalls, Target(bars, 2))
}

func TestBuildDataset(t *testing.T) {
	bars := trendBars(25, 100, 0.1)

	X, y, err := BuildDataset(bars, []string{features.Returns1m})
	require.NoError(t, err)
	assert.Len(t, X, 23, "rows 1..23: warm-up and the unlabelled last bar excluded")
	assert.Len(t, y, 23)
	for _, v := range y {
		assert.Equal(t, model.DirectionRises, v)
	}

	X, _, err = BuildDataset(bars, features.DefaultModelFeatures)
	require.NoError(t, err)
	assert.Len(t, X, 5)
	assert.Len(t, X[0], len(features.DefaultModelFeatures))

	_, _, err = BuildDataset(bars, []string{"Close_Lag1"})
	var contract *model.FeatureContractError
	assert.ErrorAs(t, err, &contract)
}

func TestSplit_Chronological(t *testing.T) {
	X := make([][]float64, 10)
	y := make([]int, 10)
	for i := range X {
		X[i] = []float64{float64(i)}
	}
	trX, trY, teX, teY := Split(X, y, 0.2)
	assert.Len(t, trX, 8)
	assert.Len(t, trY, 8)
	assert.Len(t, teX, 2)
	assert.Len(t, teY, 2)
	assert.Equal(t, 8.0, teX[0][0])
}

func TestTrain_LearnsMomentum(t *testing.T) {
	cfg := Config{Features: []string{features.Returns1m}}
	a, report, err := Train("BTC-USD", "1m", zigzag(300), cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{features.Returns1m}, a.Features)
	assert.Equal(t, "BTC-USD", a.Ticker)
	assert.Equal(t, "1m", a.Interval)
	require.NotNil(t, a.Metrics)
	assert.Greater(t, report.Test.Accuracy, 0.7)
	assert.Equal(t, report.Rows, report.TrainRows+report.TestRows)
	assert.InDelta(t, 0.5, report.ClassBalance, 0.05)
	require.Len(t, a.Importance, 1)
	assert.InDelta(t, 1.0, a.Importance[0].Weight, 1e-9)

	// a monotonic uptrend reads as momentum
	frame := features.Compute(trendBars(25, 100, 1))
	row, err := frame.Latest(a.Features)
	require.NoError(t, err)
	inf, err := a.Infer(row)
	require.NoError(t, err)
	assert.Equal(t, model.DirectionRises, inf.Direction)
	assert.GreaterOrEqual(t, inf.Confidence, 50.0)
	assert.LessOrEqual(t, inf.Confidence, 100.0)
}

func TestTrain_DefaultFeatures(t *testing.T) {
	a, _, err := Train("ETH-USD", "5m", collector.RandomWalk(3, 400, 2000, t0, 5*time.Minute), Config{})
	require.NoError(t, err)
	assert.Equal(t, features.DefaultModelFeatures, a.Features)
	var total float64
	for _, fw := range a.Importance {
		total += fw.Weight
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestTrain_Rejects(t *testing.T) {
	_, _, err := Train("X", "1m", zigzag(20), Config{Features: []string{features.Returns1m}})
	assert.ErrorIs(t, err, model.ErrDataUnavailable)

	_, _, err = Train("X", "1m", zigzag(200), Config{Features: []string{"Close_Lag1"}})
	assert.Error(t, err)

	_, _, err = Train("X", "1m", trendBars(200, 100, 0.1), Config{Features: []string{features.Returns1m}})
	assert.ErrorContains(t, err, "single class")
}

type failingSource struct{}

func (failingSource) Collect(context.Context, string, string, string) (*model.PriceSeries, error) {
	return nil, errors.New("upstream down")
}

func TestPipeline_Retrain(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	registry := artifact.NewRegistry(store, "", zerolog.Nop())
	source := collector.NewCollector(&collector.MockFetcher{Bars: zigzag(300)}, 0, zerolog.Nop())

	p := NewPipeline(source, store, registry, Config{Features: []string{features.Returns1m}}, zerolog.Nop(), nil)
	a, err := p.Retrain(context.Background(), "BTC-USD", "5d", "1m")
	require.NoError(t, err)

	live, err := registry.Get("BTC-USD", "1m")
	require.NoError(t, err)
	assert.Same(t, a, live)

	_, err = os.Stat(store.Path("BTC-USD", "1m"))
	assert.NoError(t, err)

	reloaded, err := store.Load("BTC-USD", "1m")
	require.NoError(t, err)
	assert.Equal(t, a.ID, reloaded.ID)

	// a second retrain swaps a fresh artifact in
	b, err := p.Retrain(context.Background(), "BTC-USD", "5d", "1m")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	live, _ = registry.Get("BTC-USD", "1m")
	assert.Same(t, b, live)
}

func TestPipeline_FailureKeepsLiveModel(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	registry := artifact.NewRegistry(store, "", zerolog.Nop())

	p := NewPipeline(failingSource{}, store, registry, Config{}, zerolog.Nop(), nil)
	_, err = p.Retrain(context.Background(), "BTC-USD", "5d", "1m")
	require.Error(t, err)

	_, err = registry.Get("BTC-USD", "1m")
	assert.ErrorIs(t, err, model.ErrArtifactMissing)
}

const yfinanceCSV = `Price,Close,High,Low,Open,Volume
Ticker,BTC-USD,BTC-USD,BTC-USD,BTC-USD,BTC-USD
Datetime,,,,,
2025-12-01 10:01:00+00:00,90010.5,90020,90000,90005,12
2025-12-01 10:00:00+00:00,90005,90010,89990,90000,10
2025-12-01 10:02:00+00:00,,,,,
`

func TestReadCSV_YFinanceLayout(t *testing.T) {
	bars, err := ReadCSV(strings.NewReader(yfinanceCSV))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, 90005.0, bars[0].Close)
	assert.Equal(t, 90000.0, bars[0].Open)
	assert.Equal(t, 90010.5, bars[1].Close)
	assert.Equal(t, 12.0, bars[1].Volume)
}

func TestCSV_WriteThenRead(t *testing.T) {
	bars := collector.RandomWalk(1, 30, 100, t0, time.Minute)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, bars))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, bars, got)
}

func TestReadCSV_MissingColumns(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("foo,bar\n1,2\n"))
	assert.Error(t, err)
}

func trendBars(n int, start, step float64) []model.OHLCV {
	bars := make([]model.OHLCV, n)
	for i := range bars {
		c := start + step*float64(i)
		bars[i] = model.OHLCV{Time: t0.Add(time.Duration(i) * time.Minute), Open: c - step/2, High: c, Low: c - step/2, Close: c, Volume: 1000}
	}
	return bars
}
