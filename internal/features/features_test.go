package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"BarOracle/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barsFromCloses(closes []float64) []model.OHLCV {
	start := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	bars := make([]model.OHLCV, len(closes))
	for i, c := range closes {
		bars[i] = model.OHLCV{
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   c,
			High:   c * 1.001,
			Low:    c * 0.999,
			Close:  c,
			Volume: 10,
		}
	}
	return bars
}

func risingCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 0.1*float64(i)
	}
	return closes
}

func wavyCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 3*math.Sin(float64(i)/3) + 0.05*float64(i%7)
	}
	return closes
}

func TestCompute_Deterministic(t *testing.T) {
	bars := barsFromCloses(wavyCloses(60))
	a := Compute(bars)
	b := Compute(bars)
	for _, name := range Columns {
		ca := a.cols[name]
		cb := b.cols[name]
		require.Len(t, cb, len(ca))
		for i := range ca {
			assert.Equal(t, math.Float64bits(ca[i]), math.Float64bits(cb[i]), "%s[%d]", name, i)
		}
	}
}

func TestCompute_DoesNotMutateInput(t *testing.T) {
	bars := barsFromCloses(risingCloses(30))
	before := append([]model.OHLCV(nil), bars...)
	Compute(bars)
	assert.Equal(t, before, bars)
}

func TestCompute_WarmupRowsNeverSelectable(t *testing.T) {
	frame := Compute(barsFromCloses(wavyCloses(40)))
	ma, ok := frame.cols[MA20]
	require.True(t, ok)
	for i := 0; i < 19; i++ {
		assert.True(t, math.IsNaN(ma[i]), "MA_20 row %d", i)
		_, err := frame.RowAt(i, Columns)
		assert.ErrorIs(t, err, model.ErrWarmup, "row %d", i)
	}
	_, err := frame.RowAt(19, Columns)
	assert.NoError(t, err)
}

func TestLatest_ShortWindowIsDataUnavailable(t *testing.T) {
	frame := Compute(barsFromCloses(risingCloses(19)))
	_, err := frame.Latest(DefaultModelFeatures)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDataUnavailable))

	_, err = Compute(nil).Latest(DefaultModelFeatures)
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
}

func TestLatest_ReturnsOnlyRequestedFeatures(t *testing.T) {
	frame := Compute(barsFromCloses(risingCloses(25)))
	row, err := frame.Latest([]string{Returns1m})
	require.NoError(t, err)
	assert.Len(t, row, 1)

	// a returns-only model is usable long before MA_20 is defined
	short := Compute(barsFromCloses(risingCloses(3)))
	_, err = short.Latest([]string{Returns1m, Returns2m})
	assert.NoError(t, err)
}

func TestScenario_MonotonicUptrend(t *testing.T) {
	frame := Compute(barsFromCloses(risingCloses(25)))
	r1 := frame.cols[Returns1m]
	dist := frame.cols[DistMA20]
	rsi := frame.cols[RSI14]
	for i := 1; i < 25; i++ {
		assert.Greater(t, r1[i], 0.0, "Returns_1m[%d]", i)
	}
	for i := 19; i < 25; i++ {
		assert.Greater(t, dist[i], 0.0, "Dist_MA_20[%d]", i)
		assert.Equal(t, 100.0, rsi[i], "RSI_14[%d] with no losses", i)
	}
}

func TestCompute_BandPositionUnclamped(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100 + 0.01*float64(i%2)
	}
	closes[24] = 110 // breakout far above the bands
	frame := Compute(barsFromCloses(closes))
	row, err := frame.Latest([]string{BBPosition})
	require.NoError(t, err)
	assert.Greater(t, row[BBPosition], 1.0)
}

func TestRowAt_SanitizesUndefinedValues(t *testing.T) {
	// all-zero closes: MA_20 is 0, so Dist_MA_20 is undefined past warm-up
	frame := Compute(barsFromCloses(make([]float64, 25)))
	dist := frame.cols[DistMA20]
	assert.True(t, math.IsNaN(dist[24]))

	row, err := frame.Latest(Columns)
	require.NoError(t, err)
	for name, v := range row {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s not sanitized", name)
	}
	assert.Equal(t, 0.0, row[DistMA20])
}

func TestRowAt_UnknownFeatureIsContractViolation(t *testing.T) {
	frame := Compute(barsFromCloses(risingCloses(25)))
	_, err := frame.Latest([]string{Returns1m, "Close_Lag1"})
	var contract *model.FeatureContractError
	require.ErrorAs(t, err, &contract)
	assert.Equal(t, []string{"Close_Lag1"}, contract.Missing)
}

func TestRowVector_Order(t *testing.T) {
	row := Row{Returns1m: 1, RSI14: 2}
	v, err := row.Vector([]string{RSI14, Returns1m})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1}, v)

	_, err = row.Vector([]string{DistMA20})
	var contract *model.FeatureContractError
	assert.ErrorAs(t, err, &contract)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(DefaultModelFeatures))
	assert.Error(t, Validate(nil))
	assert.Error(t, Validate([]string{Returns1m, Returns1m}))
	assert.Error(t, Validate([]string{"MA_50"}))
}

func TestMinBars(t *testing.T) {
	assert.Equal(t, 20, MinBars())
}
