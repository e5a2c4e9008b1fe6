// Package features derives the indicator columns consumed by the direction
// classifier. The same Compute call backs both training and inference so the
// two can never drift apart.
package features

import (
	"fmt"
	"math"

	"BarOracle/internal/calculator"
	"BarOracle/internal/model"
)

// Feature column names. These strings are persisted inside model artifacts.
const (
	MA20       = "MA_20"
	Returns1m  = "Returns_1m"
	Returns2m  = "Returns_2m"
	DistMA20   = "Dist_MA_20"
	RSI14      = "RSI_14"
	BBUpper    = "BB_Upper"
	BBLower    = "BB_Lower"
	BBPosition = "BB_Position"
)

const (
	maPeriod    = 20
	rsiPeriod   = 14
	bandStdDevs = 2.0
)

// Columns lists every computed feature in a stable order.
var Columns = []string{MA20, Returns1m, Returns2m, DistMA20, RSI14, BBUpper, BBLower, BBPosition}

// DefaultModelFeatures are the scale-free columns a model is trained on unless
// configured otherwise.
var DefaultModelFeatures = []string{Returns1m, Returns2m, DistMA20, RSI14, BBPosition}

// warmup is the first row index at which each column is defined.
var warmup = map[string]int{
	MA20:       maPeriod - 1,
	Returns1m:  1,
	Returns2m:  2,
	DistMA20:   maPeriod - 1,
	RSI14:      rsiPeriod,
	BBUpper:    maPeriod - 1,
	BBLower:    maPeriod - 1,
	BBPosition: maPeriod - 1,
}

// MinBars is the shortest window that yields a usable row for every column.
func MinBars() int {
	longest := 0
	for _, w := range warmup {
		if w > longest {
			longest = w
		}
	}
	return longest + 1
}

// Row maps feature name to value for a single bar.
type Row map[string]float64

// Vector orders the row by names. Missing names are reported together.
func (r Row) Vector(names []string) ([]float64, error) {
	out := make([]float64, len(names))
	var missing []string
	for i, name := range names {
		v, ok := r[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out[i] = v
	}
	if len(missing) > 0 {
		return nil, &model.FeatureContractError{Missing: missing}
	}
	return out, nil
}

// Frame is a bar window augmented with feature columns.
type Frame struct {
	bars []model.OHLCV
	cols map[string][]float64
}

// Compute derives every feature column from bars. It is a pure function of its
// input. ±Inf values are replaced with 0; warm-up rows stay NaN.
func Compute(bars []model.OHLCV) *Frame {
	closes := model.Closes(bars)
	n := len(closes)

	ma := calculator.SMASeries(closes, maPeriod)
	std := calculator.StdDevSeries(closes, maPeriod)
	upper, lower := calculator.BollingerSeries(ma, std, bandStdDevs)

	dist := make([]float64, n)
	pos := make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(ma[i]) {
			dist[i] = math.NaN()
			pos[i] = math.NaN()
			continue
		}
		dist[i] = calculator.Deviation(closes[i], ma[i])
		pos[i] = calculator.BandPosition(closes[i], lower[i], upper[i])
	}

	f := &Frame{
		bars: append([]model.OHLCV(nil), bars...),
		cols: map[string][]float64{
			MA20:       ma,
			Returns1m:  calculator.PctChangeSeries(closes, 1),
			Returns2m:  calculator.PctChangeSeries(closes, 2),
			DistMA20:   dist,
			RSI14:      calculator.RSISeries(closes, rsiPeriod),
			BBUpper:    upper,
			BBLower:    lower,
			BBPosition: pos,
		},
	}
	for _, col := range f.cols {
		for i, v := range col {
			if math.IsInf(v, 0) {
				col[i] = 0
			}
		}
	}
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.bars) }

// Bar returns the bar at row i.
func (f *Frame) Bar(i int) model.OHLCV { return f.bars[i] }

// Warmup returns the first row index where every named column is defined.
func (f *Frame) Warmup(names []string) (int, error) {
	first := 0
	var missing []string
	for _, name := range names {
		w, ok := warmup[name]
		if !ok || f.cols[name] == nil {
			missing = append(missing, name)
			continue
		}
		if w > first {
			first = w
		}
	}
	if len(missing) > 0 {
		return 0, &model.FeatureContractError{Missing: missing}
	}
	return first, nil
}

// RowAt extracts row i restricted to names, with NaN and ±Inf replaced by 0.
// Rows inside the warm-up region are rejected with model.ErrWarmup.
func (f *Frame) RowAt(i int, names []string) (Row, error) {
	first, err := f.Warmup(names)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= f.Len() {
		return nil, fmt.Errorf("row %d out of range [0,%d)", i, f.Len())
	}
	if i < first {
		return nil, fmt.Errorf("row %d needs %d bars: %w", i, first+1, model.ErrWarmup)
	}
	row := make(Row, len(names))
	for _, name := range names {
		row[name] = Sanitize(f.cols[name][i])
	}
	return row, nil
}

// Latest extracts the newest row restricted to names.
func (f *Frame) Latest(names []string) (Row, error) {
	if f.Len() == 0 {
		return nil, model.ErrDataUnavailable
	}
	return f.RowAt(f.Len()-1, names)
}

// Sanitize maps NaN and ±Inf to 0.
func Sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Validate checks that names is a non-empty list of unique, known columns.
func Validate(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("feature list is empty")
	}
	seen := make(map[string]bool, len(names))
	var unknown []string
	for _, name := range names {
		if seen[name] {
			return fmt.Errorf("duplicate feature %q", name)
		}
		seen[name] = true
		if _, ok := warmup[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return &model.FeatureContractError{Missing: unknown}
	}
	return nil
}
