package calculator

import "math"

// MinBandWidth is the floor applied to the band width when volatility collapses.
const MinBandWidth = 1e-6

// BollingerSeries derives upper and lower bands from a moving average and
// standard deviation series. NaN inputs propagate.
func BollingerSeries(ma, std []float64, k float64) (upper, lower []float64) {
	upper = make([]float64, len(ma))
	lower = make([]float64, len(ma))
	for i := range ma {
		upper[i] = ma[i] + k*std[i]
		lower[i] = ma[i] - k*std[i]
	}
	return upper, lower
}

// BandPosition returns where price sits between the bands: 0 at the lower band,
// 1 at the upper band. Values outside [0,1] are kept.
func BandPosition(price, lower, upper float64) float64 {
	width := math.Max(upper-lower, MinBandWidth)
	return (price - lower) / width
}

// Deviation returns (price - base) / base. A zero base yields NaN.
func Deviation(price, base float64) float64 {
	if base == 0 {
		return math.NaN()
	}
	return (price - base) / base
}
