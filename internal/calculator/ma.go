package calculator

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// SMASeries returns the trailing simple moving average for every index.
// The first period-1 entries are NaN.
func SMASeries(prices []float64, period int) []float64 {
	out := nanSeries(len(prices))
	if period <= 0 || len(prices) < period {
		return out
	}
	sma := talib.Sma(prices, period)
	copy(out[period-1:], sma[period-1:])
	return out
}

// StdDevSeries returns the trailing sample standard deviation (n-1 denominator).
// The first period-1 entries are NaN.
func StdDevSeries(prices []float64, period int) []float64 {
	out := nanSeries(len(prices))
	if period <= 1 || len(prices) < period {
		return out
	}
	for i := period - 1; i < len(prices); i++ {
		out[i] = stat.StdDev(prices[i-period+1:i+1], nil)
	}
	return out
}

// PctChangeSeries returns prices[t]/prices[t-lag] - 1. The first lag entries are NaN
// and a zero base price yields 0.
func PctChangeSeries(prices []float64, lag int) []float64 {
	out := nanSeries(len(prices))
	if lag <= 0 || len(prices) <= lag {
		return out
	}
	rocp := talib.Rocp(prices, lag)
	copy(out[lag:], rocp[lag:])
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
