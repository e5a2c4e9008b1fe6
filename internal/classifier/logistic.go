// Package classifier holds the binary direction models used by artifacts.
package classifier

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Classifier is a fitted binary model over an ordered feature vector.
type Classifier interface {
	// Predict returns 1 when the rise class is more probable, else 0.
	Predict(x []float64) int
	// PredictProba returns [p(falls), p(rises)], summing to 1.
	PredictProba(x []float64) [2]float64
	// Dims is the expected feature vector length.
	Dims() int
}

// Logistic is an L2-regularised logistic regression over standardised inputs.
type Logistic struct {
	Weights []float64 `msgpack:"weights" json:"weights"`
	Bias    float64   `msgpack:"bias" json:"bias"`
	Means   []float64 `msgpack:"means" json:"means"`
	Scales  []float64 `msgpack:"scales" json:"scales"`
}

// FitOptions controls Fit.
type FitOptions struct {
	L2            float64
	MaxIterations int
}

// DefaultFitOptions are used when the caller passes zero values.
var DefaultFitOptions = FitOptions{L2: 1e-3, MaxIterations: 500}

// Dims implements Classifier.
func (m *Logistic) Dims() int { return len(m.Weights) }

// Validate checks internal consistency.
func (m *Logistic) Validate() error {
	n := len(m.Weights)
	if n == 0 {
		return errors.New("logistic: no weights")
	}
	if len(m.Means) != n || len(m.Scales) != n {
		return fmt.Errorf("logistic: %d weights but %d means and %d scales", n, len(m.Means), len(m.Scales))
	}
	for i, s := range m.Scales {
		if s <= 0 || math.IsNaN(s) {
			return fmt.Errorf("logistic: scale %d is %v", i, s)
		}
	}
	return nil
}

// PredictProba implements Classifier.
func (m *Logistic) PredictProba(x []float64) [2]float64 {
	p1 := sigmoid(m.decision(x))
	return [2]float64{1 - p1, p1}
}

// Predict implements Classifier. Equal probabilities resolve to 0.
func (m *Logistic) Predict(x []float64) int {
	p := m.PredictProba(x)
	if p[1] > p[0] {
		return 1
	}
	return 0
}

// Importance returns |w_i| normalised to sum to 1. Inputs are standardised, so
// coefficient magnitudes are comparable across features.
func (m *Logistic) Importance() []float64 {
	out := make([]float64, len(m.Weights))
	for i, w := range m.Weights {
		out[i] = math.Abs(w)
	}
	total := floats.Sum(out)
	if total == 0 {
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	floats.Scale(1/total, out)
	return out
}

func (m *Logistic) decision(x []float64) float64 {
	z := m.Bias
	for i, w := range m.Weights {
		z += w * (x[i] - m.Means[i]) / m.Scales[i]
	}
	return z
}

// Fit trains a Logistic model on rows X with labels y in {0,1}.
func Fit(X [][]float64, y []int, opts FitOptions) (*Logistic, error) {
	if len(X) < 2 {
		return nil, fmt.Errorf("logistic: need at least 2 samples, got %d", len(X))
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("logistic: %d rows but %d labels", len(X), len(y))
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultFitOptions.MaxIterations
	}
	if opts.L2 < 0 {
		return nil, fmt.Errorf("logistic: negative l2 %v", opts.L2)
	}
	dims := len(X[0])
	if dims == 0 {
		return nil, errors.New("logistic: empty feature vector")
	}

	means := make([]float64, dims)
	scales := make([]float64, dims)
	col := make([]float64, len(X))
	for j := 0; j < dims; j++ {
		for i, row := range X {
			if len(row) != dims {
				return nil, fmt.Errorf("logistic: row %d has %d features, want %d", i, len(row), dims)
			}
			col[i] = row[j]
		}
		means[j], scales[j] = stat.MeanStdDev(col, nil)
		if scales[j] == 0 || math.IsNaN(scales[j]) {
			scales[j] = 1
		}
	}

	z := make([][]float64, len(X))
	for i, row := range X {
		z[i] = make([]float64, dims)
		for j, v := range row {
			z[i][j] = (v - means[j]) / scales[j]
		}
	}
	labels := make([]float64, len(y))
	for i, v := range y {
		if v != 0 && v != 1 {
			return nil, fmt.Errorf("logistic: label %d at row %d", v, i)
		}
		labels[i] = float64(v)
	}

	n := float64(len(z))
	problem := optimize.Problem{
		Func: func(params []float64) float64 {
			w, b := params[:dims], params[dims]
			loss := 0.0
			for i, row := range z {
				s := floats.Dot(w, row) + b
				loss += softplus(s) - labels[i]*s
			}
			return loss/n + 0.5*opts.L2*floats.Dot(w, w)
		},
		Grad: func(grad, params []float64) {
			w, b := params[:dims], params[dims]
			for k := range grad {
				grad[k] = 0
			}
			for i, row := range z {
				r := sigmoid(floats.Dot(w, row)+b) - labels[i]
				floats.AddScaled(grad[:dims], r, row)
				grad[dims] += r
			}
			floats.Scale(1/n, grad)
			floats.AddScaled(grad[:dims], opts.L2, w)
		},
	}

	initial := make([]float64, dims+1)
	settings := &optimize.Settings{MajorIterations: opts.MaxIterations}
	result, err := optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
	if err != nil || result == nil {
		result, err = optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
		if err != nil {
			return nil, fmt.Errorf("logistic: optimisation failed: %w", err)
		}
	}
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("logistic: optimisation diverged (status %v)", result.Status)
		}
	}

	return &Logistic{
		Weights: append([]float64(nil), result.X[:dims]...),
		Bias:    result.X[dims],
		Means:   means,
		Scales:  scales,
	}, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus computes log(1+e^z) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
