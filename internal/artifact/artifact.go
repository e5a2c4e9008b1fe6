// Package artifact holds trained model bundles, their on-disk store and the
// per-symbol registry used by the prediction cycle.
package artifact

import (
	"errors"
	"fmt"
	"time"

	"BarOracle/internal/classifier"
	"BarOracle/internal/features"
	"BarOracle/internal/model"

	"github.com/google/uuid"
)

// FeatureWeight is one entry of an artifact's feature importance.
type FeatureWeight struct {
	Name   string  `msgpack:"name" json:"name"`
	Weight float64 `msgpack:"weight" json:"weight"`
}

// Meta carries the optional parts of an artifact.
type Meta struct {
	Importance []FeatureWeight
	Metrics    *classifier.Metrics
	TrainedAt  time.Time
}

// Artifact is an immutable trained model bundle. Retraining produces a new
// Artifact; existing values are never modified.
type Artifact struct {
	ID         string                `json:"id"`
	Ticker     string                `json:"ticker"`
	Interval   string                `json:"interval"`
	Features   []string              `json:"features"`
	Classifier classifier.Classifier `json:"-"`
	Importance []FeatureWeight       `json:"importance,omitempty"`
	Metrics    *classifier.Metrics   `json:"metrics,omitempty"`
	TrainedAt  time.Time             `json:"trained_at"`
}

// Inference is the output of one model call.
type Inference struct {
	Direction  int
	Confidence float64 // percentage in [50,100]
	Proba      [2]float64
}

// New validates and assembles an Artifact. The feature list must be unique,
// known to the feature engine and match the classifier's input width.
func New(ticker, interval string, feats []string, c classifier.Classifier, meta Meta) (*Artifact, error) {
	if ticker == "" {
		return nil, errors.New("artifact: empty ticker")
	}
	if c == nil {
		return nil, errors.New("artifact: nil classifier")
	}
	if err := features.Validate(feats); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", ticker, err)
	}
	if c.Dims() != len(feats) {
		return nil, fmt.Errorf("artifact %s: classifier expects %d features, list has %d", ticker, c.Dims(), len(feats))
	}
	trainedAt := meta.TrainedAt
	if trainedAt.IsZero() {
		trainedAt = time.Now().UTC()
	}
	var metrics *classifier.Metrics
	if meta.Metrics != nil {
		m := *meta.Metrics
		metrics = &m
	}
	return &Artifact{
		ID:         uuid.NewString(),
		Ticker:     ticker,
		Interval:   interval,
		Features:   append([]string(nil), feats...),
		Classifier: c,
		Importance: append([]FeatureWeight(nil), meta.Importance...),
		Metrics:    metrics,
		TrainedAt:  trainedAt,
	}, nil
}

// Infer runs the classifier on row. Every artifact feature must be present in
// row; extra columns are ignored.
func (a *Artifact) Infer(row features.Row) (Inference, error) {
	x, err := row.Vector(a.Features)
	if err != nil {
		var contract *model.FeatureContractError
		if errors.As(err, &contract) {
			contract.Ticker = a.Ticker
		}
		return Inference{}, err
	}
	proba := a.Classifier.PredictProba(x)
	top := proba[0]
	if proba[1] > top {
		top = proba[1]
	}
	return Inference{
		Direction:  a.Classifier.Predict(x),
		Confidence: 100 * top,
		Proba:      proba,
	}, nil
}
