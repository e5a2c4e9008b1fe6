// Package training builds model artifacts from bar history. It derives
// features with the same engine the prediction cycle uses, so the feature
// contract is identical at training and inference time.
package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"BarOracle/internal/artifact"
	"BarOracle/internal/classifier"
	"BarOracle/internal/features"
	"BarOracle/internal/metrics"
	"BarOracle/internal/model"

	"github.com/rs/zerolog"
)

// Config controls dataset construction and fitting.
type Config struct {
	Features     []string
	TestFraction float64
	MinSamples   int
	Fit          classifier.FitOptions
}

// DefaultConfig mirrors the production setup: relative features only and a
// chronological 80/20 split.
var DefaultConfig = Config{
	Features:     features.DefaultModelFeatures,
	TestFraction: 0.2,
	MinSamples:   30,
	Fit:          classifier.DefaultFitOptions,
}

func (c Config) withDefaults() Config {
	if len(c.Features) == 0 {
		c.Features = DefaultConfig.Features
	}
	if c.TestFraction <= 0 || c.TestFraction >= 1 {
		c.TestFraction = DefaultConfig.TestFraction
	}
	if c.MinSamples <= 0 {
		c.MinSamples = DefaultConfig.MinSamples
	}
	if c.Fit.MaxIterations <= 0 {
		c.Fit.MaxIterations = DefaultConfig.Fit.MaxIterations
	}
	return c
}

// Report summarises a training run.
type Report struct {
	Rows         int                `json:"rows"`
	TrainRows    int                `json:"train_rows"`
	TestRows     int                `json:"test_rows"`
	ClassBalance float64            `json:"class_balance"` // share of rises over all rows
	Test         classifier.Metrics `json:"test"`
}

// Target labels bar i as a rise when the next close is strictly higher.
func Target(bars []model.OHLCV, i int) int {
	if bars[i+1].Close > bars[i].Close {
		return model.DirectionRises
	}
	return model.DirectionFalls
}

// BuildDataset turns a bar window into feature rows and next-bar labels.
// Warm-up rows and the final bar, which has no label, are excluded.
func BuildDataset(bars []model.OHLCV, names []string) ([][]float64, []int, error) {
	frame := features.Compute(bars)
	first, err := frame.Warmup(names)
	if err != nil {
		return nil, nil, err
	}
	var (
		X [][]float64
		y []int
	)
	for i := first; i < frame.Len()-1; i++ {
		row, err := frame.RowAt(i, names)
		if err != nil {
			return nil, nil, err
		}
		x, err := row.Vector(names)
		if err != nil {
			return nil, nil, err
		}
		X = append(X, x)
		y = append(y, Target(bars, i))
	}
	return X, y, nil
}

// Split divides rows chronologically; the last testFraction share is held out.
func Split(X [][]float64, y []int, testFraction float64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	cut := len(X) - int(float64(len(X))*testFraction)
	if cut < 1 {
		cut = 1
	}
	if cut > len(X) {
		cut = len(X)
	}
	return X[:cut], y[:cut], X[cut:], y[cut:]
}

// Train fits an artifact for ticker on bars.
func Train(ticker, interval string, bars []model.OHLCV, cfg Config) (*artifact.Artifact, Report, error) {
	cfg = cfg.withDefaults()
	if err := features.Validate(cfg.Features); err != nil {
		return nil, Report{}, err
	}
	X, y, err := BuildDataset(bars, cfg.Features)
	if err != nil {
		return nil, Report{}, err
	}
	if len(X) < cfg.MinSamples {
		return nil, Report{}, fmt.Errorf("%d labelled rows, need %d: %w", len(X), cfg.MinSamples, model.ErrDataUnavailable)
	}

	report := Report{Rows: len(X)}
	rises := 0
	for _, v := range y {
		rises += v
	}
	report.ClassBalance = float64(rises) / float64(len(y))

	trainX, trainY, testX, testY := Split(X, y, cfg.TestFraction)
	report.TrainRows, report.TestRows = len(trainX), len(testX)
	if single(trainY) {
		return nil, report, errors.New("training labels contain a single class")
	}

	clf, err := classifier.Fit(trainX, trainY, cfg.Fit)
	if err != nil {
		return nil, report, err
	}
	report.Test = classifier.Evaluate(clf, testX, testY)
	report.Test.TrainSamples = len(trainX)

	weights := clf.Importance()
	importance := make([]artifact.FeatureWeight, len(cfg.Features))
	for i, name := range cfg.Features {
		importance[i] = artifact.FeatureWeight{Name: name, Weight: weights[i]}
	}
	m := report.Test
	a, err := artifact.New(ticker, interval, cfg.Features, clf, artifact.Meta{
		Importance: importance,
		Metrics:    &m,
		TrainedAt:  time.Now().UTC(),
	})
	if err != nil {
		return nil, report, err
	}
	return a, report, nil
}

func single(y []int) bool {
	for _, v := range y[1:] {
		if v != y[0] {
			return false
		}
	}
	return true
}

// BarSource supplies training history.
type BarSource interface {
	Collect(ctx context.Context, symbol, period, interval string) (*model.PriceSeries, error)
}

// Saver persists an artifact.
type Saver interface {
	Save(a *artifact.Artifact) error
}

// Publisher makes an artifact live for inference.
type Publisher interface {
	Put(a *artifact.Artifact)
}

// Pipeline retrains on demand: fetch, train, save, then swap the live model.
type Pipeline struct {
	source    BarSource
	saver     Saver
	publisher Publisher
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics.Recorder

	mu sync.Mutex
}

func NewPipeline(source BarSource, saver Saver, publisher Publisher, cfg Config, log zerolog.Logger, m *metrics.Recorder) *Pipeline {
	return &Pipeline{
		source:    source,
		saver:     saver,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		log:       log.With().Str("component", "training").Logger(),
		metrics:   m,
	}
}

// Retrain builds a new artifact for symbol and swaps it in. On any failure the
// previously loaded model stays live. Retrains run one at a time.
func (p *Pipeline) Retrain(ctx context.Context, symbol, period, interval string) (*artifact.Artifact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, err := p.retrain(ctx, symbol, period, interval)
	accuracy := 0.0
	if a != nil && a.Metrics != nil {
		accuracy = a.Metrics.Accuracy
	}
	p.metrics.RecordRetrain(symbol, err, accuracy)
	if err != nil {
		p.log.Error().Err(err).Str("symbol", symbol).Msg("retrain failed")
	}
	return a, err
}

func (p *Pipeline) retrain(ctx context.Context, symbol, period, interval string) (*artifact.Artifact, error) {
	start := time.Now()
	series, err := p.source.Collect(ctx, symbol, period, interval)
	if err != nil {
		return nil, fmt.Errorf("training data for %s: %w", symbol, err)
	}
	a, report, err := Train(symbol, interval, series.Bars, p.cfg)
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", symbol, err)
	}
	if err := p.saver.Save(a); err != nil {
		return nil, fmt.Errorf("save artifact for %s: %w", symbol, err)
	}
	p.publisher.Put(a)

	p.log.Info().
		Str("symbol", symbol).
		Str("artifact", a.ID).
		Int("rows", report.Rows).
		Float64("class_balance", report.ClassBalance).
		Float64("accuracy", report.Test.Accuracy).
		Float64("f1", report.Test.F1).
		Dur("took", time.Since(start)).
		Msg("model retrained")
	return a, nil
}
