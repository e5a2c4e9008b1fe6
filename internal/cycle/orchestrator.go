// Package cycle runs the per-symbol prediction tick: features, inference,
// grading of the previous call, dedup, persistence and alerting.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"BarOracle/internal/artifact"
	"BarOracle/internal/features"
	"BarOracle/internal/metrics"
	"BarOracle/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// State is a step of the tick state machine.
type State string

const (
	StateIdle          State = "IDLE"
	StateFeaturesReady State = "FEATURES_READY"
	StateGraded        State = "GRADED"
	StateGradeSkipped  State = "GRADE_SKIPPED"
	StatePersisted     State = "PERSISTED"
	StateDedupSkipped  State = "DEDUP_SKIPPED"
	StateAlerted       State = "ALERTED"
	StateNoAlert       State = "NO_ALERT"
)

// Reasons recorded when a tick does not persist.
const (
	SkipAutoSaveOff       = "auto-save disabled"
	SkipRecentPrediction  = "recent prediction inside dedup window"
	SkipHistoryUnreadable = "history unavailable"
	SkipGradeFailed       = "pending prediction could not be graded"
	SkipWriteFailed       = "repository write failed"
)

// MarketSource returns the trailing bar window for a symbol.
type MarketSource interface {
	Collect(ctx context.Context, symbol, period, interval string) (*model.PriceSeries, error)
}

// ModelSource returns the artifact currently loaded for a symbol.
type ModelSource interface {
	Get(symbol, interval string) (*artifact.Artifact, error)
}

// PredictionStore is the part of the repository the tick uses.
type PredictionStore interface {
	ResultPatcher
	Append(ctx context.Context, symbol string, entryPrice float64, direction int, confidence float64) (model.Prediction, error)
	MostRecent(ctx context.Context, symbol string, limit int) ([]model.Prediction, error)
}

// Options tunes the tick.
type Options struct {
	Period         string
	Interval       string
	AutoSave       bool
	DedupWindow    time.Duration
	AlertThreshold float64
}

// TickReport records what one tick did.
type TickReport struct {
	ID         string             `json:"id"`
	Symbol     string             `json:"symbol"`
	Price      float64            `json:"price"`
	BarTime    time.Time          `json:"bar_time"`
	ArtifactID string             `json:"artifact_id"`
	Inference  artifact.Inference `json:"inference"`
	Graded     *model.Prediction  `json:"graded,omitempty"`
	Saved      *model.Prediction  `json:"saved,omitempty"`
	SkipReason string             `json:"skip_reason,omitempty"`
	Alerted    bool               `json:"alerted"`
	States     []State            `json:"states"`
	Duration   time.Duration      `json:"duration"`
}

// Final returns the last state reached before returning to IDLE.
func (r *TickReport) Final() State {
	if len(r.States) == 0 {
		return StateIdle
	}
	return r.States[len(r.States)-1]
}

func (r *TickReport) enter(s State) { r.States = append(r.States, s) }

// Orchestrator runs ticks. Ticks for the same symbol are serialised; distinct
// symbols run independently.
type Orchestrator struct {
	market  MarketSource
	models  ModelSource
	store   PredictionStore
	grader  *Grader
	alerts  *AlertDispatcher
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an orchestrator. alerts may be nil.
func New(market MarketSource, models ModelSource, store PredictionStore, alerts *AlertDispatcher,
	opts Options, log zerolog.Logger, m *metrics.Recorder) *Orchestrator {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	log = log.With().Str("component", "cycle").Logger()
	return &Orchestrator{
		market:  market,
		models:  models,
		store:   store,
		grader:  NewGrader(store, log, m),
		alerts:  alerts,
		opts:    opts,
		log:     log,
		metrics: m,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// SetClock replaces the time source used for dedup decisions.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

func (o *Orchestrator) lockFor(symbol string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		o.locks[symbol] = l
	}
	return l
}

// Tick runs one full cycle for symbol. It returns an error when no prediction
// could be made (data unavailable, missing model, feature contract
// violation) or when the new prediction could not be written. Failures to
// read history or grade are logged and degrade the tick without an error.
func (o *Orchestrator) Tick(ctx context.Context, symbol string) (*TickReport, error) {
	l := o.lockFor(symbol)
	l.Lock()
	defer l.Unlock()

	start := time.Now()
	report := &TickReport{ID: uuid.NewString(), Symbol: symbol, States: []State{StateIdle}}
	log := o.log.With().Str("symbol", symbol).Str("tick", report.ID).Logger()

	err := o.run(ctx, report, log)
	report.Duration = time.Since(start)

	outcome := strings.ToLower(string(report.Final()))
	switch {
	case errors.Is(err, model.ErrDataUnavailable):
		outcome = "no_data"
		log.Warn().Err(err).Msg("tick skipped, waiting for data")
	case err != nil && report.Final() == StateIdle:
		outcome = "error"
		var contract *model.FeatureContractError
		if errors.As(err, &contract) {
			o.metrics.RecordError("feature_contract")
		}
		log.Error().Err(err).Msg("tick failed")
	case err != nil:
		outcome = "write_failed"
		log.Error().Err(err).Msg("prediction lost this tick")
	}
	o.metrics.RecordTick(symbol, outcome, report.Duration.Seconds())
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, report *TickReport, log zerolog.Logger) error {
	symbol := report.Symbol

	// IDLE -> FEATURES_READY
	series, err := o.market.Collect(ctx, symbol, o.opts.Period, o.opts.Interval)
	if err != nil {
		o.metrics.RecordError("fetch")
		return fmt.Errorf("collect %s: %w", symbol, err)
	}
	if series == nil || len(series.Bars) == 0 {
		return fmt.Errorf("collect %s: %w", symbol, model.ErrDataUnavailable)
	}
	art, err := o.models.Get(symbol, o.opts.Interval)
	if err != nil {
		return fmt.Errorf("model for %s: %w", symbol, err)
	}
	frame := features.Compute(series.Bars)
	row, err := frame.Latest(art.Features)
	if err != nil {
		var contract *model.FeatureContractError
		if errors.As(err, &contract) {
			contract.Ticker = art.Ticker
		}
		return err
	}
	inf, err := art.Infer(row)
	if err != nil {
		return err
	}
	last := frame.Bar(frame.Len() - 1)
	report.Price = last.Close
	report.BarTime = last.Time
	report.ArtifactID = art.ID
	report.Inference = inf
	report.enter(StateFeaturesReady)
	o.metrics.RecordInference(symbol, last.Close, inf.Confidence)
	log.Debug().Str("direction", model.DirectionLabel(inf.Direction)).Float64("confidence", inf.Confidence).
		Float64("price", last.Close).Msg("inference")

	// FEATURES_READY -> GRADED | GRADE_SKIPPED
	history, readErr := o.store.MostRecent(ctx, symbol, 1)
	var gradeErr error
	if readErr != nil {
		o.metrics.RecordError("repository_read")
		log.Error().Err(readErr).Msg("read history, grading and persistence skipped")
		report.enter(StateGradeSkipped)
	} else {
		var graded *model.Prediction
		history, graded, gradeErr = o.grader.GradePending(ctx, history, last.Close)
		switch {
		case gradeErr != nil:
			o.metrics.RecordError("repository_write")
			log.Error().Err(gradeErr).Msg("grading failed, persistence skipped")
			report.enter(StateGradeSkipped)
		case graded != nil:
			report.Graded = graded
			report.enter(StateGraded)
		default:
			report.enter(StateGradeSkipped)
		}
	}

	// -> PERSISTED | DEDUP_SKIPPED
	switch {
	case !o.opts.AutoSave:
		report.SkipReason = SkipAutoSaveOff
	case readErr != nil:
		report.SkipReason = SkipHistoryUnreadable
	case gradeErr != nil:
		report.SkipReason = SkipGradeFailed
	case ShouldSkip(history, o.now(), o.opts.DedupWindow):
		report.SkipReason = SkipRecentPrediction
	}
	if report.SkipReason != "" {
		report.enter(StateDedupSkipped)
		report.enter(StateNoAlert)
		log.Info().Str("reason", report.SkipReason).Msg("prediction not persisted")
		return nil
	}

	saved, err := o.store.Append(ctx, symbol, last.Close, inf.Direction, inf.Confidence)
	if err != nil {
		o.metrics.RecordError("repository_write")
		report.SkipReason = SkipWriteFailed
		report.enter(StateDedupSkipped)
		report.enter(StateNoAlert)
		return fmt.Errorf("persist prediction for %s: %w", symbol, err)
	}
	report.Saved = &saved
	report.enter(StatePersisted)
	o.metrics.RecordPrediction(symbol, model.DirectionLabel(inf.Direction))
	log.Info().Int64("id", saved.ID).Str("direction", model.DirectionLabel(inf.Direction)).
		Float64("confidence", inf.Confidence).Float64("price", last.Close).Msg("prediction saved")

	// PERSISTED -> ALERTED | NO_ALERT
	if o.alerts.MaybeAlert(ctx, inf.Direction, inf.Confidence, o.opts.AlertThreshold, AlertContext{
		Symbol:       symbol,
		Price:        last.Close,
		PredictionID: saved.ID,
		At:           saved.Timestamp,
	}) {
		report.Alerted = true
		report.enter(StateAlerted)
	} else {
		report.enter(StateNoAlert)
	}
	return nil
}

// TickAll ticks every symbol concurrently and returns the reports of the
// ticks that ran along with the joined errors.
func (o *Orchestrator) TickAll(ctx context.Context, symbols []string) ([]*TickReport, error) {
	reports := make([]*TickReport, len(symbols))
	errs := make([]error, len(symbols))

	var g errgroup.Group
	g.SetLimit(4)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			reports[i], errs[i] = o.Tick(ctx, symbol)
			return nil
		})
	}
	g.Wait()
	return reports, errors.Join(errs...)
}
