package cycle

import (
	"context"
	"fmt"

	"BarOracle/internal/metrics"
	"BarOracle/internal/model"

	"github.com/rs/zerolog"
)

// ResultPatcher records the grading outcome of a prediction.
type ResultPatcher interface {
	PatchResult(ctx context.Context, id int64, result int) error
}

// Grader resolves the newest pending prediction against the current price.
type Grader struct {
	store   ResultPatcher
	log     zerolog.Logger
	metrics *metrics.Recorder
}

func NewGrader(store ResultPatcher, log zerolog.Logger, m *metrics.Recorder) *Grader {
	return &Grader{store: store, log: log.With().Str("component", "grader").Logger(), metrics: m}
}

// Outcome scores a call. An unchanged price counts as incorrect for both
// directions.
func Outcome(direction int, entryPrice, currentPrice float64) int {
	if direction == model.DirectionRises && currentPrice > entryPrice {
		return model.ResultCorrect
	}
	if direction == model.DirectionFalls && currentPrice < entryPrice {
		return model.ResultCorrect
	}
	return model.ResultIncorrect
}

// GradePending inspects only history[0], the newest record. If it is pending
// it is patched and the returned history carries the result; the graded
// prediction is returned as well. Resolved or empty histories are returned
// unchanged with a nil prediction.
func (g *Grader) GradePending(ctx context.Context, history []model.Prediction, currentPrice float64) ([]model.Prediction, *model.Prediction, error) {
	if len(history) == 0 || !history[0].Pending() {
		return history, nil, nil
	}
	p := history[0]
	result := Outcome(p.Direction, p.EntryPrice, currentPrice)
	if err := g.store.PatchResult(ctx, p.ID, result); err != nil {
		return history, nil, fmt.Errorf("grade prediction %d: %w", p.ID, err)
	}

	p.Result = &result
	updated := make([]model.Prediction, len(history))
	copy(updated, history)
	updated[0] = p

	g.metrics.RecordGrade(p.Symbol, result == model.ResultCorrect)
	g.log.Info().
		Int64("id", p.ID).
		Str("symbol", p.Symbol).
		Str("direction", model.DirectionLabel(p.Direction)).
		Float64("entry", p.EntryPrice).
		Float64("price", currentPrice).
		Bool("correct", result == model.ResultCorrect).
		Msg("prediction graded")
	return updated, &p, nil
}
