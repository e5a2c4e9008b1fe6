package recorder

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"BarOracle/internal/model"
)

// MemoryRepository keeps predictions in process memory. Used in tests and
// when no database is configured.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   []model.Prediction
	opts   options
}

func NewMemoryRepository(opts ...Option) *MemoryRepository {
	return &MemoryRepository{opts: buildOptions(opts)}
}

func (r *MemoryRepository) Init(context.Context) error { return nil }

func (r *MemoryRepository) Append(_ context.Context, symbol string, entryPrice float64, direction int, confidence float64) (model.Prediction, error) {
	if err := validateAppend(symbol, direction, confidence); err != nil {
		return model.Prediction{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	p := model.Prediction{
		ID:         r.nextID,
		Timestamp:  r.opts.now().UTC(),
		Symbol:     symbol,
		EntryPrice: entryPrice,
		Direction:  direction,
		Confidence: confidence,
	}
	r.rows = append(r.rows, p)
	return p, nil
}

func (r *MemoryRepository) MostRecent(_ context.Context, symbol string, limit int) ([]model.Prediction, error) {
	r.mu.RLock()
	var out []model.Prediction
	for _, p := range r.rows {
		if p.Symbol == symbol {
			out = append(out, clonePrediction(p))
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) PatchResult(_ context.Context, id int64, result int) error {
	if err := validateResult(result); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == id {
			v := result
			r.rows[i].Result = &v
			return nil
		}
	}
	return fmt.Errorf("prediction %d: %w", id, model.ErrNotFound)
}

func (r *MemoryRepository) Close() error { return nil }

func clonePrediction(p model.Prediction) model.Prediction {
	if p.Result != nil {
		v := *p.Result
		p.Result = &v
	}
	return p
}
