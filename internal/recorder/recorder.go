// Package recorder persists predictions. The Repository is the only writer of
// prediction rows; every other component reads through it.
package recorder

import (
	"context"
	"fmt"

	"BarOracle/internal/model"

	"github.com/rs/zerolog"
)

// Repository is the durable prediction store.
type Repository interface {
	// Init creates the schema. Calling it on an existing schema is a no-op.
	Init(ctx context.Context) error
	// Append stores a new pending prediction and assigns its id and timestamp.
	Append(ctx context.Context, symbol string, entryPrice float64, direction int, confidence float64) (model.Prediction, error)
	// MostRecent returns up to limit predictions for symbol, newest first.
	MostRecent(ctx context.Context, symbol string, limit int) ([]model.Prediction, error)
	// PatchResult sets the grading outcome. It returns model.ErrNotFound for an
	// unknown id; repeating the same call is harmless.
	PatchResult(ctx context.Context, id int64, result int) error
	Close() error
}

func validateAppend(symbol string, direction int, confidence float64) error {
	if symbol == "" {
		return fmt.Errorf("append prediction: empty symbol")
	}
	if direction != model.DirectionFalls && direction != model.DirectionRises {
		return fmt.Errorf("append prediction: invalid direction %d", direction)
	}
	if confidence < 50 || confidence > 100 {
		return fmt.Errorf("append prediction: confidence %.4f outside [50,100]", confidence)
	}
	return nil
}

func validateResult(result int) error {
	if result != model.ResultIncorrect && result != model.ResultCorrect {
		return fmt.Errorf("patch result: invalid result %d", result)
	}
	return nil
}

// Open returns the repository for driver: "sqlite", "postgres" or "memory".
func Open(ctx context.Context, driver, sqlitePath, postgresDSN string, log zerolog.Logger, opts ...Option) (Repository, error) {
	switch driver {
	case "", "sqlite":
		r, err := NewSQLiteRepository(ctx, sqlitePath, log, opts...)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "postgres":
		r, err := NewPostgresRepository(ctx, postgresDSN, log, opts...)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "memory":
		return NewMemoryRepository(opts...), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
