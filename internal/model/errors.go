package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDataUnavailable means the market source returned no usable bars this cycle.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrWarmup means the window is too short to fill the rolling indicators.
	ErrWarmup = fmt.Errorf("%w: indicator warm-up not complete", ErrDataUnavailable)
	// ErrNotFound is returned when a prediction id does not exist.
	ErrNotFound = errors.New("prediction not found")
	// ErrArtifactMissing is returned when no model artifact exists for a symbol.
	ErrArtifactMissing = errors.New("model artifact missing")
)

// FeatureContractError reports features the model requires but the computed row lacks.
// It indicates a stale or incompatible model artifact.
type FeatureContractError struct {
	Ticker  string
	Missing []string
}

func (e *FeatureContractError) Error() string {
	return fmt.Sprintf("feature contract violation for %s model: missing %s",
		e.Ticker, strings.Join(e.Missing, ", "))
}
