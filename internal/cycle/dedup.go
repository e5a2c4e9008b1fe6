package cycle

import (
	"time"

	"BarOracle/internal/model"
)

// DefaultDedupWindow leaves slack under a 60s tick cadence for scheduling jitter.
const DefaultDedupWindow = 55 * time.Second

// ShouldSkip reports whether the newest prediction in history (newest first)
// is younger than window.
func ShouldSkip(history []model.Prediction, now time.Time, window time.Duration) bool {
	if len(history) == 0 {
		return false
	}
	return now.Sub(history[0].Timestamp) < window
}
