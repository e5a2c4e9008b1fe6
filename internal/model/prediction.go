package model

import "time"

// Direction of the next bar relative to the current close.
const (
	DirectionFalls = 0
	DirectionRises = 1
)

// Grading outcomes stored in Prediction.Result.
const (
	ResultIncorrect = 0
	ResultCorrect   = 1
)

// Prediction is one persisted directional call. Result is nil while pending.
type Prediction struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	EntryPrice float64   `json:"entry_price"`
	Direction  int       `json:"prediction"`
	Confidence float64   `json:"confidence"`
	Result     *int      `json:"result"`
}

// Pending reports whether the prediction still awaits grading.
func (p Prediction) Pending() bool { return p.Result == nil }

// DirectionLabel returns a short human label for a direction value.
func DirectionLabel(direction int) string {
	if direction == DirectionRises {
		return "RISE"
	}
	return "FALL"
}

// Stats summarises the most recent predictions of a symbol. Window is the
// row limit the history was read with, so every count and WinRate cover at
// most the last Window predictions rather than the full history.
type Stats struct {
	Symbol   string  `json:"symbol"`
	Window   int     `json:"window"`
	Total    int     `json:"total"`
	Pending  int     `json:"pending"`
	Resolved int     `json:"resolved"`
	Wins     int     `json:"wins"`
	WinRate  float64 `json:"win_rate"` // percentage of resolved predictions graded correct
}

// Summarize computes win/loss counts over preds, a newest-first history read
// with the given window.
func Summarize(symbol string, preds []Prediction, window int) Stats {
	s := Stats{Symbol: symbol, Window: window, Total: len(preds)}
	for _, p := range preds {
		if p.Pending() {
			s.Pending++
			continue
		}
		s.Resolved++
		if *p.Result == ResultCorrect {
			s.Wins++
		}
	}
	if s.Resolved > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Resolved) * 100
	}
	return s
}
