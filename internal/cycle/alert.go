package cycle

import (
	"context"
	"time"

	"BarOracle/internal/metrics"
	"BarOracle/internal/notifier"

	"github.com/rs/zerolog"
)

// DefaultAlertTimeout bounds one outbound alert call.
const DefaultAlertTimeout = 5 * time.Second

// Sink delivers alert text.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// AlertContext describes the prediction an alert is about.
type AlertContext struct {
	Symbol       string
	Price        float64
	PredictionID int64
	At           time.Time
}

// AlertDispatcher sends threshold-gated notifications. It never returns an
// error; failures are logged and counted.
type AlertDispatcher struct {
	sink    Sink
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.Recorder
}

// NewAlertDispatcher builds a dispatcher. A nil sink, or one reporting
// Enabled() == false, disables alerting.
func NewAlertDispatcher(sink Sink, timeout time.Duration, log zerolog.Logger, m *metrics.Recorder) *AlertDispatcher {
	if timeout <= 0 {
		timeout = DefaultAlertTimeout
	}
	return &AlertDispatcher{
		sink:    sink,
		timeout: timeout,
		log:     log.With().Str("component", "alert").Logger(),
		metrics: m,
	}
}

func (d *AlertDispatcher) enabled() bool {
	if d.sink == nil {
		return false
	}
	if e, ok := d.sink.(interface{ Enabled() bool }); ok {
		return e.Enabled()
	}
	return true
}

// MaybeAlert sends an alert iff confidence >= threshold. It reports whether
// the sink was called.
func (d *AlertDispatcher) MaybeAlert(ctx context.Context, direction int, confidence, threshold float64, ac AlertContext) bool {
	if d == nil || confidence < threshold {
		return false
	}
	if !d.enabled() {
		d.metrics.RecordAlert("disabled")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	text := notifier.FormatPredictionAlert(ac.Symbol, direction, confidence, ac.Price, ac.At)
	if err := d.sink.Send(ctx, text); err != nil {
		d.metrics.RecordAlert("failed")
		d.log.Error().Err(err).Str("symbol", ac.Symbol).Int64("prediction", ac.PredictionID).Msg("alert delivery failed")
		return true
	}
	d.metrics.RecordAlert("sent")
	d.log.Info().Str("symbol", ac.Symbol).Float64("confidence", confidence).Msg("alert sent")
	return true
}
