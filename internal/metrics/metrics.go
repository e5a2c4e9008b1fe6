// Package metrics exposes Prometheus instruments for the prediction cycle,
// training and the HTTP API. All methods are safe on a nil *Recorder.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "baroracle"

// Recorder groups the process metrics.
type Recorder struct {
	ticks       *prometheus.CounterVec
	tickLatency *prometheus.HistogramVec
	predictions *prometheus.CounterVec
	grades      *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	confidence  *prometheus.GaugeVec
	lastPrice   *prometheus.GaugeVec
	errorsTotal *prometheus.CounterVec
	retrains    *prometheus.CounterVec
	accuracy    *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New registers the metrics with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Prediction cycle ticks by outcome",
		}, []string{"symbol", "outcome"}),
		tickLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one prediction cycle tick",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"symbol"}),
		predictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predictions persisted by direction",
		}, []string{"symbol", "direction"}),
		grades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grades_total",
			Help:      "Pending predictions resolved by result",
		}, []string{"symbol", "result"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert dispatch attempts by status",
		}, []string{"status"}),
		confidence: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_confidence_percent",
			Help:      "Confidence of the latest inference",
		}, []string{"symbol"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_price",
			Help:      "Close of the latest bar",
		}, []string{"symbol"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by kind",
		}, []string{"kind"}),
		retrains: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrains_total",
			Help:      "Model retrains by status",
		}, []string{"symbol", "status"}),
		accuracy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_test_accuracy",
			Help:      "Hold-out accuracy of the loaded model",
		}, []string{"symbol"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "method", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "method"}),
	}
}

func (r *Recorder) RecordTick(symbol, outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.ticks.WithLabelValues(symbol, outcome).Inc()
	r.tickLatency.WithLabelValues(symbol).Observe(seconds)
}

func (r *Recorder) RecordPrediction(symbol, direction string) {
	if r == nil {
		return
	}
	r.predictions.WithLabelValues(symbol, direction).Inc()
}

func (r *Recorder) RecordInference(symbol string, price, confidence float64) {
	if r == nil {
		return
	}
	r.lastPrice.WithLabelValues(symbol).Set(price)
	r.confidence.WithLabelValues(symbol).Set(confidence)
}

func (r *Recorder) RecordGrade(symbol string, correct bool) {
	if r == nil {
		return
	}
	result := "incorrect"
	if correct {
		result = "correct"
	}
	r.grades.WithLabelValues(symbol, result).Inc()
}

// RecordAlert counts an alert attempt; status is sent, failed or disabled.
func (r *Recorder) RecordAlert(status string) {
	if r == nil {
		return
	}
	r.alerts.WithLabelValues(status).Inc()
}

func (r *Recorder) RecordError(kind string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordRetrain(symbol string, err error, accuracy float64) {
	if r == nil {
		return
	}
	if err != nil {
		r.retrains.WithLabelValues(symbol, "failed").Inc()
		return
	}
	r.retrains.WithLabelValues(symbol, "ok").Inc()
	r.accuracy.WithLabelValues(symbol).Set(accuracy)
}

func (r *Recorder) RecordHTTP(route, method, status string, seconds float64) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, status).Inc()
	r.httpLatency.WithLabelValues(route, method).Observe(seconds)
}
