package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"BarOracle/internal/artifact"
	"BarOracle/internal/classifier"
	"BarOracle/internal/cycle"
	"BarOracle/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicker struct {
	mu      sync.Mutex
	calls   []string
	batches int
	err     error
}

func (f *fakeTicker) TickAll(ctx context.Context, symbols []string) ([]*cycle.TickReport, error) {
	f.mu.Lock()
	f.batches++
	f.mu.Unlock()
	reports := make([]*cycle.TickReport, len(symbols))
	errs := make([]error, len(symbols))
	var wg sync.WaitGroup
	for i, symbol := range symbols {
		i, symbol := i, symbol
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = f.Tick(ctx, symbol)
		}()
	}
	wg.Wait()
	return reports, errors.Join(errs...)
}

func (f *fakeTicker) Tick(_ context.Context, symbol string) (*cycle.TickReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, symbol)
	f.mu.Unlock()
	r := &cycle.TickReport{Symbol: symbol, States: []cycle.State{cycle.StateIdle}}
	if f.err != nil {
		return r, f.err
	}
	r.Price = 101.5
	r.Inference = artifact.Inference{Direction: model.DirectionRises, Confidence: 72.5}
	r.Saved = &model.Prediction{ID: 1, Symbol: symbol}
	r.States = append(r.States, cycle.StateFeaturesReady, cycle.StatePersisted, cycle.StateNoAlert)
	return r, nil
}

type fakeRetrainer struct {
	calls []string
	err   error
}

func (f *fakeRetrainer) Retrain(_ context.Context, symbol, period, interval string) (*artifact.Artifact, error) {
	f.calls = append(f.calls, symbol+"/"+period+"/"+interval)
	if f.err != nil {
		return nil, f.err
	}
	return &artifact.Artifact{Ticker: symbol, Interval: interval, Metrics: &classifier.Metrics{Accuracy: 0.625}}, nil
}

type fakeHistory struct {
	rows map[string][]model.Prediction
	err  error
}

func (f *fakeHistory) MostRecent(_ context.Context, symbol string, limit int) ([]model.Prediction, error) {
	if f.err != nil {
		return nil, f.err
	}
	rows := f.rows[symbol]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

type fakeModels struct {
	byTicker map[string]*artifact.Artifact
}

func (f *fakeModels) Get(symbol, _ string) (*artifact.Artifact, error) {
	if a, ok := f.byTicker[symbol]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%s: %w", symbol, model.ErrArtifactMissing)
}

func result(v int) *int { return &v }

type harness struct {
	s         *Scheduler
	ticker    *fakeTicker
	retrainer *fakeRetrainer
	history   *fakeHistory
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		ticker:    &fakeTicker{},
		retrainer: &fakeRetrainer{},
		history: &fakeHistory{rows: map[string][]model.Prediction{
			"BTC-USD": {
				{ID: 3, Symbol: "BTC-USD", Direction: 1, Confidence: 70, EntryPrice: 100, Timestamp: time.Unix(300, 0)},
				{ID: 2, Symbol: "BTC-USD", Direction: 1, Confidence: 65, EntryPrice: 99, Timestamp: time.Unix(200, 0), Result: result(1)},
				{ID: 1, Symbol: "BTC-USD", Direction: 0, Confidence: 60, EntryPrice: 98, Timestamp: time.Unix(100, 0), Result: result(0)},
			},
		}},
	}
	models := &fakeModels{byTicker: map[string]*artifact.Artifact{
		"BTC-USD": {Ticker: "BTC-USD", Interval: "1m", Features: []string{"Returns_1m"}},
	}}
	if cfg.Symbols == nil {
		cfg.Symbols = []string{"BTC-USD", "ETH-USD"}
	}
	if cfg.TickCron == "" {
		cfg.TickCron = "0 * * * * *"
	}
	cfg.Interval = "1m"
	cfg.TrainPeriod = "5d"
	h.s = New(context.Background(), h.ticker, h.retrainer, h.history, models, cfg, zerolog.Nop())
	return h
}

func TestRegisterAll(t *testing.T) {
	h := newHarness(t, Config{RetrainCron: "0 0 3 * * *"})
	require.NoError(t, h.s.RegisterAll())
	assert.Equal(t, 3, h.s.Entries())

	h = newHarness(t, Config{})
	require.NoError(t, h.s.RegisterAll())
	assert.Equal(t, 2, h.s.Entries())
}

func TestRegisterAll_BadCron(t *testing.T) {
	h := newHarness(t, Config{TickCron: "every minute"})
	require.Error(t, h.s.RegisterAll())
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.s.RegisterAll())
	h.s.Start()
	h.s.Stop(time.Second)
}

func TestRunNow(t *testing.T) {
	h := newHarness(t, Config{})
	h.s.RunNow()
	assert.Equal(t, 1, h.ticker.batches)
	assert.ElementsMatch(t, []string{"BTC-USD", "ETH-USD"}, h.ticker.calls)

	h.ticker.err = errors.New("feed down")
	h.s.RunNow()
	assert.Equal(t, 2, h.ticker.batches)
	assert.Len(t, h.ticker.calls, 4)
}

type fakeAnnouncer struct {
	sent []string
}

func (f *fakeAnnouncer) SendWithRetry(_ context.Context, text string, _ int) error {
	f.sent = append(f.sent, text)
	return nil
}

func TestRetrainAll(t *testing.T) {
	h := newHarness(t, Config{RetrainCron: "@daily"})
	h.s.retrainAll()
	assert.Equal(t, []string{"BTC-USD/5d/1m", "ETH-USD/5d/1m"}, h.retrainer.calls)

	ann := &fakeAnnouncer{}
	h.s.SetAnnouncer(ann)
	h.s.retrainAll()
	require.Len(t, ann.sent, 1)
	assert.Contains(t, ann.sent[0], "Scheduled retrain")
	assert.Contains(t, ann.sent[0], "Retrained BTC-USD (1m)")
	assert.Contains(t, ann.sent[0], "Retrained ETH-USD (1m)")
}

func TestHandleCommand_Help(t *testing.T) {
	h := newHarness(t, Config{})
	for _, cmd := range []string{"", "/help", "/start", "hello", "/unknown"} {
		assert.Contains(t, h.s.HandleCommand(context.Background(), cmd), "/predict", cmd)
	}
}

func TestHandleCommand_Predict(t *testing.T) {
	h := newHarness(t, Config{})
	reply := h.s.HandleCommand(context.Background(), "/predict eth-usd")
	assert.Contains(t, reply, "ETH-USD")
	assert.Contains(t, reply, "RISE")
	assert.Contains(t, reply, "72.5%")
	assert.Equal(t, []string{"ETH-USD"}, h.ticker.calls)

	reply = h.s.HandleCommand(context.Background(), "/predict@BarOracleBot")
	assert.Contains(t, reply, "BTC-USD")
}

func TestHandleCommand_PredictErrors(t *testing.T) {
	h := newHarness(t, Config{})

	h.ticker.err = fmt.Errorf("collect: %w", model.ErrWarmup)
	assert.Contains(t, h.s.HandleCommand(context.Background(), "/predict"), "Not enough market data")

	h.ticker.err = model.ErrArtifactMissing
	assert.Contains(t, h.s.HandleCommand(context.Background(), "/predict"), "No model loaded")

	h.ticker.err = errors.New("boom")
	assert.Contains(t, h.s.HandleCommand(context.Background(), "/predict"), "failed: boom")
}

func TestHandleCommand_UnknownSymbol(t *testing.T) {
	h := newHarness(t, Config{})
	reply := h.s.HandleCommand(context.Background(), "/predict DOGE")
	assert.Contains(t, reply, "Unknown symbol DOGE")
	assert.Empty(t, h.ticker.calls)
}

func TestHandleCommand_History(t *testing.T) {
	h := newHarness(t, Config{HistoryLimit: 2})
	reply := h.s.HandleCommand(context.Background(), "/history BTC-USD")
	assert.Contains(t, reply, "⏳")
	assert.Contains(t, reply, "✅")
	assert.NotContains(t, reply, "❌")

	assert.Contains(t, h.s.HandleCommand(context.Background(), "/history ETH-USD"), "No predictions yet")

	h.history.err = errors.New("db down")
	assert.Equal(t, "History unavailable, try again later", h.s.HandleCommand(context.Background(), "/history"))
}

func TestHandleCommand_Stats(t *testing.T) {
	h := newHarness(t, Config{})
	reply := h.s.HandleCommand(context.Background(), "/stats")
	assert.Contains(t, reply, "(last 10 per symbol)")
	assert.Contains(t, reply, "BTC-USD: 50.0% win (1/2), 1 pending")
	assert.Contains(t, reply, "ETH-USD: 0 total, none graded yet")

	h.history.err = errors.New("db down")
	assert.Equal(t, "Stats unavailable, try again later", h.s.HandleCommand(context.Background(), "/stats"))
}

func TestHandleCommand_Model(t *testing.T) {
	h := newHarness(t, Config{})
	assert.Contains(t, h.s.HandleCommand(context.Background(), "/model BTC-USD"), "Trained on: BTC-USD (1m)")
	assert.Equal(t, "No model loaded for ETH-USD", h.s.HandleCommand(context.Background(), "/model ETH-USD"))
}

func TestHandleCommand_Retrain(t *testing.T) {
	h := newHarness(t, Config{})
	reply := h.s.HandleCommand(context.Background(), "/retrain BTC-USD")
	assert.Contains(t, reply, "Retrained BTC-USD (1m)")
	assert.Contains(t, reply, "62.5%")

	h.retrainer.err = errors.New("single class")
	assert.Contains(t, h.s.HandleCommand(context.Background(), "/retrain"), "failed: single class")
}

func TestHandleCommand_RetrainUnavailable(t *testing.T) {
	s := New(context.Background(), &fakeTicker{}, nil, &fakeHistory{}, &fakeModels{},
		Config{Symbols: []string{"BTC-USD"}, TickCron: "@every 1m", RetrainCron: "@daily"}, zerolog.Nop())
	require.NoError(t, s.RegisterAll())
	assert.Equal(t, 1, s.Entries())
	assert.Equal(t, "Retraining is not available", s.HandleCommand(context.Background(), "/retrain"))
}
