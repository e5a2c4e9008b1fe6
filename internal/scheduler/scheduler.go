// Package scheduler drives the prediction cycle on a cron schedule and
// answers chat commands.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"BarOracle/internal/artifact"
	"BarOracle/internal/cycle"
	"BarOracle/internal/logging"
	"BarOracle/internal/model"
	"BarOracle/internal/notifier"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Ticker runs prediction cycles for one symbol or for a batch of symbols.
type Ticker interface {
	Tick(ctx context.Context, symbol string) (*cycle.TickReport, error)
	TickAll(ctx context.Context, symbols []string) ([]*cycle.TickReport, error)
}

// Retrainer rebuilds and publishes the model for a symbol.
type Retrainer interface {
	Retrain(ctx context.Context, symbol, period, interval string) (*artifact.Artifact, error)
}

// HistoryReader reads persisted predictions.
type HistoryReader interface {
	MostRecent(ctx context.Context, symbol string, limit int) ([]model.Prediction, error)
}

// Announcer pushes unsolicited messages to the chat.
type Announcer interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Config selects what runs and when.
type Config struct {
	Symbols      []string
	TickCron     string
	RetrainCron  string
	TrainPeriod  string
	Interval     string
	HistoryLimit int
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	cron      *cron.Cron
	ticker    Ticker
	retrainer Retrainer
	history   HistoryReader
	models    cycle.ModelSource
	announcer Announcer
	cfg       Config
	log       zerolog.Logger
	ctx       context.Context
}

// New creates a scheduler. Jobs receive ctx; cancel it to abort running ticks.
// retrainer may be nil, in which case retraining is unavailable.
func New(ctx context.Context, ticker Ticker, retrainer Retrainer, history HistoryReader, models cycle.ModelSource,
	cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	log = log.With().Str("component", "scheduler").Logger()
	cl := logging.CronLogger(log)
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ticker:    ticker,
		retrainer: retrainer,
		history:   history,
		models:    models,
		cfg:       cfg,
		log:       log,
		ctx:       ctx,
	}
}

// RegisterAll registers one tick job per symbol and, when configured, the
// retrain job. Each job is skipped while its previous run is still going.
func (s *Scheduler) RegisterAll() error {
	for _, symbol := range s.cfg.Symbols {
		if _, err := s.cron.AddFunc(s.cfg.TickCron, func() { s.tick(symbol) }); err != nil {
			return fmt.Errorf("register tick for %s: %w", symbol, err)
		}
	}
	if s.cfg.RetrainCron != "" && s.retrainer != nil {
		if _, err := s.cron.AddFunc(s.cfg.RetrainCron, s.retrainAll); err != nil {
			return fmt.Errorf("register retrain: %w", err)
		}
	}
	return nil
}

// SetAnnouncer enables chat summaries of scheduled retrains.
func (s *Scheduler) SetAnnouncer(a Announcer) { s.announcer = a }

// Entries reports the number of registered jobs.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", s.Entries()).Msg("scheduler started")
}

// Stop stops the scheduler and waits up to timeout for running jobs.
func (s *Scheduler) Stop(timeout time.Duration) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(timeout):
		s.log.Warn().Msg("jobs still running at shutdown")
	}
	s.log.Info().Msg("scheduler stopped")
}

// RunNow ticks every symbol once, concurrently (for manual trigger / RUN_ON_START).
func (s *Scheduler) RunNow() {
	reports, err := s.ticker.TickAll(s.ctx, s.cfg.Symbols)
	saved := 0
	for _, r := range reports {
		if r != nil && r.Saved != nil {
			saved++
		}
	}
	ev := s.log.Info()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Int("symbols", len(s.cfg.Symbols)).Int("saved", saved).Msg("run now finished")
}

func (s *Scheduler) tick(symbol string) {
	// Errors are already logged and counted by the orchestrator.
	_, _ = s.ticker.Tick(s.ctx, symbol)
}

func (s *Scheduler) retrainAll() {
	s.log.Info().Msg("running scheduled retrain")
	lines := make([]string, 0, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		if s.ctx.Err() != nil {
			return
		}
		a, err := s.retrainer.Retrain(s.ctx, symbol, s.cfg.TrainPeriod, s.cfg.Interval)
		lines = append(lines, notifier.FormatRetrain(symbol, a, err))
	}
	s.trySend("🧠 <b>Scheduled retrain</b>\n\n" + strings.Join(lines, "\n\n"))
}

func (s *Scheduler) trySend(text string) {
	if s.announcer == nil {
		return
	}
	if err := s.announcer.SendWithRetry(s.ctx, text, 3); err != nil {
		s.log.Error().Err(err).Msg("send notification")
	}
}

// HandleCommand processes a chat command and returns the reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.FormatHelp()
	}
	name := strings.ToLower(fields[0])
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	var arg string
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch name {
	case "/start", "/help":
		return notifier.FormatHelp()
	case "/stats":
		return s.stats(ctx)
	case "/predict", "/history", "/model", "/retrain":
	default:
		return notifier.FormatHelp()
	}

	symbol, reply := s.resolve(arg)
	if reply != "" {
		return reply
	}
	switch name {
	case "/predict":
		return s.predict(ctx, symbol)
	case "/history":
		preds, err := s.history.MostRecent(ctx, symbol, s.cfg.HistoryLimit)
		if err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("read history")
			return "History unavailable, try again later"
		}
		return notifier.FormatHistory(symbol, preds)
	case "/model":
		a, err := s.models.Get(symbol, s.cfg.Interval)
		if err != nil {
			if errors.Is(err, model.ErrArtifactMissing) {
				return fmt.Sprintf("No model loaded for %s", symbol)
			}
			return fmt.Sprintf("Model for %s unavailable: %v", symbol, err)
		}
		return notifier.FormatModel(symbol, a)
	default:
		return s.retrain(ctx, symbol)
	}
}

// resolve maps a command argument to a configured symbol; an empty argument
// selects the first one. A non-empty reply means the argument was rejected.
func (s *Scheduler) resolve(arg string) (symbol, reply string) {
	if len(s.cfg.Symbols) == 0 {
		return "", "No symbols configured"
	}
	if arg == "" {
		return s.cfg.Symbols[0], ""
	}
	for _, sym := range s.cfg.Symbols {
		if strings.EqualFold(sym, arg) {
			return sym, ""
		}
	}
	return "", fmt.Sprintf("Unknown symbol %s. Configured: %s", arg, strings.Join(s.cfg.Symbols, ", "))
}

func (s *Scheduler) predict(ctx context.Context, symbol string) string {
	report, err := s.ticker.Tick(ctx, symbol)
	switch {
	case errors.Is(err, model.ErrDataUnavailable):
		return fmt.Sprintf("Not enough market data for %s yet", symbol)
	case errors.Is(err, model.ErrArtifactMissing):
		return fmt.Sprintf("No model loaded for %s", symbol)
	case err != nil && (report == nil || report.Final() == cycle.StateIdle):
		return fmt.Sprintf("Prediction for %s failed: %v", symbol, err)
	}
	return notifier.FormatTick(symbol, report.Inference.Direction, report.Inference.Confidence, report.Price,
		report.Saved != nil, report.Alerted)
}

func (s *Scheduler) retrain(ctx context.Context, symbol string) string {
	if s.retrainer == nil {
		return "Retraining is not available"
	}
	a, err := s.retrainer.Retrain(ctx, symbol, s.cfg.TrainPeriod, s.cfg.Interval)
	return notifier.FormatRetrain(symbol, a, err)
}

func (s *Scheduler) stats(ctx context.Context) string {
	stats := make([]model.Stats, 0, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		preds, err := s.history.MostRecent(ctx, symbol, s.cfg.HistoryLimit)
		if err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("read history")
			return "Stats unavailable, try again later"
		}
		stats = append(stats, model.Summarize(symbol, preds, s.cfg.HistoryLimit))
	}
	return notifier.FormatStats(stats)
}
