package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BarOracle/internal/artifact"
	"BarOracle/internal/classifier"
	"BarOracle/internal/collector"
	"BarOracle/internal/config"
	"BarOracle/internal/cycle"
	"BarOracle/internal/logging"
	"BarOracle/internal/metrics"
	"BarOracle/internal/notifier"
	"BarOracle/internal/recorder"
	"BarOracle/internal/scheduler"
	"BarOracle/internal/server"
	"BarOracle/internal/training"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}

	logger, logCloser, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init logging")
	}
	defer logCloser.Close()
	logger.Info().Strs("symbols", cfg.Symbols).Msg("BarOracle starting")

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(prometheus.DefaultRegisterer)

	store, err := recorder.Open(ctx, cfg.Database.Driver, cfg.Database.SQLitePath, cfg.Database.PostgresDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("open prediction store")
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.Database.Driver).Msg("prediction store ready")

	fetcher, err := collector.NewFetcher(cfg.Market.Source, cfg.Market.BaseURL, cfg.Market.APIKey, cfg.Market.Proxy)
	if err != nil {
		logger.Fatal().Err(err).Msg("init market source")
	}
	col := collector.NewCollector(fetcher, cfg.Market.RequestsPerMinute, logger)
	logger.Info().Str("source", fetcher.Name()).Msg("market source ready")

	artifacts, err := artifact.NewStore(cfg.Model.Dir)
	if err != nil {
		logger.Fatal().Err(err).Msg("init artifact store")
	}
	registry := artifact.NewRegistry(artifacts, cfg.Model.FallbackTicker, logger)

	tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Market.Proxy, logger)
	if !cfg.TelegramEnabled() {
		logger.Warn().Msg("telegram not configured, alerts and commands disabled")
	}
	alerts := cycle.NewAlertDispatcher(tn, cfg.Alert.Timeout, logger, m)

	orch := cycle.New(col, registry, store, alerts, cycle.Options{
		Period:         cfg.Market.Period,
		Interval:       cfg.Market.Interval,
		AutoSave:       cfg.Prediction.AutoSave,
		DedupWindow:    cfg.Prediction.DedupWindow,
		AlertThreshold: cfg.Alert.Threshold,
	}, logger, m)

	pipeline := training.NewPipeline(col, artifacts, registry, training.Config{
		Features:     cfg.Model.Features,
		TestFraction: cfg.Model.TestFraction,
		Fit:          classifier.FitOptions{L2: cfg.Model.L2},
	}, logger, m)

	sched := scheduler.New(ctx, orch, pipeline, store, registry, scheduler.Config{
		Symbols:      cfg.Symbols,
		TickCron:     cfg.Schedule.TickCron,
		RetrainCron:  cfg.Schedule.RetrainCron,
		TrainPeriod:  cfg.Model.TrainPeriod,
		Interval:     cfg.Market.Interval,
		HistoryLimit: cfg.Prediction.HistoryLimit,
	}, logger)
	if cfg.TelegramEnabled() {
		sched.SetAnnouncer(tn)
	}
	if err := sched.RegisterAll(); err != nil {
		logger.Fatal().Err(err).Msg("register cron tasks")
	}
	sched.Start()
	defer sched.Stop(30 * time.Second)

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(server.Config{
			Addr:         cfg.Server.Addr,
			Symbols:      cfg.Symbols,
			Interval:     cfg.Market.Interval,
			TrainPeriod:  cfg.Model.TrainPeriod,
			HistoryLimit: cfg.Prediction.HistoryLimit,
			Ticker:       orch,
			Retrainer:    pipeline,
			History:      store,
			Models:       registry,
			Gatherer:     prometheus.DefaultGatherer,
			Metrics:      m,
			Log:          logger,
		})
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("HTTP server stopped")
				cancel()
			}
		}()
	}

	// Start Telegram polling
	if cfg.TelegramEnabled() {
		go tn.StartPolling(ctx, sched.HandleCommand)
		logger.Info().Msg("telegram polling started")
	}

	// Optional: run immediately on start
	if os.Getenv("RUN_ON_START") == "true" {
		logger.Info().Msg("RUN_ON_START enabled, ticking every symbol now")
		go sched.RunNow()
	}

	logger.Info().Msg("BarOracle is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received, stopping...")
	case <-ctx.Done():
	}
	cancel()

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown")
		}
	}
	logger.Info().Msg("BarOracle stopped")
}
