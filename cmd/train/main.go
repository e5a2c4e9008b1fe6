// Command train builds a model artifact from a bars CSV or from the
// configured market source, or downloads bars to CSV with -fetch-only.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"BarOracle/internal/artifact"
	"BarOracle/internal/classifier"
	"BarOracle/internal/collector"
	"BarOracle/internal/config"
	"BarOracle/internal/logging"
	"BarOracle/internal/model"
	"BarOracle/internal/training"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type options struct {
	csvPath   string
	symbol    string
	period    string
	interval  string
	modelDir  string
	fetchOnly bool
	out       string
}

func main() {
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	var opts options
	flag.StringVar(&opts.csvPath, "csv", "", "train from this bars CSV instead of fetching")
	flag.StringVar(&opts.symbol, "symbol", cfg.Symbols[0], "ticker to train")
	flag.StringVar(&opts.period, "period", cfg.Model.TrainPeriod, "lookback to fetch, e.g. 5d")
	flag.StringVar(&opts.interval, "interval", cfg.Model.TrainInterval, "bar size, e.g. 1m")
	flag.StringVar(&opts.modelDir, "model-dir", cfg.Model.Dir, "artifact directory")
	flag.BoolVar(&opts.fetchOnly, "fetch-only", false, "download bars to -out and exit")
	flag.StringVar(&opts.out, "out", "", "CSV path for -fetch-only (default stdout)")
	flag.Parse()

	logger, closer, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, os.Stdout, logger); err != nil {
		logger.Error().Err(err).Msg("train failed")
		stop()
		closer.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, stdout io.Writer, logger zerolog.Logger) error {
	bars, err := loadBars(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}

	if opts.fetchOnly {
		w := stdout
		if opts.out != "" {
			f, err := os.Create(opts.out)
			if err != nil {
				return fmt.Errorf("create %s: %w", opts.out, err)
			}
			defer f.Close()
			w = f
		}
		if err := training.WriteCSV(w, bars); err != nil {
			return err
		}
		logger.Info().Int("bars", len(bars)).Str("out", opts.out).Msg("bars written")
		return nil
	}

	a, report, err := training.Train(opts.symbol, opts.interval, bars, training.Config{
		Features:     cfg.Model.Features,
		TestFraction: cfg.Model.TestFraction,
		Fit:          classifier.FitOptions{L2: cfg.Model.L2},
	})
	if err != nil {
		return err
	}
	store, err := artifact.NewStore(opts.modelDir)
	if err != nil {
		return err
	}
	if err := store.Save(a); err != nil {
		return err
	}
	printReport(stdout, a, report, store.Path(a.Ticker, a.Interval))
	return nil
}

func loadBars(ctx context.Context, cfg *config.Config, opts options, logger zerolog.Logger) ([]model.OHLCV, error) {
	if opts.csvPath != "" {
		f, err := os.Open(opts.csvPath)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", opts.csvPath, err)
		}
		defer f.Close()
		bars, err := training.ReadCSV(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", opts.csvPath, err)
		}
		return bars, nil
	}

	fetcher, err := collector.NewFetcher(cfg.Market.Source, cfg.Market.BaseURL, cfg.Market.APIKey, cfg.Market.Proxy)
	if err != nil {
		return nil, err
	}
	series, err := collector.NewCollector(fetcher, 0, logger).Collect(ctx, opts.symbol, opts.period, opts.interval)
	if err != nil {
		return nil, err
	}
	return series.Bars, nil
}

func printReport(w io.Writer, a *artifact.Artifact, r training.Report, path string) {
	fmt.Fprintf(w, "Model %s for %s (%s)\n", a.ID, a.Ticker, a.Interval)
	fmt.Fprintf(w, "Saved to %s\n\n", path)
	fmt.Fprintf(w, "Rows: %d (train %d, test %d)\n", r.Rows, r.TrainRows, r.TestRows)
	fmt.Fprintf(w, "Class balance: %.1f%% rises\n\n", r.ClassBalance*100)
	fmt.Fprintf(w, "Accuracy:  %.3f\n", r.Test.Accuracy)
	fmt.Fprintf(w, "Precision: %.3f\n", r.Test.Precision)
	fmt.Fprintf(w, "Recall:    %.3f\n", r.Test.Recall)
	fmt.Fprintf(w, "F1:        %.3f\n", r.Test.F1)
	if len(a.Importance) > 0 {
		fmt.Fprintln(w, "\nFeature importance:")
		for _, fw := range a.Importance {
			fmt.Fprintf(w, "  %-12s %.4f\n", fw.Name, fw.Weight)
		}
	}
}
