// Package config loads the YAML configuration, applies environment overrides
// and validates the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Symbols    []string   `yaml:"symbols" validate:"min=1,dive,required"`
	Market     Market     `yaml:"market"`
	Schedule   Schedule   `yaml:"schedule"`
	Prediction Prediction `yaml:"prediction"`
	Alert      Alert      `yaml:"alert"`
	Telegram   Telegram   `yaml:"telegram"`
	Database   Database   `yaml:"database"`
	Model      Model      `yaml:"model"`
	Server     Server     `yaml:"server"`
	Log        Log        `yaml:"log"`
}

type Market struct {
	Source            string `yaml:"source" default:"yahoo" validate:"oneof=yahoo http mock"`
	BaseURL           string `yaml:"base_url" validate:"omitempty,url"`
	APIKey            string `yaml:"api_key"`
	Period            string `yaml:"period" default:"1d" validate:"required"`
	Interval          string `yaml:"interval" default:"1m" validate:"required"`
	Proxy             string `yaml:"proxy"`
	RequestsPerMinute int    `yaml:"requests_per_minute" default:"30" validate:"gte=0"`
}

type Schedule struct {
	TickCron    string `yaml:"tick_cron" default:"0 * * * * *" validate:"required"`
	RetrainCron string `yaml:"retrain_cron"`
}

type Prediction struct {
	AutoSave     bool          `yaml:"auto_save" default:"true"`
	DedupWindow  time.Duration `yaml:"dedup_window" default:"55s" validate:"gt=0"`
	HistoryLimit int           `yaml:"history_limit" default:"20" validate:"gte=1,lte=1000"`
}

type Alert struct {
	Threshold float64       `yaml:"threshold" default:"80" validate:"gte=50,lte=100"`
	Timeout   time.Duration `yaml:"timeout" default:"5s" validate:"gt=0"`
}

type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type Database struct {
	Driver      string `yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres memory"`
	SQLitePath  string `yaml:"sqlite_path" default:"data/predictions.db"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type Model struct {
	Dir            string   `yaml:"dir" default:"models" validate:"required"`
	FallbackTicker string   `yaml:"fallback_ticker"`
	Features       []string `yaml:"features"`
	TrainPeriod    string   `yaml:"train_period" default:"5d"`
	TrainInterval  string   `yaml:"train_interval"`
	TestFraction   float64  `yaml:"test_fraction" default:"0.2" validate:"gt=0,lt=1"`
	L2             float64  `yaml:"l2" default:"0.001" validate:"gte=0"`
}

type Server struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Addr    string `yaml:"addr" default:":8080"`
}

type Log struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
	Output string `yaml:"output" default:"stdout"`
}

// Load reads config from a YAML file (missing file means defaults), then
// applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"BTC-USD"}
	}
	if cfg.Model.TrainInterval == "" {
		cfg.Model.TrainInterval = cfg.Market.Interval
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("TELEGRAM_BOT_TOKEN", &cfg.Telegram.BotToken)
	str("TELEGRAM_CHAT_ID", &cfg.Telegram.ChatID)
	str("MARKET_SOURCE", &cfg.Market.Source)
	str("MARKET_BASE_URL", &cfg.Market.BaseURL)
	str("MARKET_API_KEY", &cfg.Market.APIKey)
	str("HTTPS_PROXY", &cfg.Market.Proxy)
	str("CRON_TICK", &cfg.Schedule.TickCron)
	str("CRON_RETRAIN", &cfg.Schedule.RetrainCron)
	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("SQLITE_PATH", &cfg.Database.SQLitePath)
	str("DATABASE_URL", &cfg.Database.PostgresDSN)
	str("MODEL_DIR", &cfg.Model.Dir)
	str("MODEL_FALLBACK_TICKER", &cfg.Model.FallbackTicker)
	str("SERVER_ADDR", &cfg.Server.Addr)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	if v := os.Getenv("SYMBOLS"); v != "" {
		var symbols []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
		cfg.Symbols = symbols
	}
	if v := os.Getenv("ALERT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Alert.Threshold = f
		}
	}
	if v := os.Getenv("AUTO_SAVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Prediction.AutoSave = b
		}
	}
}

// CronParser accepts six-field expressions with seconds, as the scheduler does.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks field constraints and cron expressions.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := CronParser.Parse(c.Schedule.TickCron); err != nil {
		return fmt.Errorf("schedule.tick_cron: %w", err)
	}
	if c.Schedule.RetrainCron != "" {
		if _, err := CronParser.Parse(c.Schedule.RetrainCron); err != nil {
			return fmt.Errorf("schedule.retrain_cron: %w", err)
		}
	}
	if c.Market.Source == "http" && c.Market.BaseURL == "" {
		return fmt.Errorf("market.base_url is required for the http source")
	}
	if c.Database.Driver == "postgres" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required for the postgres driver")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	seen := map[string]bool{}
	for _, s := range c.Symbols {
		if seen[s] {
			return fmt.Errorf("duplicate symbol %q", s)
		}
		seen[s] = true
	}
	return nil
}

// TelegramEnabled reports whether alerts and commands are configured.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}
