package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"SpikeTrader/internal/model"
)

// DefaultMinimumReserve is the cash floor used when the file sets none.
const DefaultMinimumReserve = 500.0

// Broker modes.
const (
	ModeAlpaca = "alpaca"
	ModePaper  = "paper"
)

// StrategyEntry is one strategy block in the YAML file.
type StrategyEntry struct {
	Name           string   `yaml:"name"`
	Symbols        []string `yaml:"symbols"`
	CapitalCeiling float64  `yaml:"capital_ceiling"`
	LongWindow     int      `yaml:"long_window"`
	ShortWindow    int      `yaml:"short_window"`
	SlopeSpan      int      `yaml:"slope_span"`
	MinSlope       float64  `yaml:"min_slope"`
	MinSlopeDiff   float64  `yaml:"min_slope_diff"`
	TargetProfit   float64  `yaml:"target_profit"`
	TrailPercent   float64  `yaml:"trail_percent"`
}

// StrategyConfig converts the entry, filling the trail default.
func (e StrategyEntry) StrategyConfig() model.StrategyConfig {
	trail := e.TrailPercent
	if trail == 0 {
		trail = 1.0
	}
	return model.StrategyConfig{
		Name:           e.Name,
		Symbols:        append([]string(nil), e.Symbols...),
		CapitalCeiling: e.CapitalCeiling,
		LongWindow:     e.LongWindow,
		ShortWindow:    e.ShortWindow,
		SlopeSpan:      e.SlopeSpan,
		MinSlope:       e.MinSlope,
		MinSlopeDiff:   e.MinSlopeDiff,
		TargetProfit:   e.TargetProfit,
		TrailPercent:   trail,
	}
}

// Config holds all application configuration.
type Config struct {
	Broker struct {
		Mode      string `yaml:"mode"`
		BaseURL   string `yaml:"base_url"`
		DataURL   string `yaml:"data_url"`
		StreamURL string `yaml:"stream_url"`
		KeyID     string `yaml:"key_id"`
		SecretKey string `yaml:"secret_key"`
		Stream    bool   `yaml:"stream"`
	} `yaml:"broker"`
	Paper struct {
		SQLitePath   string  `yaml:"sqlite_path"`
		StartingCash float64 `yaml:"starting_cash"`
		AlwaysOpen   bool    `yaml:"always_open"`
		DataSource   string  `yaml:"data_source"`
	} `yaml:"paper"`
	Account struct {
		MinimumReserve float64 `yaml:"minimum_reserve"`
	} `yaml:"account"`
	Schedule struct {
		SessionCron string        `yaml:"session_cron"`
		Timezone    string        `yaml:"timezone"`
		Cycle       time.Duration `yaml:"cycle"`
		OpenPoll    time.Duration `yaml:"open_poll"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	LogLevel   string          `yaml:"log_level"`
	Proxy      string          `yaml:"proxy"`
	Strategies []StrategyEntry `yaml:"strategies"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort

	cfg := &Config{}
	// seeded before parsing so an explicit 0 in the file is kept
	cfg.Account.MinimumReserve = DefaultMinimumReserve

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Broker.KeyID = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Broker.SecretKey = v
	}
	if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
		cfg.Broker.BaseURL = v
	}
	if v := os.Getenv("BROKER_MODE"); v != "" {
		cfg.Broker.Mode = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Paper.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("SESSION_CRON"); v != "" {
		cfg.Schedule.SessionCron = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Broker.Mode = strings.ToLower(c.Broker.Mode)
	if c.Broker.Mode == "" {
		c.Broker.Mode = ModePaper
	}
	if c.Broker.BaseURL == "" {
		c.Broker.BaseURL = "https://paper-api.alpaca.markets"
	}
	if c.Broker.DataURL == "" {
		c.Broker.DataURL = "https://data.alpaca.markets"
	}
	if c.Paper.SQLitePath == "" {
		c.Paper.SQLitePath = "data/paper.db"
	}
	if c.Paper.StartingCash == 0 {
		c.Paper.StartingCash = 25000
	}
	if c.Paper.DataSource == "" {
		c.Paper.DataSource = "yahoo"
	}
	if c.Schedule.SessionCron == "" {
		c.Schedule.SessionCron = "0 25 9 * * 1-5"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "America/New_York"
	}
	if c.Schedule.Cycle == 0 {
		c.Schedule.Cycle = 60 * time.Second
	}
	if c.Schedule.OpenPoll == 0 {
		c.Schedule.OpenPoll = 60 * time.Second
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9102"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// StrategyConfigs converts every strategy entry.
func (c *Config) StrategyConfigs() []model.StrategyConfig {
	out := make([]model.StrategyConfig, 0, len(c.Strategies))
	for _, e := range c.Strategies {
		out = append(out, e.StrategyConfig())
	}
	return out
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	switch c.Broker.Mode {
	case ModeAlpaca:
		if c.Broker.KeyID == "" || c.Broker.SecretKey == "" {
			return fmt.Errorf("broker.key_id and broker.secret_key are required in alpaca mode")
		}
	case ModePaper:
		if c.Paper.StartingCash <= 0 {
			return fmt.Errorf("paper.starting_cash must be positive")
		}
	default:
		return fmt.Errorf("unknown broker.mode %q", c.Broker.Mode)
	}
	if c.Account.MinimumReserve < 0 {
		return fmt.Errorf("account.minimum_reserve must not be negative")
	}
	if c.Schedule.Cycle <= 0 || c.Schedule.OpenPoll <= 0 {
		return fmt.Errorf("schedule.cycle and schedule.open_poll must be positive")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}

	var errs []error
	names := make(map[string]bool, len(c.Strategies))
	for _, sc := range c.StrategyConfigs() {
		if names[sc.Name] {
			errs = append(errs, fmt.Errorf("duplicate strategy name %q", sc.Name))
		}
		names[sc.Name] = true
		if err := sc.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyEnabled reports whether Telegram credentials are present.
func (c *Config) NotifyEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}
