// Package config loads the YAML configuration for a backtest run, with
// environment overrides for logging and the periodic summary interval.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration for one backtest run.
type Config struct {
	Symbols  []SymbolConfig     `yaml:"symbols"`
	Balances map[string]float64 `yaml:"initial_balances"`
	Strategy StrategyConfig     `yaml:"strategy"`
	Storage  StorageConfig      `yaml:"storage"`
	Log      LogConfig          `yaml:"log"`

	SummaryIntervalSeconds int `yaml:"summary_interval_seconds"`
}

// SymbolConfig is the matching engine's metadata for one traded symbol.
type SymbolConfig struct {
	Symbol     string  `yaml:"symbol"`
	BaseAsset  string  `yaml:"base_asset"`
	QuoteAsset string  `yaml:"quote_asset"`
	FeeRate    float64 `yaml:"fee_rate"`
}

// StrategyConfig tunes the sample market maker.
type StrategyConfig struct {
	Gamma          float64 `yaml:"gamma"`
	Quantity       float64 `yaml:"quantity"`
	OrderTTLMillis int     `yaml:"order_ttl_millis"`
	VolSamples     int     `yaml:"vol_samples"`
	VolIntervalMs  int64   `yaml:"vol_interval_ms"`
	RequoteRateHz  float64 `yaml:"requote_rate_hz"`
}

// StorageConfig holds a run-store DSN. cmd/backsim does not read it: the run
// store is opened only when the --store flag names a DSN.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // path to the SQLite file, or ":memory:"
}

// LogConfig controls log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML configuration at path and applies a .env file (if
// present) and environment variable overrides on top of it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// SummaryInterval returns the periodic account-summary interval as a
// time.Duration of virtual time.
func (c *Config) SummaryInterval() time.Duration {
	return time.Duration(c.SummaryIntervalSeconds) * time.Second
}

// applyEnvOverrides overwrites values with environment variables, if set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("BACKSIM_SUMMARY_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SummaryIntervalSeconds = n
		}
	}
}

// setDefaults fills in sensible defaults for any field left at its zero
// value.
func setDefaults(cfg *Config) {
	if cfg.SummaryIntervalSeconds <= 0 {
		cfg.SummaryIntervalSeconds = 10
	}
	if cfg.Balances == nil {
		cfg.Balances = make(map[string]float64)
	}
	for i := range cfg.Symbols {
		if cfg.Symbols[i].FeeRate <= 0 {
			cfg.Symbols[i].FeeRate = 0.001 // 10 bps default taker/maker fee
		}
	}
	if cfg.Strategy.Gamma <= 0 {
		cfg.Strategy.Gamma = 0.1
	}
	if cfg.Strategy.Quantity <= 0 {
		cfg.Strategy.Quantity = 0.01
	}
	if cfg.Strategy.OrderTTLMillis <= 0 {
		cfg.Strategy.OrderTTLMillis = 100
	}
	if cfg.Strategy.VolSamples <= 0 {
		cfg.Strategy.VolSamples = 50
	}
	if cfg.Strategy.VolIntervalMs <= 0 {
		cfg.Strategy.VolIntervalMs = 1000
	}
	if cfg.Strategy.RequoteRateHz <= 0 {
		cfg.Strategy.RequoteRateHz = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "backsim.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
