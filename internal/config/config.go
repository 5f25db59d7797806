// Package config loads the kepler configuration from a YAML file, an
// optional .env file, and environment variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the kepler simulator.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Data     Data     `yaml:"data"`
	Backtest Backtest `yaml:"backtest"`
	Logging  Logging  `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Data selects and configures the market-data provider.
type Data struct {
	// Venue is the provider used to fetch bars: "binance" or "alpaca".
	Venue string `yaml:"venue"`

	BinanceBaseURL string `yaml:"binance_base_url"`

	AlpacaAPIKey    string `yaml:"alpaca_api_key"`
	AlpacaAPISecret string `yaml:"alpaca_api_secret"`
	AlpacaDataURL   string `yaml:"alpaca_data_url"`

	RateLimitPerMin int `yaml:"rate_limit_per_min"`
	MaxRetries      int `yaml:"max_retries"`
}

// Backtest defines the simulated run: the data window, the strategy, and
// the capital/risk parameters.
type Backtest struct {
	Symbol   string `yaml:"symbol"`
	Interval string `yaml:"interval"`

	// Start/End bound the evaluated window; ExtendedStart bounds the extra
	// preceding data used only to warm up indicators (it must reach back at
	// least the longest indicator window before Start).
	Start         string `yaml:"start"`
	End           string `yaml:"end"`
	ExtendedStart string `yaml:"extended_start"`

	InitialCapital float64 `yaml:"initial_capital"`
	Fee            float64 `yaml:"fee"`
	Slippage       float64 `yaml:"slippage"`
	PositionSize   float64 `yaml:"position_size"`
	MaxLossPct     float64 `yaml:"max_loss_pct"`

	Strategy string `yaml:"strategy"`
	FastSMA  int    `yaml:"fast_sma"`
	SlowSMA  int    `yaml:"slow_sma"`

	// SplitFraction is the share of bars assigned to the backtest window;
	// the remainder is held out for walk-forward evaluation.
	SplitFraction float64 `yaml:"split_fraction"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into
// a Config, applies environment variable overrides, fills defaults, and
// validates the result. A .env file is loaded first if present.
func Load(path string) (*Config, error) {
	// Load .env if present (no error if the file does not exist).
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// Validate checks the capital and risk parameters against their allowed
// ranges.
func (c *Config) Validate() error {
	bt := c.Backtest
	if bt.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be > 0, got %v", bt.InitialCapital)
	}
	if bt.Fee < 0 {
		return fmt.Errorf("fee must be >= 0, got %v", bt.Fee)
	}
	if bt.Slippage < 0 {
		return fmt.Errorf("slippage must be >= 0, got %v", bt.Slippage)
	}
	if bt.PositionSize <= 0 || bt.PositionSize > 1 {
		return fmt.Errorf("position_size must be in (0,1], got %v", bt.PositionSize)
	}
	if bt.MaxLossPct <= 0 || bt.MaxLossPct > 1 {
		return fmt.Errorf("max_loss_pct must be in (0,1], got %v", bt.MaxLossPct)
	}
	if bt.SplitFraction <= 0 || bt.SplitFraction >= 1 {
		return fmt.Errorf("split_fraction must be in (0,1), got %v", bt.SplitFraction)
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		cfg.Data.BinanceBaseURL = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Data.AlpacaAPIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Data.AlpacaAPISecret = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Standard Alpaca env vars take highest priority (canonical names used by
	// the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Data.AlpacaAPIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Data.AlpacaAPISecret = v
	}
}

// setDefaults ensures required values have sensible defaults.
func setDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "kepler.db"
	}
	if cfg.Data.Venue == "" {
		cfg.Data.Venue = "binance"
	}
	if cfg.Data.RateLimitPerMin <= 0 {
		cfg.Data.RateLimitPerMin = 1200
	}
	if cfg.Data.MaxRetries <= 0 {
		cfg.Data.MaxRetries = 3
	}
	if cfg.Backtest.Interval == "" {
		cfg.Backtest.Interval = "1d"
	}
	if cfg.Backtest.Strategy == "" {
		cfg.Backtest.Strategy = "sma-cross"
	}
	if cfg.Backtest.FastSMA <= 0 {
		cfg.Backtest.FastSMA = 5
	}
	if cfg.Backtest.SlowSMA <= 0 {
		cfg.Backtest.SlowSMA = 20
	}
	if cfg.Backtest.SplitFraction == 0 {
		cfg.Backtest.SplitFraction = 0.7
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
