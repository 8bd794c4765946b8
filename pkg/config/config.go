package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExchangeConfig locates the exchange and its credential material.
type ExchangeConfig struct {
	Host string `yaml:"host"`
	// KeyFile and SecretFile each hold one credential. Missing files are
	// not an error: the client degrades to public-only operation.
	KeyFile    string `yaml:"keyFile"`
	SecretFile string `yaml:"secretFile"`
}

// TradingConfig holds the sampling and strategy parameters.
type TradingConfig struct {
	Base  string `yaml:"base"`
	Quote string `yaml:"quote"`
	// TickIntervalSeconds is the trading tick period.
	TickIntervalSeconds int `yaml:"tickIntervalSeconds"`
	// TimeStep is the OHLC candle width in seconds; must be one of the
	// exchange's enumerated widths.
	TimeStep int `yaml:"timeStep"`
	// Steps is the number of candles per sample window.
	Steps int `yaml:"steps"`
	// HistoryLength is the market history capacity.
	HistoryLength int `yaml:"historyLength"`
	// ProfitMargin is the fractional limit/stop offset, e.g. 0.015.
	ProfitMargin float64 `yaml:"profitMargin"`
	// DryRun trades against the simulated wallet instead of the exchange.
	DryRun bool `yaml:"dryRun"`
	// MaxConsecutiveErrors halts trading after that many failed ticks in
	// a row; 0 disables the breaker.
	MaxConsecutiveErrors int64 `yaml:"maxConsecutiveErrors"`
	// SeedBase/SeedQuote seed the simulated wallet in dry-run mode,
	// expressed as decimal strings.
	SeedBase  string `yaml:"seedBase"`
	SeedQuote string `yaml:"seedQuote"`
}

// LogConfig mirrors the logger package's options.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"maxSize"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"`
	Compress   bool   `yaml:"compress"`
}

// Config is the application configuration.
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Trading  TradingConfig  `yaml:"trading"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns the stock configuration: BTC/EUR, one-minute candles over
// a one-hour window, 20-sample history, 1.5% margin, dry run on.
func Default() *Config {
	return &Config{
		Trading: TradingConfig{
			Base:                 "btc",
			Quote:                "eur",
			TickIntervalSeconds:  60,
			TimeStep:             60,
			Steps:                60,
			HistoryLength:        20,
			ProfitMargin:         0.015,
			DryRun:               true,
			MaxConsecutiveErrors: 5,
			SeedBase:             "0.005",
			SeedQuote:            "0",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML config over the defaults and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validTimeSteps = map[int]struct{}{
	60: {}, 180: {}, 300: {}, 900: {}, 1800: {}, 3600: {}, 7200: {},
	14400: {}, 21600: {}, 43200: {}, 86400: {}, 259200: {},
}

// Validate checks the configuration for values the engine or exchange would
// reject.
func (c *Config) Validate() error {
	t := c.Trading
	if t.Base == "" || t.Quote == "" {
		return fmt.Errorf("trading: base and quote assets are required")
	}
	if t.TickIntervalSeconds <= 0 {
		return fmt.Errorf("trading: tickIntervalSeconds must be positive")
	}
	if _, ok := validTimeSteps[t.TimeStep]; !ok {
		return fmt.Errorf("trading: timeStep %d is not an accepted candle width", t.TimeStep)
	}
	if t.Steps < 1 || t.Steps > 1000 {
		return fmt.Errorf("trading: steps must be in [1,1000]")
	}
	if t.HistoryLength < 1 {
		return fmt.Errorf("trading: historyLength must be positive")
	}
	if t.ProfitMargin <= 0 || t.ProfitMargin >= 1 {
		return fmt.Errorf("trading: profitMargin must be a fraction in (0,1)")
	}
	return nil
}

// TickInterval returns the trading tick period as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Trading.TickIntervalSeconds) * time.Second
}

// LoadCredentials resolves the API key and secret: environment variables
// (EXCHANGE_API_KEY / EXCHANGE_API_SECRET) win over the configured key
// files. Missing material yields empty strings, not an error, so the caller
// can fall back to public-only operation.
func (c *Config) LoadCredentials() (key, secret string) {
	key = os.Getenv("EXCHANGE_API_KEY")
	secret = os.Getenv("EXCHANGE_API_SECRET")
	if key == "" && c.Exchange.KeyFile != "" {
		key = readCredentialFile(c.Exchange.KeyFile)
	}
	if secret == "" && c.Exchange.SecretFile != "" {
		secret = readCredentialFile(c.Exchange.SecretFile)
	}
	return key, secret
}

func readCredentialFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
