package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Environment overrides applied after the file is decoded.
const (
	EnvToken    = "LIQUIDATOR_TOKEN"
	EnvAuditDSN = "LIQUIDATOR_AUDIT_DSN"
)

// Config captures the runtime settings for the liquidation bot.
type Config struct {
	Endpoint             string        `yaml:"endpoint"`
	Token                string        `yaml:"token"`
	Account              string        `yaml:"account"`
	Interval             time.Duration `yaml:"interval"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	RetryMax             int           `yaml:"retry_max"`
	MaxAttempts          int           `yaml:"max_attempts"`
	SubmissionsPerSecond float64       `yaml:"submissions_per_second"`
	// MinProfit is the smallest acceptable profit per liquidation in USD.
	MinProfit     string    `yaml:"min_profit"`
	AuditDSN      string    `yaml:"audit_dsn"`
	MetricsListen string    `yaml:"metrics_listen"`
	Log           LogConfig `yaml:"log"`
}

// LogConfig controls log level and the optional rotated log file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MinProfitUSD returns the parsed profit floor. Load guarantees it parses.
func (cfg Config) MinProfitUSD() decimal.Decimal {
	value, err := decimal.NewFromString(cfg.MinProfit)
	if err != nil {
		return decimal.Zero
	}
	return value
}

func (cfg *Config) applyEnv() {
	if value := strings.TrimSpace(os.Getenv(EnvToken)); value != "" {
		cfg.Token = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvAuditDSN)); value != "" {
		cfg.AuditDSN = value
	}
}

func (cfg *Config) normalize() {
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.Account = strings.TrimSpace(cfg.Account)
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SubmissionsPerSecond <= 0 {
		cfg.SubmissionsPerSecond = 1
	}
	cfg.MinProfit = strings.TrimSpace(cfg.MinProfit)
	if cfg.MinProfit == "" {
		cfg.MinProfit = "0"
	}
	cfg.AuditDSN = strings.TrimSpace(cfg.AuditDSN)
	if cfg.AuditDSN == "" {
		cfg.AuditDSN = "liquidator_audit.db"
	}
	cfg.MetricsListen = strings.TrimSpace(cfg.MetricsListen)
	cfg.Log.Level = strings.TrimSpace(cfg.Log.Level)
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
}

func (cfg *Config) validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("endpoint required")
	}
	parsed, err := url.Parse(cfg.Endpoint)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("endpoint %q must be an http(s) URL", cfg.Endpoint)
	}
	if !common.IsHexAddress(cfg.Account) {
		return fmt.Errorf("account %q must be a hex address", cfg.Account)
	}
	profit, err := decimal.NewFromString(cfg.MinProfit)
	if err != nil {
		return fmt.Errorf("min_profit: %w", err)
	}
	if profit.IsNegative() {
		return fmt.Errorf("min_profit must not be negative")
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 {
		return fmt.Errorf("log: rotation limits must not be negative")
	}
	return nil
}
