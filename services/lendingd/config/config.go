package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides applied after the file is decoded.
const (
	EnvHMACSecret = "LENDINGD_AUTH_HMAC_SECRET"
	EnvListen     = "LENDINGD_LISTEN"
)

// Storage backends.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress   string          `yaml:"listen"`
	TLS             TLSConfig       `yaml:"tls"`
	Auth            AuthConfig      `yaml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Storage         StorageConfig   `yaml:"storage"`
	Genesis         string          `yaml:"genesis"`
	BlockInterval   time.Duration   `yaml:"block_interval"`
	MetricsInterval time.Duration   `yaml:"metrics_interval"`
	Log             LogConfig       `yaml:"log"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	Disabled   bool          `yaml:"disabled"`
	HMACSecret string        `yaml:"hmac_secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// StorageConfig selects the ledger database.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
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
	cfg := Config{
		ListenAddress: ":8080",
	}
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

func (cfg *Config) applyEnv() {
	if value := strings.TrimSpace(os.Getenv(EnvHMACSecret)); value != "" {
		cfg.Auth.HMACSecret = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvListen)); value != "" {
		cfg.ListenAddress = value
	}
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	cfg.Genesis = strings.TrimSpace(cfg.Genesis)
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = 12 * time.Second
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = 30 * time.Second
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	cfg.Log.Level = strings.TrimSpace(cfg.Log.Level)
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Genesis == "" {
		return fmt.Errorf("genesis path required")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if !cfg.Auth.Disabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret (or %s) required unless disabled=true", EnvHMACSecret)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	switch cfg.Storage.Backend {
	case BackendMemory:
	case BackendLevelDB, BackendBolt:
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: %s backend requires a path", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 {
		return fmt.Errorf("log: rotation limits must not be negative")
	}
	return nil
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}
