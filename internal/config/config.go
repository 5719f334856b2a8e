// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Harvest   HarvestConfig   `mapstructure:"harvest"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Output    OutputConfig    `mapstructure:"output"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// APIConfig describes the remote API endpoint.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PageSize       int    `mapstructure:"page_size"`
}

// HarvestConfig governs the worker pool and retry policy.
type HarvestConfig struct {
	Terms                 []string `mapstructure:"terms"`
	Workers               int      `mapstructure:"workers"`
	QueueDepth            int      `mapstructure:"queue_depth"`
	MaxAttempts           int      `mapstructure:"max_attempts"`
	RetryBackoffMs        int      `mapstructure:"retry_backoff_ms"`
	RetryBackoffMaxMs     int      `mapstructure:"retry_backoff_max_ms"`
	RetryRounds           int      `mapstructure:"retry_rounds"`
	RetryRoundDelaySecond int      `mapstructure:"retry_round_delay_seconds"`
}

// RateLimitConfig tunes the adaptive limiter.
type RateLimitConfig struct {
	InitialDelayMs int     `mapstructure:"initial_delay_ms"`
	MinDelayMs     int     `mapstructure:"min_delay_ms"`
	MaxDelayMs     int     `mapstructure:"max_delay_ms"`
	BackoffFactor  float64 `mapstructure:"backoff_factor"`
	RecoveryFactor float64 `mapstructure:"recovery_factor"`
	Jitter         float64 `mapstructure:"jitter"`
}

// CacheConfig sets the on-disk cache location.
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// TrackerConfig sets the download ledger location.
type TrackerConfig struct {
	Dir string `mapstructure:"dir"`
}

// OutputConfig locates the normalized-entity output.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api.oyez.org")
	v.SetDefault("api.user_agent", "scotus-harvester/1.0")
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("api.page_size", 50)
	v.SetDefault("harvest.workers", 4)
	v.SetDefault("harvest.queue_depth", 1024)
	v.SetDefault("harvest.max_attempts", 3)
	v.SetDefault("harvest.retry_backoff_ms", 500)
	v.SetDefault("harvest.retry_backoff_max_ms", 30000)
	v.SetDefault("harvest.retry_rounds", 2)
	v.SetDefault("harvest.retry_round_delay_seconds", 5)
	v.SetDefault("rate_limit.initial_delay_ms", 1000)
	v.SetDefault("rate_limit.min_delay_ms", 500)
	v.SetDefault("rate_limit.max_delay_ms", 60000)
	v.SetDefault("rate_limit.backoff_factor", 2.0)
	v.SetDefault("rate_limit.recovery_factor", 0.95)
	v.SetDefault("rate_limit.jitter", 0.25)
	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("tracker.dir", "data/tracker")
	v.SetDefault("output.dir", "data/output")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must be set")
	}
	if c.API.PageSize <= 0 {
		return fmt.Errorf("api.page_size must be > 0")
	}
	if c.Harvest.Workers <= 0 {
		return fmt.Errorf("harvest.workers must be > 0")
	}
	if c.Harvest.MaxAttempts <= 0 {
		return fmt.Errorf("harvest.max_attempts must be > 0")
	}
	if c.RateLimit.MinDelayMs <= 0 || c.RateLimit.MaxDelayMs < c.RateLimit.MinDelayMs {
		return fmt.Errorf("rate_limit delays must satisfy 0 < min <= max")
	}
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir must be set")
	}
	if c.Tracker.Dir == "" {
		return fmt.Errorf("tracker.dir must be set")
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0 when metrics are enabled")
	}
	return nil
}

// APITimeout converts the configured timeout into a duration.
func (c Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// RetryBackoff converts the configured backoff base into a duration.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Harvest.RetryBackoffMs) * time.Millisecond
}

// RetryBackoffMax converts the configured backoff cap into a duration.
func (c Config) RetryBackoffMax() time.Duration {
	return time.Duration(c.Harvest.RetryBackoffMaxMs) * time.Millisecond
}
