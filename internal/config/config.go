// Package config loads and validates the demo server's configuration from
// environment variables and an optional .env file.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds the demo command's runtime configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Server
	Addr string `env:"RTKIT_ADDR" envDefault:":3002"`

	// NATS bridge: external price-tick feed translated into Producer
	// submissions against the shared AsyncObject.
	NatsURL     string `env:"RTKIT_NATS_URL" envDefault:"nats://localhost:4222"`
	NatsSubject string `env:"RTKIT_NATS_SUBJECT" envDefault:"ticks.price"`

	// AsyncWorker tick period.
	TickPeriod time.Duration `env:"RTKIT_TICK_PERIOD" envDefault:"50ms"`

	// Capacity
	MaxConnections int `env:"RTKIT_MAX_CONNECTIONS" envDefault:"500"`

	// Rate limiting
	MaxSubmitRate int `env:"RTKIT_MAX_SUBMIT_RATE" envDefault:"1000"`

	// CPU safety thresholds, relative to container CPU allocation.
	CPURejectThreshold float64 `env:"RTKIT_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"RTKIT_CPU_PAUSE_THRESHOLD" envDefault:"80.0"`

	// Monitoring
	MetricsInterval time.Duration `env:"RTKIT_METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the process
// environment. Priority: env vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for internally-consistent, in-range
// values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("RTKIT_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("RTKIT_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.TickPeriod <= 0 {
		return fmt.Errorf("RTKIT_TICK_PERIOD must be > 0, got %v", c.TickPeriod)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("RTKIT_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("RTKIT_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("RTKIT_CPU_PAUSE_THRESHOLD (%.1f) must be >= RTKIT_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, text, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs the loaded configuration via structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("nats_url", c.NatsURL).
		Str("nats_subject", c.NatsSubject).
		Dur("tick_period", c.TickPeriod).
		Int("max_connections", c.MaxConnections).
		Int("max_submit_rate", c.MaxSubmitRate).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
