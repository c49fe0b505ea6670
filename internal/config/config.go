package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit            string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SessionIdleTTL       time.Duration `mapstructure:"SESSION_IDLE_TTL"`
	SessionSweepInterval time.Duration `mapstructure:"SESSION_SWEEP_INTERVAL"`
	MemorySampleInterval time.Duration `mapstructure:"MEMORY_SAMPLE_INTERVAL"`
	LongPressMs          int           `mapstructure:"LONG_PRESS_MS"`
	MinSwipeVelocity     float64       `mapstructure:"MIN_SWIPE_VELOCITY"`
	HapticsEnabled       bool          `mapstructure:"HAPTICS_ENABLED"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SESSION_IDLE_TTL", "15m")
	v.SetDefault("SESSION_SWEEP_INTERVAL", "1m")
	v.SetDefault("MEMORY_SAMPLE_INTERVAL", "5s")
	v.SetDefault("LONG_PRESS_MS", 500)
	v.SetDefault("MIN_SWIPE_VELOCITY", 0)
	v.SetDefault("HAPTICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"BODY_LIMIT", "REQUEST_TIMEOUT", "SESSION_IDLE_TTL", "SESSION_SWEEP_INTERVAL", "MEMORY_SAMPLE_INTERVAL",
		"LONG_PRESS_MS", "MIN_SWIPE_VELOCITY", "HAPTICS_ENABLED",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LongPressDuration returns LONG_PRESS_MS as a duration.
func (c *Config) LongPressDuration() time.Duration {
	return time.Duration(c.LongPressMs) * time.Millisecond
}

// Validate rejects settings the server cannot run with. A zero
// REQUEST_TIMEOUT disables the deadline.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be positive, got %s", c.SessionIdleTTL)
	}
	if c.SessionSweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive, got %s", c.SessionSweepInterval)
	}
	if c.MemorySampleInterval <= 0 {
		return fmt.Errorf("MEMORY_SAMPLE_INTERVAL must be positive, got %s", c.MemorySampleInterval)
	}
	if c.LongPressMs <= 0 {
		return fmt.Errorf("LONG_PRESS_MS must be positive, got %d", c.LongPressMs)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}
	if c.MinSwipeVelocity < 0 {
		return fmt.Errorf("MIN_SWIPE_VELOCITY must not be negative, got %v", c.MinSwipeVelocity)
	}
	return nil
}
