// Package config loads engine configuration from a YAML file with
// environment-variable overrides. Unknown YAML keys are ignored, so a config
// file can carry deployment-specific extras without breaking the engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	RateLimiter RateLimiterConfig `yaml:"ratelimiter"`
	Provider    ProviderConfig    `yaml:"provider"`
	Workers     WorkersConfig     `yaml:"workers"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
	LogLevel    string            `yaml:"log_level"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig holds the Postgres connection settings.
type StoreConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RateLimiterConfig selects the rate-limit backend.
type RateLimiterConfig struct {
	Backend  string `yaml:"backend"` // "redis" or "memory"
	RedisURL string `yaml:"redis_url"`
}

// ProviderConfig holds message-provider credentials and sender identity.
type ProviderConfig struct {
	AccountSID     string `yaml:"account_sid"`
	AuthToken      string `yaml:"auth_token"`
	SenderID       string `yaml:"sender_id"` // E.164 sending number
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// WorkersConfig controls orchestrator concurrency.
type WorkersConfig struct {
	Count     int `yaml:"count"`
	BatchSize int `yaml:"batch_size"`
}

// ShutdownConfig controls graceful-drain behavior.
type ShutdownConfig struct {
	GraceSeconds int `yaml:"grace_seconds"`
}

// GracePeriod returns the shutdown drain window as a duration.
func (s ShutdownConfig) GracePeriod() time.Duration {
	return time.Duration(s.GraceSeconds) * time.Second
}

// ProviderTimeout returns the per-send deadline as a duration.
func (p ProviderConfig) ProviderTimeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Load reads and parses the configuration file, applying defaults.
// An empty path yields a default config.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Store.MaxOpenConns == 0 {
		cfg.Store.MaxOpenConns = 25
	}
	if cfg.Store.MaxIdleConns == 0 {
		cfg.Store.MaxIdleConns = 5
	}
	if cfg.RateLimiter.Backend == "" {
		cfg.RateLimiter.Backend = "redis"
	}
	if cfg.RateLimiter.RedisURL == "" {
		cfg.RateLimiter.RedisURL = "redis://localhost:6379/0"
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://api.twilio.com"
	}
	if cfg.Provider.TimeoutSeconds == 0 {
		cfg.Provider.TimeoutSeconds = 10
	}
	if cfg.Workers.Count == 0 {
		cfg.Workers.Count = 8
	}
	if cfg.Workers.BatchSize == 0 {
		cfg.Workers.BatchSize = 50
	}
	if cfg.Shutdown.GraceSeconds == 0 {
		cfg.Shutdown.GraceSeconds = 30
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dsn := os.Getenv("STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" && cfg.Store.DSN == "" {
		cfg.Store.DSN = dsn
	}
	if backend := os.Getenv("RATELIMITER_BACKEND"); backend != "" {
		cfg.RateLimiter.Backend = backend
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.RateLimiter.RedisURL = redisURL
	}
	if sid := os.Getenv("TWILIO_ACCOUNT_SID"); sid != "" {
		cfg.Provider.AccountSID = sid
	}
	if token := os.Getenv("TWILIO_AUTH_TOKEN"); token != "" {
		cfg.Provider.AuthToken = token
	}
	if sender := os.Getenv("TWILIO_SENDER_ID"); sender != "" {
		cfg.Provider.SenderID = sender
	}
	if baseURL := os.Getenv("TWILIO_BASE_URL"); baseURL != "" {
		cfg.Provider.BaseURL = baseURL
	}
	if count := os.Getenv("WORKERS_COUNT"); count != "" {
		if n, err := strconv.Atoi(count); err == nil && n > 0 {
			cfg.Workers.Count = n
		}
	}
	if grace := os.Getenv("SHUTDOWN_GRACE_SECONDS"); grace != "" {
		if n, err := strconv.Atoi(grace); err == nil && n > 0 {
			cfg.Shutdown.GraceSeconds = n
		}
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}
