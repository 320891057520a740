package config

import (
	"time"

	"github.com/movingmountains/driversync/internal/infra/storage/postgres"
	redisstore "github.com/movingmountains/driversync/internal/infra/storage/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	API          APIConfig          `yaml:"api"`
	Storage      StorageConfig      `yaml:"storage"`
	Retry        RetryConfig        `yaml:"retry"`
	Reachability ReachabilityConfig `yaml:"reachability"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds the agent's HTTP status server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// APIConfig holds backend connection settings. Token is typically an env
// reference expanded at load time.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig selects and configures the durable queue store.
type StorageConfig struct {
	Driver   string            `yaml:"driver"` // memory, redis, postgres
	Redis    redisstore.Config `yaml:"redis"`
	Postgres postgres.Config   `yaml:"postgres"`
}

// RetryConfig holds backoff scheduler settings.
type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// ReachabilityConfig holds connectivity probe settings.
type ReachabilityConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
