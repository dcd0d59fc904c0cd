package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/dbpool/internal/util"
)

// Default pool settings.
const (
	DefaultMaxConnections        = 20
	DefaultMinConnections        = 5
	DefaultAcquireTimeout        = 10 * time.Second
	DefaultIdleTimeout           = 5 * time.Minute
	DefaultHealthCheckInterval   = 60 * time.Second
	DefaultMaxQueryTime          = 30 * time.Second
	DefaultRetryAttempts         = 3
	DefaultRetryDelay            = time.Second
	DefaultConnectTimeout        = 10 * time.Second
	DefaultCircuitBreakerTimeout = 60 * time.Second
	DefaultJitterFactor          = 0.1
)

// ExplicitZero requests a zero MinConnections, RetryDelay or JitterFactor,
// whose zero value otherwise selects the default.
const ExplicitZero = -1

// Default admin settings.
const (
	DefaultAdminAddress         = ":9090"
	DefaultAdminShutdownTimeout = 10 * time.Second
)

// Config is the root configuration document.
type Config struct {
	Log      LogConfig   `yaml:"log" json:"log"`
	Admin    AdminConfig `yaml:"admin" json:"admin"`
	Defaults PoolConfig  `yaml:"defaults" json:"defaults"`
	Pools    []PoolEntry `yaml:"-" json:"pools"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	Enabled         bool     `yaml:"enabled" json:"enabled"`
	Address         string   `yaml:"address" json:"address"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// PoolConfig holds the immutable settings of a single pool. Zero fields take
// their defaults on Normalize; a zero CircuitBreakerThreshold follows
// RetryAttempts.
type PoolConfig struct {
	MaxConnections          int      `yaml:"maxConnections" json:"maxConnections"`
	MinConnections          int      `yaml:"minConnections" json:"minConnections"`
	AcquireTimeout          Duration `yaml:"acquireTimeout" json:"acquireTimeout"`
	IdleTimeout             Duration `yaml:"idleTimeout" json:"idleTimeout"`
	HealthCheckInterval     Duration `yaml:"healthCheckInterval" json:"healthCheckInterval"`
	MaxQueryTime            Duration `yaml:"maxQueryTime" json:"maxQueryTime"`
	RetryAttempts           int      `yaml:"retryAttempts" json:"retryAttempts"`
	RetryDelay              Duration `yaml:"retryDelay" json:"retryDelay"`
	ConnectTimeout          Duration `yaml:"connectTimeout" json:"connectTimeout"`
	CircuitBreakerThreshold int      `yaml:"circuitBreakerThreshold" json:"circuitBreakerThreshold"`
	CircuitBreakerTimeout   Duration `yaml:"circuitBreakerTimeout" json:"circuitBreakerTimeout"`
	JitterFactor            float64  `yaml:"jitterFactor" json:"jitterFactor"`

	normalized bool
}

// PoolEntry declares one pool in the configuration file.
type PoolEntry struct {
	Name       string `yaml:"name" json:"name"`
	URL        string `yaml:"url" json:"url"`
	PoolConfig `yaml:",inline" json:",inline"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Admin: AdminConfig{
			Enabled:         true,
			Address:         DefaultAdminAddress,
			ShutdownTimeout: Duration(DefaultAdminShutdownTimeout),
		},
		Defaults: DefaultPoolConfig(),
	}
}

// DefaultPoolConfig returns the default pool settings.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections:          DefaultMaxConnections,
		MinConnections:          DefaultMinConnections,
		AcquireTimeout:          Duration(DefaultAcquireTimeout),
		IdleTimeout:             Duration(DefaultIdleTimeout),
		HealthCheckInterval:     Duration(DefaultHealthCheckInterval),
		MaxQueryTime:            Duration(DefaultMaxQueryTime),
		RetryAttempts:           DefaultRetryAttempts,
		RetryDelay:              Duration(DefaultRetryDelay),
		ConnectTimeout:          Duration(DefaultConnectTimeout),
		CircuitBreakerTimeout:   Duration(DefaultCircuitBreakerTimeout),
		JitterFactor:            DefaultJitterFactor,
	}
}

// Normalize fills unset fields with defaults and resolves ExplicitZero. It
// is idempotent: a normalized config is returned unchanged.
func (c PoolConfig) Normalize() PoolConfig {
	if c.normalized {
		return c
	}
	c.normalized = true

	if c.MaxConnections == 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	switch c.MinConnections {
	case 0:
		c.MinConnections = DefaultMinConnections
	case ExplicitZero:
		c.MinConnections = 0
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = Duration(DefaultAcquireTimeout)
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = Duration(DefaultIdleTimeout)
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = Duration(DefaultHealthCheckInterval)
	}
	if c.MaxQueryTime == 0 {
		c.MaxQueryTime = Duration(DefaultMaxQueryTime)
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	switch c.RetryDelay {
	case 0:
		c.RetryDelay = Duration(DefaultRetryDelay)
	case ExplicitZero:
		c.RetryDelay = 0
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = c.RetryAttempts
	}
	if c.CircuitBreakerTimeout == 0 {
		c.CircuitBreakerTimeout = Duration(DefaultCircuitBreakerTimeout)
	}
	switch c.JitterFactor {
	case 0:
		c.JitterFactor = DefaultJitterFactor
	case ExplicitZero:
		c.JitterFactor = 0
	}
	return c
}

// explicitZeros marks the zero MinConnections, RetryDelay and JitterFactor
// of a decoded pool block as requested, so Normalize keeps them at zero.
func (c PoolConfig) explicitZeros() PoolConfig {
	if c.MinConnections == 0 {
		c.MinConnections = ExplicitZero
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = ExplicitZero
	}
	if c.JitterFactor == 0 {
		c.JitterFactor = ExplicitZero
	}
	return c
}

// Validate checks the pool settings and returns a *util.ConfigError for the
// first violation found.
func (c PoolConfig) Validate() error {
	switch {
	case c.MaxConnections < 1:
		return util.NewConfigError("maxConnections", "must be at least 1")
	case c.MinConnections < 0:
		return util.NewConfigError("minConnections", "must not be negative")
	case c.MinConnections > c.MaxConnections:
		return util.NewConfigError("minConnections", "must not exceed maxConnections")
	case c.RetryAttempts < 1:
		return util.NewConfigError("retryAttempts", "must be at least 1")
	case c.CircuitBreakerThreshold < 0:
		return util.NewConfigError("circuitBreakerThreshold", "must not be negative")
	case c.JitterFactor < 0 || c.JitterFactor > 1:
		return util.NewConfigError("jitterFactor", "must be between 0 and 1")
	}

	durations := []struct {
		field string
		value Duration
	}{
		{"acquireTimeout", c.AcquireTimeout},
		{"idleTimeout", c.IdleTimeout},
		{"healthCheckInterval", c.HealthCheckInterval},
		{"maxQueryTime", c.MaxQueryTime},
		{"retryDelay", c.RetryDelay},
		{"connectTimeout", c.ConnectTimeout},
		{"circuitBreakerTimeout", c.CircuitBreakerTimeout},
	}
	for _, d := range durations {
		if d.value < 0 {
			return util.NewConfigError(d.field, "must not be negative")
		}
	}
	return nil
}

// document is the on-disk shape. Pool entries stay as raw nodes so each can
// be decoded on top of the defaults block.
type document struct {
	Log      yaml.Node   `yaml:"log"`
	Admin    yaml.Node   `yaml:"admin"`
	Defaults yaml.Node   `yaml:"defaults"`
	Pools    []yaml.Node `yaml:"pools"`
}
