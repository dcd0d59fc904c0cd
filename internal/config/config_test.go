package config

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/dbpool/internal/util"
)

func TestDefaultPoolConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultPoolConfig()

	assert.Equal(t, 20, cfg.MaxConnections)
	assert.Equal(t, 5, cfg.MinConnections)
	assert.Equal(t, 10*time.Second, cfg.AcquireTimeout.Duration())
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout.Duration())
	assert.Equal(t, 60*time.Second, cfg.HealthCheckInterval.Duration())
	assert.Equal(t, 30*time.Second, cfg.MaxQueryTime.Duration())
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryDelay.Duration())
	assert.NoError(t, cfg.Validate())
}

func TestPoolConfig_Normalize(t *testing.T) {
	t.Parallel()

	cfg := PoolConfig{MaxConnections: 2, MinConnections: 1, RetryAttempts: 4}.Normalize()

	assert.Equal(t, 2, cfg.MaxConnections)
	assert.Equal(t, 1, cfg.MinConnections)
	assert.Equal(t, 4, cfg.CircuitBreakerThreshold)
	assert.Equal(t, DefaultAcquireTimeout, cfg.AcquireTimeout.Duration())
	assert.Equal(t, DefaultCircuitBreakerTimeout, cfg.CircuitBreakerTimeout.Duration())
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay.Duration())
	assert.Equal(t, DefaultJitterFactor, cfg.JitterFactor)

	empty := PoolConfig{}.Normalize()
	assert.Equal(t, DefaultPoolConfig().Normalize(), empty)
	assert.Equal(t, DefaultMaxConnections, empty.MaxConnections)
	assert.Equal(t, DefaultMinConnections, empty.MinConnections)
	assert.Equal(t, DefaultRetryDelay, empty.RetryDelay.Duration())
	assert.Equal(t, DefaultJitterFactor, empty.JitterFactor)
	assert.Equal(t, DefaultRetryAttempts, empty.CircuitBreakerThreshold)
}

func TestPoolConfig_NormalizeExplicitZero(t *testing.T) {
	t.Parallel()

	cfg := PoolConfig{
		MinConnections: ExplicitZero,
		RetryDelay:     ExplicitZero,
		JitterFactor:   ExplicitZero,
	}.Normalize()

	assert.Zero(t, cfg.MinConnections)
	assert.Zero(t, cfg.RetryDelay)
	assert.Zero(t, cfg.JitterFactor)
	require.NoError(t, cfg.Validate())

	again := cfg.Normalize()
	assert.Equal(t, cfg, again, "normalizing twice must keep explicit zeros")
}

func TestPoolConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*PoolConfig)
		wantField string
	}{
		{name: "valid", mutate: func(*PoolConfig) {}},
		{name: "zero max", mutate: func(c *PoolConfig) { c.MaxConnections = 0 }, wantField: "maxConnections"},
		{name: "negative min", mutate: func(c *PoolConfig) { c.MinConnections = -2 }, wantField: "minConnections"},
		{name: "min above max", mutate: func(c *PoolConfig) { c.MinConnections = 30 }, wantField: "minConnections"},
		{name: "zero retries", mutate: func(c *PoolConfig) { c.RetryAttempts = 0 }, wantField: "retryAttempts"},
		{name: "jitter too large", mutate: func(c *PoolConfig) { c.JitterFactor = 2 }, wantField: "jitterFactor"},
		{name: "negative delay", mutate: func(c *PoolConfig) { c.RetryDelay = Duration(-time.Second) }, wantField: "retryDelay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultPoolConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, util.ErrConfigInvalid))
			var cfgErr *util.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestDuration_YAML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "go duration", input: "d: 1m30s", want: 90 * time.Second},
		{name: "milliseconds", input: "d: 1500", want: 1500 * time.Millisecond},
		{name: "empty", input: `d: ""`, want: 0},
		{name: "invalid", input: "d: later", wantErr: true},
		{name: "not a scalar", input: "d: [1]", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out struct {
				D Duration `yaml:"d"`
			}
			err := yaml.Unmarshal([]byte(tt.input), &out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.D.Duration())
		})
	}
}

func TestDuration_JSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"2s"`, string(data))

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"750ms"`), &d))
	assert.Equal(t, 750*time.Millisecond, d.Duration())
	require.NoError(t, json.Unmarshal([]byte(`null`), &d))
	assert.Zero(t, d)
	assert.Error(t, json.Unmarshal([]byte(`"x"`), &d))
}
