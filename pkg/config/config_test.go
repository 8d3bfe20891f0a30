package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidatesWithMemoryStore(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "memory"
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServiceConfig)
		errMsg string
	}{
		{"postgres without dsn", func(c *ServiceConfig) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"unknown store", func(c *ServiceConfig) { c.Store.Driver = "redis" }, "unknown store driver"},
		{"unknown config store", func(c *ServiceConfig) { c.ConfigStore.Driver = "etcd" }, "unknown config store driver"},
		{"zero batch", func(c *ServiceConfig) { c.Delivery.BatchSize = 0 }, "batch_size"},
		{"timeout beyond lease", func(c *ServiceConfig) { c.Delivery.DeliveryTimeout = 2 * c.Delivery.LeaseDuration }, "shorter than"},
		{"bad sample rate", func(c *ServiceConfig) { c.Tracing.SampleRate = 2 }, "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Store.Driver = "memory"
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfigStoreFallsBackToStoreDSN(t *testing.T) {
	cfg := Default()
	cfg.Store.DSN = "postgres://localhost/interlink"
	cfg.ConfigStore.Driver = "postgres"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, cfg.Store.DSN, cfg.ConfigStore.DSN)
}

func TestLoadServiceFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "interlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: memory
delivery:
  batch_size: 25
  lease_duration: 2m
`), 0o600))

	t.Setenv("INTERLINK_SCHEDULER_MAX_CONCURRENCY", "7")

	cfg, err := LoadService(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 25, cfg.Delivery.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.Delivery.LeaseDuration)
	assert.Equal(t, 7, cfg.Scheduler.MaxConcurrency)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.FileInterval)
}

func TestParseSubstitutesEnv(t *testing.T) {
	t.Setenv("IL_HOST", "db.internal")

	var out struct {
		Host string `yaml:"host"`
		Port string `yaml:"port"`
	}
	require.NoError(t, Parse([]byte("host: ${IL_HOST}\nport: ${IL_PORT:-5432}\n"), &out))
	assert.Equal(t, "db.internal", out.Host)
	assert.Equal(t, "5432", out.Port)
}

func TestDecodeSettings(t *testing.T) {
	var out struct {
		ConnectorConfig `mapstructure:",squash"`
		Table           string   `mapstructure:"table"`
		Keys            []string `mapstructure:"key_columns"`
	}
	out.ConnectorConfig = DefaultConnectorConfig()

	err := Decode(map[string]string{
		"table":              "orders",
		"key_columns":        "id,tenant",
		"request_timeout":    "5s",
		"circuit_breaker":    "false",
		"rate_limit_per_sec": "20",
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, "orders", out.Table)
	assert.Equal(t, []string{"id", "tenant"}, out.Keys)
	assert.Equal(t, 5*time.Second, out.RequestTimeout)
	assert.False(t, out.CircuitBreaker)
	assert.Equal(t, 20, out.RateLimitPerSec)
	assert.Equal(t, 3, out.RetryAttempts)
	require.NoError(t, out.ConnectorConfig.Validate())
}

func TestExpandEnvLeavesPlainDollarsAlone(t *testing.T) {
	t.Setenv("IL_TABLE", "orders")

	out := ExpandEnv([]byte("query: SELECT $1 FROM ${IL_TABLE} WHERE x = '${IL_MISSING}'"))
	assert.Equal(t, "query: SELECT $1 FROM orders WHERE x = ''", string(out))
}
