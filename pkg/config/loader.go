package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override file settings,
// e.g. INTERLINK_STORE_DSN overrides store.dsn.
const EnvPrefix = "INTERLINK"

// LoadService reads the service configuration. path may be empty, in which case
// only defaults and environment overrides apply.
func LoadService(path string) (*ServiceConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &ServiceConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *ServiceConfig) {
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.max_conns", d.Store.MaxConns)
	v.SetDefault("store.default_max_retries", d.Store.DefaultMaxRetries)
	v.SetDefault("store.archive_delivered", d.Store.ArchiveDelivered)
	v.SetDefault("store.auto_migrate", d.Store.AutoMigrate)

	v.SetDefault("config_store.driver", d.ConfigStore.Driver)
	v.SetDefault("config_store.path", d.ConfigStore.Path)
	v.SetDefault("config_store.dsn", d.ConfigStore.DSN)

	v.SetDefault("scheduler.tick_interval", d.Scheduler.TickInterval)
	v.SetDefault("scheduler.poll_timeout", d.Scheduler.PollTimeout)
	v.SetDefault("scheduler.max_concurrency", d.Scheduler.MaxConcurrency)
	v.SetDefault("scheduler.file_interval", d.Scheduler.FileInterval)
	v.SetDefault("scheduler.relational_interval", d.Scheduler.RelationalInterval)

	v.SetDefault("delivery.tick_interval", d.Delivery.TickInterval)
	v.SetDefault("delivery.batch_size", d.Delivery.BatchSize)
	v.SetDefault("delivery.lease_duration", d.Delivery.LeaseDuration)
	v.SetDefault("delivery.delivery_timeout", d.Delivery.DeliveryTimeout)
	v.SetDefault("delivery.max_concurrency", d.Delivery.MaxConcurrency)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.output_paths", d.Logging.OutputPaths)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)
	v.SetDefault("metrics.stats_interval", d.Metrics.StatsInterval)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}
