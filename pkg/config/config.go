// Package config provides the configuration system for Interlink.
//
// Two layers exist:
//   - ServiceConfig configures the running process (message store, configuration
//     store, scheduler, delivery workers, logging, metrics and tracing). It is
//     loaded by LoadService from an optional YAML file with INTERLINK_*
//     environment overrides.
//   - ConnectorConfig holds the reliability settings every adapter instance
//     shares. Connectors embed it in their own settings struct and decode the
//     instance's settings map with Decode.
//
// Example usage:
//
//	cfg, err := config.LoadService("interlink.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Scheduler.MaxConcurrency = 16
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"runtime"
	"time"
)

// ServiceConfig is the top-level configuration of an Interlink process.
type ServiceConfig struct {
	// Store configures the staging message store
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// ConfigStore configures where adapter instances and subscriptions are read from
	ConfigStore ConfigStoreConfig `mapstructure:"config_store" yaml:"config_store"`

	// Scheduler configures the polling scheduler
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`

	// Delivery configures destination delivery workers
	Delivery DeliveryConfig `mapstructure:"delivery" yaml:"delivery"`

	// Logging configures the process logger
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Tracing configures OpenTelemetry tracing
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// StoreConfig selects and configures the message store driver.
type StoreConfig struct {
	// Driver is "postgres" or "memory"
	Driver string `mapstructure:"driver" yaml:"driver"`
	// DSN is the PostgreSQL connection string
	DSN string `mapstructure:"dsn" yaml:"dsn"`
	// MaxConns caps the pgx pool size
	MaxConns int32 `mapstructure:"max_conns" yaml:"max_conns"`
	// DefaultMaxRetries is the retry budget given to newly staged messages
	DefaultMaxRetries int `mapstructure:"default_max_retries" yaml:"default_max_retries"`
	// ArchiveDelivered moves fully delivered messages to an archive table instead of deleting them
	ArchiveDelivered bool `mapstructure:"archive_delivered" yaml:"archive_delivered"`
	// AutoMigrate applies embedded migrations on startup
	AutoMigrate bool `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

// ConfigStoreConfig selects where adapter configuration is read from.
type ConfigStoreConfig struct {
	// Driver is "file" or "postgres"
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path is the YAML file for the file driver
	Path string `mapstructure:"path" yaml:"path"`
	// DSN is the PostgreSQL connection string for the postgres driver
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// SchedulerConfig controls polling cadence and isolation.
type SchedulerConfig struct {
	// TickInterval is how often the scheduler evaluates source instances
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	// PollTimeout bounds a single source poll
	PollTimeout time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	// MaxConcurrency caps concurrently polling source instances
	MaxConcurrency int `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	// FileInterval is the default polling interval for file-like sources
	FileInterval time.Duration `mapstructure:"file_interval" yaml:"file_interval"`
	// RelationalInterval is the default polling interval for query-based sources
	RelationalInterval time.Duration `mapstructure:"relational_interval" yaml:"relational_interval"`
}

// DeliveryConfig controls destination delivery workers.
type DeliveryConfig struct {
	// TickInterval is how often each destination claims a batch
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	// BatchSize is the maximum number of messages claimed per destination per tick
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// LeaseDuration is how long a claim is held before it can be reclaimed
	LeaseDuration time.Duration `mapstructure:"lease_duration" yaml:"lease_duration"`
	// DeliveryTimeout bounds one destination write
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout" yaml:"delivery_timeout"`
	// MaxConcurrency caps concurrently delivering destinations
	MaxConcurrency int `mapstructure:"max_concurrency" yaml:"max_concurrency"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level       string   `mapstructure:"level" yaml:"level"`
	Encoding    string   `mapstructure:"encoding" yaml:"encoding"`
	Development bool     `mapstructure:"development" yaml:"development"`
	OutputPaths []string `mapstructure:"output_paths" yaml:"output_paths"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
	// StatsInterval is how often the staged message gauges are refreshed
	StatsInterval time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// Default returns a ServiceConfig with sensible defaults.
func Default() *ServiceConfig {
	return &ServiceConfig{
		Store: StoreConfig{
			Driver:            "postgres",
			MaxConns:          int32(runtime.NumCPU() * 2),
			DefaultMaxRetries: 3,
			AutoMigrate:       true,
		},
		ConfigStore: ConfigStoreConfig{
			Driver: "file",
			Path:   "interlink-adapters.yaml",
		},
		Scheduler: SchedulerConfig{
			TickInterval:       time.Second,
			PollTimeout:        2 * time.Minute,
			MaxConcurrency:     runtime.NumCPU(),
			FileInterval:       10 * time.Second,
			RelationalInterval: 60 * time.Second,
		},
		Delivery: DeliveryConfig{
			TickInterval:    time.Second,
			BatchSize:       100,
			LeaseDuration:   60 * time.Second,
			DeliveryTimeout: 30 * time.Second,
			MaxConcurrency:  runtime.NumCPU(),
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			Address:       ":9090",
			StatsInterval: 15 * time.Second,
		},
		Tracing: TracingConfig{
			ServiceName: "interlink",
			SampleRate:  0.1,
		},
	}
}

// Validate checks the configuration for missing or inconsistent values.
func (c *ServiceConfig) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.ConfigStore.Driver {
	case "file":
		if c.ConfigStore.Path == "" {
			return fmt.Errorf("config_store.path is required for the file driver")
		}
	case "postgres":
		if c.ConfigStore.DSN == "" {
			c.ConfigStore.DSN = c.Store.DSN
		}
		if c.ConfigStore.DSN == "" {
			return fmt.Errorf("config_store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown config store driver %q", c.ConfigStore.Driver)
	}

	if c.Store.DefaultMaxRetries < 0 {
		return fmt.Errorf("store.default_max_retries must not be negative")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	if c.Scheduler.MaxConcurrency <= 0 {
		c.Scheduler.MaxConcurrency = 1
	}
	if c.Delivery.TickInterval <= 0 {
		return fmt.Errorf("delivery.tick_interval must be positive")
	}
	if c.Delivery.BatchSize <= 0 {
		return fmt.Errorf("delivery.batch_size must be positive")
	}
	if c.Delivery.LeaseDuration <= 0 {
		return fmt.Errorf("delivery.lease_duration must be positive")
	}
	if c.Delivery.DeliveryTimeout >= c.Delivery.LeaseDuration {
		return fmt.Errorf("delivery.delivery_timeout (%s) must be shorter than delivery.lease_duration (%s)",
			c.Delivery.DeliveryTimeout, c.Delivery.LeaseDuration)
	}
	if c.Delivery.MaxConcurrency <= 0 {
		c.Delivery.MaxConcurrency = 1
	}
	if c.Metrics.Enabled && c.Metrics.StatsInterval <= 0 {
		return fmt.Errorf("metrics.stats_interval must be positive")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	return nil
}
