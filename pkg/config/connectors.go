package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ConnectorConfig carries the reliability settings shared by every adapter
// instance. Connectors embed it with `mapstructure:",squash"`.
type ConnectorConfig struct {
	// RequestTimeout bounds a single call to the external system
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// RetryAttempts sets maximum attempts for transient failures inside one operation
	RetryAttempts int `mapstructure:"retry_attempts"`
	// RetryDelay is the initial delay between attempts
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// MaxRetryDelay caps the backoff
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
	// CircuitBreaker enables circuit breaker protection
	CircuitBreaker bool `mapstructure:"circuit_breaker"`
	// FailureThreshold opens the circuit after this many consecutive failures
	FailureThreshold int `mapstructure:"failure_threshold"`
	// RateLimitPerSec limits calls per second (0 = unlimited)
	RateLimitPerSec int `mapstructure:"rate_limit_per_sec"`
}

// DefaultConnectorConfig returns the defaults applied before settings are decoded.
func DefaultConnectorConfig() ConnectorConfig {
	return ConnectorConfig{
		RequestTimeout:   30 * time.Second,
		RetryAttempts:    3,
		RetryDelay:       time.Second,
		MaxRetryDelay:    30 * time.Second,
		CircuitBreaker:   true,
		FailureThreshold: 5,
	}
}

// Validate normalises out-of-range values.
func (c *ConnectorConfig) Validate() error {
	if c.RetryAttempts < 1 {
		c.RetryAttempts = 1
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.RateLimitPerSec < 0 {
		return fmt.Errorf("rate_limit_per_sec must not be negative")
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	return nil
}

// Decode decodes an adapter instance's string settings into out. String values
// are converted to the target field types ("true", "30s", "5").
func Decode(settings map[string]string, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create settings decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return fmt.Errorf("failed to decode settings: %w", err)
	}
	return nil
}

// Connector returns c. Settings structs embedding ConnectorConfig expose it
// through this promoted method.
func (c *ConnectorConfig) Connector() *ConnectorConfig {
	return c
}
