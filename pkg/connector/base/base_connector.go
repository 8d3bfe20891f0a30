// Package base provides the BaseConnector every adapter embeds. It carries
// the reliability features shared by all connectors: retries with
// exponential backoff, a circuit breaker and a rate limiter, configured from
// the instance settings.
//
// # Usage
//
//	type MyConnector struct {
//	    *base.BaseConnector
//	    // connector-specific fields
//	}
//
//	func New(ctx context.Context, inst *models.AdapterInstance, logger *zap.Logger) (core.Adapter, error) {
//	    var cfg Config
//	    bc, err := base.NewBaseConnector(inst, logger, &cfg)
//	    ...
//	}
package base

import (
	"context"
	"sync"

	"github.com/ajitpratap0/interlink/pkg/clients"
	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"go.uber.org/zap"
)

// Settings is implemented by connector settings structs that embed
// config.ConnectorConfig.
type Settings interface {
	Connector() *config.ConnectorConfig
}

// BaseConnector provides common functionality for all connectors
type BaseConnector struct {
	instance *models.AdapterInstance
	config   config.ConnectorConfig
	logger   *zap.Logger

	circuitBreaker *clients.CircuitBreaker
	rateLimiter    clients.RateLimiter
	backoff        *Backoff

	closeMutex sync.Mutex
	closed     bool
}

// NewBaseConnector decodes the instance settings into settings (after applying
// the shared defaults) and sets up the reliability features.
func NewBaseConnector(instance *models.AdapterInstance, logger *zap.Logger, settings Settings) (*BaseConnector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cc := settings.Connector()
	*cc = config.DefaultConnectorConfig()
	if err := config.Decode(instance.Settings, settings); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid connector settings")
	}
	if err := cc.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid connector settings")
	}

	bc := &BaseConnector{
		instance: instance,
		config:   *cc,
		logger:   logger,
		backoff:  NewBackoff(*cc),
	}

	if cc.CircuitBreaker {
		cbCfg := clients.DefaultCircuitBreakerConfig()
		cbCfg.FailureThreshold = cc.FailureThreshold
		bc.circuitBreaker = clients.NewCircuitBreaker(cbCfg, logger)
	}

	if cc.RateLimitPerSec > 0 {
		// Allow bursts up to 2x the limit
		bc.rateLimiter = clients.NewRateLimiter(float64(cc.RateLimitPerSec), cc.RateLimitPerSec*2)
	}

	return bc, nil
}

// Instance returns the adapter instance this connector serves
func (bc *BaseConnector) Instance() *models.AdapterInstance {
	return bc.instance
}

// Type returns the adapter type
func (bc *BaseConnector) Type() models.AdapterType {
	return bc.instance.AdapterType
}

// Config returns the shared connector configuration
func (bc *BaseConnector) Config() config.ConnectorConfig {
	return bc.config
}

// GetLogger returns the connector logger
func (bc *BaseConnector) GetLogger() *zap.Logger {
	return bc.logger
}

// HTTPConfig builds an HTTP client configuration from the shared settings.
func (bc *BaseConnector) HTTPConfig() *clients.HTTPConfig {
	cfg := clients.DefaultHTTPConfig()
	cfg.RequestTimeout = bc.config.RequestTimeout
	// the connector-level breaker already guards calls
	cfg.CircuitBreakerEnabled = false
	return cfg
}

// Execute runs fn with rate limiting, circuit breaker protection and retries.
// Only retryable errors are retried.
func (bc *BaseConnector) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return bc.backoff.Do(ctx, bc.logger, func() error {
		if err := bc.RateLimit(ctx); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait cancelled")
		}
		if bc.circuitBreaker == nil {
			return fn(ctx)
		}
		return bc.circuitBreaker.Execute(func() error { return fn(ctx) })
	}, errors.IsRetryable)
}

// RateLimit enforces the configured rate limit, blocking if necessary.
// Returns immediately if no rate limiter is configured.
func (bc *BaseConnector) RateLimit(ctx context.Context) error {
	if bc.rateLimiter == nil {
		return nil
	}
	return bc.rateLimiter.Wait(ctx)
}

// GetCircuitBreaker returns the circuit breaker, nil when disabled
func (bc *BaseConnector) GetCircuitBreaker() *clients.CircuitBreaker {
	return bc.circuitBreaker
}

// NotSupported returns the error for an operation the connector does not implement.
func (bc *BaseConnector) NotSupported(operation string) error {
	return errors.NotSupported(string(bc.instance.AdapterType), operation)
}

// Closed reports whether Close was called
func (bc *BaseConnector) Closed() bool {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()
	return bc.closed
}

// Close marks the connector closed and runs release once.
func (bc *BaseConnector) Close(release func() error) error {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()

	if bc.closed {
		return nil
	}
	bc.closed = true
	if release == nil {
		return nil
	}
	if err := release(); err != nil {
		bc.logger.Error("failed to close connector", zap.Error(err))
		return err
	}
	bc.logger.Debug("connector closed")
	return nil
}
