// Package connector is the home of Interlink's adapter framework: the uniform
// contract every connector implements, the shared reliability layer and the
// factory that creates connectors from configured instances.
//
// # Architecture Overview
//
// The connector package is organized into several sub-packages:
//
//   - core: Defines the Adapter interface. Sources return raw batches from
//     Read and never touch the message store; debatching and enqueueing happen
//     once, in the scheduler. Destinations report per-record outcomes from
//     Write so one bad record never fails its whole batch.
//
//   - base: Provides BaseConnector, which decodes the instance settings and
//     wraps external calls with retries, a circuit breaker and a rate limiter.
//     Every connector embeds it.
//
//   - registry: A factory keyed on models.AdapterType. Connectors self-register
//     during initialization; adding a connector never touches the scheduler or
//     the store.
//
//   - adapters: The connector implementations (delimited files and SFTP,
//     relational databases, ERP, CRM and Kafka).
//
// # Settings
//
// An instance's settings are a flat string map. Each connector declares a
// Settings struct that embeds config.ConnectorConfig with
// `mapstructure:",squash"`, sets its defaults and hands it to
// base.NewBaseConnector, which decodes the map over the defaults:
//
//	type Settings struct {
//		config.ConnectorConfig `mapstructure:",squash"`
//		Query string `mapstructure:"query"`
//	}
//
//	s := Settings{Query: "SELECT 1"}
//	bc, err := base.NewBaseConnector(inst, logger, &s)
//
// # Error Handling
//
// Connectors return *errors.Error values. Only connectivity, timeout and
// delivery_failed errors are retried by BaseConnector.Execute. Operations a
// connector does not implement return a not_supported error, which the
// delivery workers treat as a configuration problem rather than a failed
// delivery.
package connector
