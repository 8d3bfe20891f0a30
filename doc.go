// Package interlink is a data-integration middleware. Source adapters pull
// records from external systems (delimited files on disk, object storage or
// SFTP, relational databases, ERP and CRM services) into a durable staging
// store; destination adapters drain that store and deliver the records to
// target systems.
//
// # Architecture
//
// The core is the staging message store and the two loops around it:
//
//   - The polling Scheduler (internal/pipeline) reads each enabled source at
//     its own cadence, never running two polls of one source at once. Raw
//     payloads are split into records by pkg/debatch and fingerprinted so an
//     unchanged batch is staged only once.
//
//   - The message store (pkg/store) keeps one row per record. Destinations
//     claim rows with a lease, then acknowledge or fail them. A failed row is
//     retried until its budget runs out and it is dead-lettered. A row is
//     removed once every subscriber of its source has acknowledged it.
//
//   - The Deliverer (internal/pipeline) claims batches per destination,
//     writes them through the destination adapter and settles every message.
//
// Routing lives in the configuration store (pkg/configstore) and is resolved
// by pkg/subscription on every claim, so enabling or disabling a
// subscription takes effect on the next tick.
//
// # Delivery guarantees
//
// Delivery is at-least-once. A destination may see a record again after a
// lease expires or a process restarts; destinations upsert by key or write
// content-addressed files so redelivery is harmless. Several processes may
// run against the same PostgreSQL store: the claim is a single conditional
// update, so no two workers hold the same message.
//
// # Quick Start
//
// Describe adapter instances and subscriptions in a YAML file:
//
//	instances:
//	  - instance_id: 6f1c1a52-8a3e-4d7c-9f55-2c1b0e0c0001
//	    name: orders-files
//	    interface_name: orders
//	    role: source
//	    adapter_type: file-delimited
//	    is_enabled: true
//	    locator: orders
//	    settings:
//	      root: /srv/exchange
//	      separator: comma
//	  - instance_id: 6f1c1a52-8a3e-4d7c-9f55-2c1b0e0c0002
//	    name: orders-db
//	    interface_name: orders
//	    role: destination
//	    adapter_type: relational-poll
//	    is_enabled: true
//	    locator: public.orders
//	    settings:
//	      dsn: ${ORDERS_DSN}
//	      key_columns: id
//	subscriptions:
//	  - interface_name: orders
//	    destination_instance_id: 6f1c1a52-8a3e-4d7c-9f55-2c1b0e0c0002
//	    enabled: true
//
// Then run the service:
//
//	INTERLINK_STORE_DSN=postgres://localhost/interlink \
//	INTERLINK_CONFIG_STORE_PATH=adapters.yaml \
//	interlink serve --metrics-addr :9090
//
// # Connectors
//
//   - file-delimited, sftp: pkg/connector/adapters/delimited over pkg/blob
//     (local disk, S3, GCS, MinIO, SFTP)
//   - relational-poll: pkg/connector/adapters/relational (PostgreSQL, MySQL)
//   - erp-odata, erp-idoc, erp-rfc: pkg/connector/adapters/erp
//   - crm, crm-fetch: pkg/connector/adapters/crm
//   - kafka: pkg/connector/adapters/kafka (destination only)
//
// # Observability
//
// Every component logs through zap with a component field. Prometheus
// metrics are served on /metrics by `interlink serve`, and OpenTelemetry
// spans cover each poll and each destination write.
package interlink
