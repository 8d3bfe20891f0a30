// Package kafka implements the write-only kafka connector: every record
// becomes one message on the locator topic.
package kafka

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/connector/base"
	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/connector/registry"
	"github.com/ajitpratap0/interlink/pkg/debatch"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Header names set on every message
const (
	HeaderInterface   = "interface"
	HeaderContentHash = "content-hash"
)

func init() {
	registry.Register(core.Info{
		Type:          models.AdapterKafka,
		Description:   "Publishes each record as a JSON message to a Kafka topic",
		SupportsWrite: true,
		Settings:      []string{"brokers", "key_column", "acks", "compression", "idempotent", "client_id", "tls", "tls_insecure_skip_verify", "sasl_mechanism", "sasl_username", "sasl_password"},
	}, func(ctx context.Context, inst *models.AdapterInstance, logger *zap.Logger) (core.Adapter, error) {
		return New(ctx, inst, logger)
	})
}

// Settings configures the producer
type Settings struct {
	config.ConnectorConfig `mapstructure:",squash"`

	Brokers []string `mapstructure:"brokers"`
	// KeyColumn supplies the message key; empty keys spread records over partitions
	KeyColumn   string `mapstructure:"key_column"`
	Acks        string `mapstructure:"acks"`
	Compression string `mapstructure:"compression"`
	Idempotent  bool   `mapstructure:"idempotent"`
	ClientID    string `mapstructure:"client_id"`

	TLS                   bool   `mapstructure:"tls"`
	TLSInsecureSkipVerify bool   `mapstructure:"tls_insecure_skip_verify"`
	SASLMechanism         string `mapstructure:"sasl_mechanism"`
	SASLUsername          string `mapstructure:"sasl_username"`
	SASLPassword          string `mapstructure:"sasl_password"`
}

// Connector publishes records to Kafka
type Connector struct {
	*base.BaseConnector
	settings Settings
	producer sarama.SyncProducer
}

// New connects a synchronous producer to the configured brokers. sarama does
// not take a context, so New stops waiting when ctx is done and closes the
// producer if it connects afterwards.
func New(ctx context.Context, inst *models.AdapterInstance, logger *zap.Logger) (*Connector, error) {
	s := Settings{Acks: "all", ClientID: "interlink"}
	bc, err := base.NewBaseConnector(inst, logger, &s)
	if err != nil {
		return nil, err
	}
	cfg, err := saramaConfig(s)
	if err != nil {
		return nil, err
	}
	if len(s.Brokers) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "brokers is required")
	}
	producer, err := dialProducer(ctx, s.Brokers, cfg)
	if err != nil {
		return nil, err
	}
	return newWithProducer(bc, s, producer), nil
}

type dialResult struct {
	producer sarama.SyncProducer
	err      error
}

func dialProducer(ctx context.Context, brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error) {
	done := make(chan dialResult, 1)
	go func() {
		p, err := sarama.NewSyncProducer(brokers, cfg)
		done <- dialResult{producer: p, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, errors.Wrap(r.err, errors.ErrorTypeConnectivity, "failed to create Kafka producer")
		}
		return r.producer, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.producer != nil {
				_ = r.producer.Close()
			}
		}()
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "gave up connecting to Kafka")
	}
}

func newWithProducer(bc *base.BaseConnector, s Settings, producer sarama.SyncProducer) *Connector {
	return &Connector{BaseConnector: bc, settings: s, producer: producer}
}

func saramaConfig(s Settings) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = s.ClientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Timeout = s.RequestTimeout
	cfg.Net.DialTimeout = s.RequestTimeout
	cfg.Metadata.Retry.Max = 1

	switch strings.ToLower(s.Acks) {
	case "all", "-1", "":
		cfg.Producer.RequiredAcks = sarama.WaitForAll
	case "1":
		cfg.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		cfg.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported acks %q", s.Acks)
	}

	switch strings.ToLower(s.Compression) {
	case "", "none":
		cfg.Producer.Compression = sarama.CompressionNone
	case "gzip":
		cfg.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
		cfg.Version = sarama.V2_1_0_0
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression %q", s.Compression)
	}

	if s.Idempotent {
		cfg.Producer.Idempotent = true
		cfg.Producer.RequiredAcks = sarama.WaitForAll
		cfg.Net.MaxOpenRequests = 1
		if !cfg.Version.IsAtLeast(sarama.V0_11_0_0) {
			cfg.Version = sarama.V0_11_0_0
		}
	}

	if s.TLS {
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: s.TLSInsecureSkipVerify, //nolint:gosec // opt-in for test clusters
			MinVersion:         tls.VersionTLS12,
		}
	}

	switch strings.ToUpper(s.SASLMechanism) {
	case "":
	case "PLAIN":
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		cfg.Net.SASL.User = s.SASLUsername
		cfg.Net.SASL.Password = s.SASLPassword
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported sasl_mechanism %q", s.SASLMechanism)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid producer settings")
	}
	return cfg, nil
}

// SupportsRead reports false
func (c *Connector) SupportsRead() bool { return false }

// SupportsWrite reports true
func (c *Connector) SupportsWrite() bool { return true }

// Read is not supported
func (c *Connector) Read(context.Context, string) ([]*core.Batch, error) {
	return nil, c.NotSupported("read")
}

// GetSchema is not supported; topics carry no column metadata
func (c *Connector) GetSchema(context.Context, string) (core.Schema, error) {
	return nil, c.NotSupported("get_schema")
}

// Write publishes one message per record to the locator topic. The
// content-hash header lets consumers drop redelivered records.
func (c *Connector) Write(ctx context.Context, locator string, columns []string, records []models.Record) (*core.DeliveryResult, error) {
	if locator == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "a topic locator is required")
	}
	result := core.NewDeliveryResult(len(records))
	iface := core.InterfaceFromContext(ctx)

	msgs := make([]*sarama.ProducerMessage, 0, len(records))
	for i, r := range records {
		value := make(map[string]string, len(columns))
		for _, col := range columns {
			value[col] = r.Values[col]
		}
		data, err := json.Marshal(value)
		if err != nil {
			result.Fail(i, errors.Wrap(err, errors.ErrorTypeValidation, "failed to encode record"))
			continue
		}
		msg := &sarama.ProducerMessage{
			Topic: locator,
			Value: sarama.ByteEncoder(data),
			Headers: []sarama.RecordHeader{
				{Key: []byte(HeaderInterface), Value: []byte(iface)},
				{Key: []byte(HeaderContentHash), Value: []byte(debatch.HashRecords(columns, []models.Record{r}))},
			},
			Metadata: i,
		}
		if c.settings.KeyColumn != "" {
			if key := r.Values[c.settings.KeyColumn]; key != "" {
				msg.Key = sarama.StringEncoder(key)
			}
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return result, nil
	}

	// the producer retries internally; the batch is sent once so
	// published records are not duplicated by an outer retry
	err := c.RateLimit(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait cancelled")
	}
	err = c.producer.SendMessages(msgs)
	if err == nil {
		return result, nil
	}

	var perMessage sarama.ProducerErrors
	if !errors.As(err, &perMessage) {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to publish records")
	}
	for _, pe := range perMessage {
		i, ok := pe.Msg.Metadata.(int)
		if !ok {
			continue
		}
		result.Fail(i, errors.Wrap(pe.Err, errors.ErrorTypeDeliveryFailed, "failed to publish record").
			WithDetail("topic", locator))
	}
	c.GetLogger().Warn("some records were not published",
		zap.String("topic", locator), zap.Int("failed", len(perMessage)))
	return result, nil
}

// Close flushes and closes the producer
func (c *Connector) Close(_ context.Context) error {
	return c.BaseConnector.Close(c.producer.Close)
}
