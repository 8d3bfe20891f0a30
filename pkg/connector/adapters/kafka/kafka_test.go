package kafka

import (
	"context"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/connector/base"
	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMocked(t *testing.T, settings map[string]string) (*Connector, *mocks.SyncProducer) {
	t.Helper()
	inst := &models.AdapterInstance{
		InstanceID:  uuid.New(),
		Name:        "events",
		AdapterType: models.AdapterKafka,
		Settings:    settings,
	}
	var s Settings
	bc, err := base.NewBaseConnector(inst, zaptest.NewLogger(t), &s)
	require.NoError(t, err)
	producer := mocks.NewSyncProducer(t, nil)
	return newWithProducer(bc, s, producer), producer
}

func header(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

// recordingProducer captures sent messages and fails those whose key is in failKeys.
type recordingProducer struct {
	sarama.SyncProducer
	sent     []*sarama.ProducerMessage
	failKeys map[string]bool
	closed   bool
}

func (p *recordingProducer) SendMessages(msgs []*sarama.ProducerMessage) error {
	var errs sarama.ProducerErrors
	for _, m := range msgs {
		key := ""
		if m.Key != nil {
			b, _ := m.Key.Encode()
			key = string(b)
		}
		if p.failKeys[key] {
			errs = append(errs, &sarama.ProducerError{Msg: m, Err: sarama.ErrMessageSizeTooLarge})
			continue
		}
		p.sent = append(p.sent, m)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (p *recordingProducer) Close() error {
	p.closed = true
	return nil
}

func TestWritePublishesOneMessagePerRecord(t *testing.T) {
	c, producer := newMocked(t, map[string]string{"key_column": "id"})

	checkID := func(want string) mocks.ValueChecker {
		return func(value []byte) error {
			var decoded map[string]string
			if err := json.Unmarshal(value, &decoded); err != nil {
				return err
			}
			if decoded["id"] != want {
				return fmt.Errorf("value %s does not carry id %s", value, want)
			}
			return nil
		}
	}
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(checkID("1"))
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(checkID("2"))

	cols := []string{"id", "name"}
	res, err := c.Write(context.Background(), "orders.v1", cols, []models.Record{
		models.RecordFromValues(cols, []string{"1", "A"}),
		models.RecordFromValues(cols, []string{"2", "B"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Empty(t, res.Failed)
	require.NoError(t, c.Close(context.Background()))
}

func TestWriteSetsKeyAndHeaders(t *testing.T) {
	c, mock := newMocked(t, map[string]string{"key_column": "id"})
	_ = mock.Close()
	p := &recordingProducer{}
	c.producer = p

	cols := []string{"id", "name"}
	ctx := core.WithInterface(context.Background(), "orders")
	res, err := c.Write(ctx, "orders.v1", cols, []models.Record{
		models.RecordFromValues(cols, []string{"1", "A"}),
		models.RecordFromValues(cols, []string{"", "no key"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	require.Len(t, p.sent, 2)

	msg := p.sent[0]
	assert.Equal(t, "orders.v1", msg.Topic)
	key, _ := msg.Key.Encode()
	assert.Equal(t, "1", string(key))
	assert.Equal(t, "orders", header(msg, HeaderInterface))
	assert.Len(t, header(msg, HeaderContentHash), 64)
	assert.Nil(t, p.sent[1].Key)
	assert.NotEqual(t, header(msg, HeaderContentHash), header(p.sent[1], HeaderContentHash))

	require.NoError(t, c.Close(context.Background()))
	assert.True(t, p.closed)
}

func TestWriteReportsFailedRecords(t *testing.T) {
	c, mock := newMocked(t, map[string]string{"key_column": "id"})
	_ = mock.Close()
	c.producer = &recordingProducer{failKeys: map[string]bool{"2": true}}

	cols := []string{"id"}
	res, err := c.Write(context.Background(), "orders.v1", cols, []models.Record{
		models.RecordFromValues(cols, []string{"1"}),
		models.RecordFromValues(cols, []string{"2"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	require.Contains(t, res.Failed, 1)
	assert.True(t, errors.IsType(res.Failed[1], errors.ErrorTypeDeliveryFailed))
}

func TestReadNotSupported(t *testing.T) {
	c, producer := newMocked(t, nil)
	defer producer.Close()
	_, err := c.Read(context.Background(), "orders.v1")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotSupported))
	_, err = c.Write(context.Background(), "", nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestSaramaConfig(t *testing.T) {
	s := Settings{ConnectorConfig: config.DefaultConnectorConfig(), Acks: "1", Compression: "zstd", Idempotent: true}
	cfg, err := saramaConfig(s)
	require.NoError(t, err)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionZSTD, cfg.Producer.Compression)
	assert.True(t, cfg.Producer.Idempotent)

	s = Settings{ConnectorConfig: config.DefaultConnectorConfig(), SASLMechanism: "GSSAPI"}
	_, err = saramaConfig(s)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	s = Settings{ConnectorConfig: config.DefaultConnectorConfig(), Compression: "brotli"}
	_, err = saramaConfig(s)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestNewStopsWaitingWhenContextDone(t *testing.T) {
	inst := &models.AdapterInstance{
		InstanceID:  uuid.New(),
		Name:        "events",
		AdapterType: models.AdapterKafka,
		// a non-routable address keeps the dial pending
		Settings: map[string]string{"brokers": "10.255.255.1:9092", "request_timeout": "30s"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(ctx, inst, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}
