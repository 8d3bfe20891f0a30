package base

import (
	"context"
	"testing"
	"time"

	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testSettings struct {
	config.ConnectorConfig `mapstructure:",squash"`
	Table                  string   `mapstructure:"table"`
	Keys                   []string `mapstructure:"keys"`
}

func newTestConnector(t *testing.T, settings map[string]string) (*BaseConnector, *testSettings) {
	t.Helper()
	inst := &models.AdapterInstance{Name: "t", AdapterType: models.AdapterRelationalPoll, Settings: settings}
	var s testSettings
	bc, err := NewBaseConnector(inst, zaptest.NewLogger(t), &s)
	require.NoError(t, err)
	return bc, &s
}

func TestNewBaseConnectorDecodesSettings(t *testing.T) {
	bc, s := newTestConnector(t, map[string]string{
		"table":           "orders",
		"keys":            "id,region",
		"retry_attempts":  "4",
		"request_timeout": "5s",
	})
	assert.Equal(t, "orders", s.Table)
	assert.Equal(t, []string{"id", "region"}, s.Keys)
	assert.Equal(t, 4, bc.Config().RetryAttempts)
	assert.Equal(t, 5*time.Second, bc.Config().RequestTimeout)
	assert.Equal(t, time.Second, bc.Config().RetryDelay)
	assert.NotNil(t, bc.GetCircuitBreaker())
}

func TestNewBaseConnectorRejectsBadSettings(t *testing.T) {
	var s testSettings
	_, err := NewBaseConnector(&models.AdapterInstance{Settings: map[string]string{"retry_attempts": "many"}}, nil, &s)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestExecuteRetriesOnlyRetryable(t *testing.T) {
	bc, _ := newTestConnector(t, map[string]string{"retry_delay": "1ms", "retry_attempts": "3", "circuit_breaker": "false"})

	calls := 0
	err := bc.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New(errors.ErrorTypeConnectivity, "reset")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.IsRetryable(err))

	calls = 0
	err = bc.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New(errors.ErrorTypeValidation, "bad key")
	})
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	calls = 0
	err = bc.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New(errors.ErrorTypeTimeout, "slow")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryDelayIsCapped(t *testing.T) {
	b := &Backoff{Initial: time.Second, Max: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 3*time.Second, b.Delay(5))
}

func TestCloseRunsReleaseOnce(t *testing.T) {
	bc, _ := newTestConnector(t, nil)
	n := 0
	release := func() error { n++; return nil }
	require.NoError(t, bc.Close(release))
	require.NoError(t, bc.Close(release))
	assert.Equal(t, 1, n)
	assert.True(t, bc.Closed())
	assert.True(t, errors.IsType(bc.NotSupported("write"), errors.ErrorTypeNotSupported))
}
