package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContextAddsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := ContextWith(context.Background(), SourceInstanceKey, "src-1")
	ctx = ContextWith(ctx, TickIDKey, "tick-9")

	FromContext(ctx, base).Info("poll started")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "src-1", fields["source_instance"])
	assert.Equal(t, "tick-9", fields["tick_id"])
	assert.NotContains(t, fields, "destination_instance")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	l, err := New(Config{})
	require.NoError(t, err)
	assert.NotNil(t, l)
}
