package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesOrigin(t *testing.T) {
	inner := New(ErrorTypeConnectivity, "dial failed")
	outer := Wrap(inner, ErrorTypeDeliveryFailed, "write failed")

	require.NotNil(t, outer)
	assert.Contains(t, inner.Origin, "errors_test.go")
	assert.Equal(t, inner.Origin, outer.Origin)
	assert.True(t, IsType(outer, ErrorTypeDeliveryFailed))
	assert.True(t, IsType(outer, ErrorTypeConnectivity))
	assert.False(t, IsType(outer, ErrorTypeTimeout))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "nothing"))
}

func TestIsTypeThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("poll: %w", New(ErrorTypeMalformedPayload, "bad row"))
	assert.True(t, IsType(err, ErrorTypeMalformedPayload))
	assert.False(t, IsType(io.EOF, ErrorTypeMalformedPayload))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    bool
	}{
		{ErrorTypeConnectivity, true},
		{ErrorTypeTimeout, true},
		{ErrorTypeDeliveryFailed, true},
		{ErrorTypeMalformedPayload, false},
		{ErrorTypeNotSupported, false},
		{ErrorTypeConfig, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(New(tt.errType, "x")))
		})
	}
	assert.False(t, IsRetryable(io.EOF))
}

func TestNotSupported(t *testing.T) {
	err := NotSupported("erp-idoc", "read")
	assert.Equal(t, "not_supported: erp-idoc does not support read", err.Error())
	assert.Equal(t, "read", err.Details["operation"])
}

func TestTypeOf(t *testing.T) {
	err := fmt.Errorf("deliver: %w", Wrap(io.ErrClosedPipe, ErrorTypeDeliveryFailed, "write failed"))
	assert.Equal(t, ErrorTypeDeliveryFailed, TypeOf(err))
	assert.Equal(t, ErrorTypeInternal, TypeOf(io.EOF))
}
