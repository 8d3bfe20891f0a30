// Package logger builds the process zap logger and carries the identifiers of
// the current tick, instance and interface through a context.
package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// contextKey is the type for context keys
type contextKey string

const (
	// TickIDKey is the context key for the scheduler or delivery tick
	TickIDKey contextKey = "tick_id"
	// SourceInstanceKey is the context key for the polled source instance
	SourceInstanceKey contextKey = "source_instance"
	// DestinationInstanceKey is the context key for the delivering destination instance
	DestinationInstanceKey contextKey = "destination_instance"
	// InterfaceKey is the context key for the interface name
	InterfaceKey contextKey = "interface"
)

var contextKeys = []contextKey{TickIDKey, SourceInstanceKey, DestinationInstanceKey, InterfaceKey}

// Config mirrors the logging section of the service configuration.
type Config struct {
	Level       string
	Development bool
	// Encoding is json or console
	Encoding    string
	OutputPaths []string
}

// New builds a logger from cfg. Empty fields select info level, JSON encoding
// and stdout.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	enc := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if cfg.Development {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	built, err := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         orDefault(cfg.Encoding, "json"),
		EncoderConfig:    enc,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	if cfg.Development {
		built = built.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return built, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// FromContext decorates base with the identifiers carried by ctx.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	var fields []zap.Field
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ContextWith returns a copy of ctx carrying value under key.
func ContextWith(ctx context.Context, key contextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}
