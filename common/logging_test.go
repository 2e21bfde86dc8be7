package common_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/guarzo/authsession/common"
)

func TestZapLogger_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := common.NewZapLogger(zap.New(core)).With("component", "test")

	ctx := context.Background()
	logger.Debug(ctx, "debug msg", "k", 1)
	logger.Info(ctx, "info msg")
	logger.Warn(ctx, "warn msg")
	logger.Error(ctx, "error msg")

	require.Equal(t, 4, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "debug msg", entry.Message)
	assert.Equal(t, zapcore.DebugLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "test", fields["component"])
	assert.EqualValues(t, 1, fields["k"])
}

func TestZapLogger_TraceID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := common.NewZapLogger(zap.New(core))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	logger.Info(ctx, "inside span")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, span.SpanContext().TraceID().String(), logs.All()[0].ContextMap()["trace_id"])
}

func TestZapLogger_TraceIDLeavesCallerSliceAlone(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := common.NewZapLogger(zap.New(core))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	kv := make([]any, 2, 4)
	kv[0], kv[1] = "key", "value"
	spare := kv[:4]
	spare[2], spare[3] = "untouched", "yes"

	logger.Info(ctx, "inside span", kv...)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "value", logs.All()[0].ContextMap()["key"])
	assert.Equal(t, []any{"key", "value", "untouched", "yes"}, spare)
}

func TestNopLogger(t *testing.T) {
	logger := common.NopLogger()
	logger.Info(context.Background(), "ignored")
	assert.NotNil(t, logger.With("a", "b"))
}
