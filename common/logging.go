package common

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Logger is the structured logger used across the module. Key/value pairs
// follow the msg, "key", value, ... convention.
type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
	With(kv ...any) Logger
}

type zapLogger struct {
	l *zap.SugaredLogger
}

// NewZapLogger adapts a *zap.Logger. A nil logger yields a no-op Logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapLogger{l: l.Sugar()}
}

// NopLogger discards everything.
func NopLogger() Logger {
	return NewZapLogger(nil)
}

func (z *zapLogger) Debug(ctx context.Context, msg string, kv ...any) {
	z.l.Debugw(msg, traceFields(ctx, kv)...)
}

func (z *zapLogger) Info(ctx context.Context, msg string, kv ...any) {
	z.l.Infow(msg, traceFields(ctx, kv)...)
}

func (z *zapLogger) Warn(ctx context.Context, msg string, kv ...any) {
	z.l.Warnw(msg, traceFields(ctx, kv)...)
}

func (z *zapLogger) Error(ctx context.Context, msg string, kv ...any) {
	z.l.Errorw(msg, traceFields(ctx, kv)...)
}

func (z *zapLogger) With(kv ...any) Logger {
	return &zapLogger{l: z.l.With(kv...)}
}

// traceFields appends the active trace id, if any.
func traceFields(ctx context.Context, kv []any) []any {
	if ctx == nil {
		return kv
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return kv
	}
	return append(kv[:len(kv):len(kv)], "trace_id", sc.TraceID().String())
}
