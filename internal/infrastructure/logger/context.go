package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	tenantKey  contextKey = "tenant_id"
	channelKey contextKey = "channel"
	jobKey     contextKey = "job_id"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, returns a no-op logger if not found
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.NewNop()
}

// WithTenantID tags the context with the tenant being processed.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// WithChannel tags the context with the channel code being processed.
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey, channel)
}

// WithJobID tags the context with the sync job being executed.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobKey, jobID)
}

// GetTenantID retrieves tenant ID from context
func GetTenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantKey).(string)
	return v
}

// GetChannel retrieves the channel code from context
func GetChannel(ctx context.Context) string {
	v, _ := ctx.Value(channelKey).(string)
	return v
}

// GetJobID retrieves the job ID from context
func GetJobID(ctx context.Context) string {
	v, _ := ctx.Value(jobKey).(string)
	return v
}

// GetTraceID extracts the trace ID from the context's span.
// Returns an empty string if no valid span exists.
func GetTraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}

// GetSpanID extracts the span ID from the context's span.
func GetSpanID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.SpanID().String()
}

// ContextFields returns the correlation fields carried by ctx:
// trace_id, span_id, tenant_id, channel and job_id, each only when present.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields = append(fields,
			zap.String("trace_id", spanCtx.TraceID().String()),
			zap.String("span_id", spanCtx.SpanID().String()),
		)
	}
	if v := GetTenantID(ctx); v != "" {
		fields = append(fields, zap.String("tenant_id", v))
	}
	if v := GetChannel(ctx); v != "" {
		fields = append(fields, zap.String("channel", v))
	}
	if v := GetJobID(ctx); v != "" {
		fields = append(fields, zap.String("job_id", v))
	}
	return fields
}

// ContextLogger injects the correlation fields of its context into every entry.
type ContextLogger struct {
	ctx    context.Context
	logger *zap.Logger
}

// L returns a ContextLogger backed by the logger stored in ctx.
// Usage: logger.L(ctx).Info("job completed", zap.Int("attempt", n))
func L(ctx context.Context) *ContextLogger {
	return &ContextLogger{ctx: ctx, logger: FromContext(ctx)}
}

// WithLogger returns a ContextLogger using the provided logger instead of
// the one stored in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) *ContextLogger {
	return &ContextLogger{ctx: ctx, logger: logger}
}

func (cl *ContextLogger) enriched() *zap.Logger {
	l := cl.logger
	if l == nil {
		l = zap.NewNop()
	}
	if fields := ContextFields(cl.ctx); len(fields) > 0 {
		l = l.With(fields...)
	}
	return l
}

// With creates a child ContextLogger with additional fields.
func (cl *ContextLogger) With(fields ...zap.Field) *ContextLogger {
	base := cl.logger
	if base == nil {
		base = zap.NewNop()
	}
	return &ContextLogger{ctx: cl.ctx, logger: base.With(fields...)}
}

// Debug logs a debug level message with context fields.
func (cl *ContextLogger) Debug(msg string, fields ...zap.Field) {
	cl.enriched().Debug(msg, fields...)
}

// Info logs an info level message with context fields.
func (cl *ContextLogger) Info(msg string, fields ...zap.Field) {
	cl.enriched().Info(msg, fields...)
}

// Warn logs a warning level message with context fields.
func (cl *ContextLogger) Warn(msg string, fields ...zap.Field) {
	cl.enriched().Warn(msg, fields...)
}

// Error logs an error level message with context fields.
func (cl *ContextLogger) Error(msg string, fields ...zap.Field) {
	cl.enriched().Error(msg, fields...)
}

// Zap returns the underlying zap.Logger enriched with the context fields.
func (cl *ContextLogger) Zap() *zap.Logger {
	return cl.enriched()
}
