package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func contextWithValidSpan() context.Context {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		SpanID:     trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestWithContext(t *testing.T) {
	l := zap.NewExample()
	ctx := WithContext(context.Background(), l)

	assert.Same(t, l, FromContext(ctx))
}

func TestFromContext_NotFound(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}

func TestCorrelationValues(t *testing.T) {
	ctx := WithTenantID(context.Background(), "tenant-1")
	ctx = WithChannel(ctx, "shop")
	ctx = WithJobID(ctx, "job-9")

	assert.Equal(t, "tenant-1", GetTenantID(ctx))
	assert.Equal(t, "shop", GetChannel(ctx))
	assert.Equal(t, "job-9", GetJobID(ctx))

	empty := context.Background()
	assert.Empty(t, GetTenantID(empty))
	assert.Empty(t, GetChannel(empty))
	assert.Empty(t, GetJobID(empty))
}

func TestTraceIDs(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
	assert.Empty(t, GetSpanID(context.Background()))

	ctx := contextWithValidSpan()
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", GetTraceID(ctx))
	assert.Equal(t, "0102030405060708", GetSpanID(ctx))
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	ctx := WithJobID(WithTenantID(contextWithValidSpan(), "tenant-1"), "job-9")
	fields := ContextFields(ctx)

	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"trace_id", "span_id", "tenant_id", "job_id"}, keys)
}

func TestContextLogger_EnrichesEntries(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	ctx := WithContext(contextWithValidSpan(), zap.New(core))
	ctx = WithChannel(ctx, "warehouse")

	L(ctx).Info("stock drift detected", zap.String("sku", "SKU-1"))

	require.Equal(t, 1, recorded.Len())
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, "warehouse", fields["channel"])
	assert.Equal(t, "SKU-1", fields["sku"])
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", fields["trace_id"])
}

func TestContextLogger_LevelsAndWith(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	cl := WithLogger(WithJobID(context.Background(), "job-1"), zap.New(core)).
		With(zap.String("component", "executor"))

	cl.Debug("d")
	cl.Info("i")
	cl.Warn("w")
	cl.Error("e")

	require.Equal(t, 4, recorded.Len())
	for _, entry := range recorded.All() {
		assert.Equal(t, "executor", entry.ContextMap()["component"])
		assert.Equal(t, "job-1", entry.ContextMap()["job_id"])
	}
	assert.NotNil(t, cl.Zap())
}

func TestContextLogger_NilLogger(t *testing.T) {
	cl := WithLogger(context.Background(), nil)

	assert.NotPanics(t, func() {
		cl.Info("ignored")
		cl.With(zap.String("k", "v")).Warn("ignored")
	})
}
