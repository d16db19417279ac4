package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func attrMap(attrs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		out[string(a.Key)] = a.Value.Emit()
	}
	return out
}

func TestStartServiceSpan(t *testing.T) {
	recorder := installSpanRecorder(t)

	ctx, span := StartServiceSpan(context.Background(), "job_executor", "process_due",
		WithAttribute(SpanAttrChannel, "shop"),
		WithSpanKind(trace.SpanKindConsumer),
	)
	assert.True(t, trace.SpanContextFromContext(ctx).IsValid())
	SetAttributes(span, SpanAttrJobID, "job-1", "attempt", 2, 42, "skipped-non-string-key")
	AddEvent(span, "claimed", "count", int64(3))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	s := ended[0]
	assert.Equal(t, "job_executor.process_due", s.Name())
	assert.Equal(t, trace.SpanKindConsumer, s.SpanKind())

	attrs := attrMap(s.Attributes())
	assert.Equal(t, "shop", attrs[SpanAttrChannel])
	assert.Equal(t, "job-1", attrs[SpanAttrJobID])
	assert.Equal(t, "2", attrs["attempt"])
	assert.Len(t, attrs, 3)

	require.Len(t, s.Events(), 1)
	assert.Equal(t, "claimed", s.Events()[0].Name)
}

func TestRecordError(t *testing.T) {
	recorder := installSpanRecorder(t)

	_, span := StartSpan(context.Background(), "propagate")
	RecordError(span, errors.New("channel unavailable"))
	RecordError(span, nil)
	span.End()

	s := recorder.Ended()[0]
	assert.Equal(t, codes.Error, s.Status().Code)
	assert.Equal(t, "channel unavailable", s.Status().Description)
}

func TestNilSpanHelpers(t *testing.T) {
	assert.NotPanics(t, func() {
		SetAttributes(nil, "k", "v")
		RecordError(nil, errors.New("x"))
		AddEvent(nil, "e")
	})
}

type stringer struct{}

func (stringer) String() string { return "stringer" }

func TestToAttribute(t *testing.T) {
	assert.Equal(t, attribute.StringValue("a"), toAttribute("k", "a").Value)
	assert.Equal(t, attribute.IntValue(3), toAttribute("k", 3).Value)
	assert.Equal(t, attribute.Int64Value(4), toAttribute("k", int64(4)).Value)
	assert.Equal(t, attribute.Float64Value(1.5), toAttribute("k", 1.5).Value)
	assert.Equal(t, attribute.BoolValue(true), toAttribute("k", true).Value)
	assert.Equal(t, attribute.StringSliceValue([]string{"a"}), toAttribute("k", []string{"a"}).Value)
	assert.Equal(t, attribute.StringValue("stringer"), toAttribute("k", stringer{}).Value)
	assert.Equal(t, attribute.StringValue("[1 2]"), toAttribute("k", []int{1, 2}).Value)
}
