package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), Config{Enabled: false, ServiceName: "syncengine"}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, p.TracingEnabled())
	assert.False(t, p.MetricsEnabled())
	assert.False(t, p.LogsEnabled())
	assert.NotNil(t, p.Tracer("test"))
	assert.NotNil(t, p.Meter("test"))

	core := p.ZapCore(zapcore.InfoLevel)
	assert.False(t, core.Enabled(zapcore.ErrorLevel))

	p.EnableSpanProfiles()
	assert.False(t, p.SpanProfilesEnabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSamplerFor(t *testing.T) {
	assert.Contains(t, samplerFor(1.0).Description(), "AlwaysOnSampler")
	assert.Contains(t, samplerFor(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased")
}

func TestLevelFilterCore(t *testing.T) {
	inner, recorded := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, min: zapcore.WarnLevel}

	assert.False(t, core.Enabled(zapcore.InfoLevel))
	assert.True(t, core.Enabled(zapcore.ErrorLevel))

	l := zap.New(core).With(zap.String("component", "poller"))
	l.Info("dropped")
	l.Warn("kept")

	require.Equal(t, 1, recorded.Len())
	assert.Equal(t, "kept", recorded.All()[0].Message)
	assert.Equal(t, "poller", recorded.All()[0].ContextMap()["component"])
}
