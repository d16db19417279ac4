// Package telemetry wires OpenTelemetry traces, metrics and logs, plus Pyroscope
// profiling, for the sync engine.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	ServiceVersion    string
	Insecure          bool

	MetricsEnabled        bool
	MetricsExportInterval time.Duration
	LogsEnabled           bool
}

// Providers owns the tracer, meter and logger providers of the process.
// Signals that are disabled fall back to the global no-op implementations.
type Providers struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
	logs   *sdklog.LoggerProvider

	logger *zap.Logger
	config Config

	mu           sync.Mutex
	spanProfiles bool
}

// Setup creates the providers enabled by cfg and installs them globally.
func Setup(ctx context.Context, cfg Config, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Providers{logger: logger, config: cfg}

	if !cfg.Enabled {
		logger.Info("Telemetry disabled, using no-op providers")
		return p, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	if err := p.setupTracing(ctx, res); err != nil {
		return nil, err
	}
	if cfg.MetricsEnabled {
		if err := p.setupMetrics(ctx, res); err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
	}
	if cfg.LogsEnabled {
		if err := p.setupLogs(ctx, res); err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
	}

	logger.Info("OpenTelemetry initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Float64("sampling_ratio", cfg.SamplingRatio),
		zap.String("service_name", cfg.ServiceName),
		zap.Bool("metrics", cfg.MetricsEnabled),
		zap.Bool("logs", cfg.LogsEnabled),
	)
	return p, nil
}

func newResource(cfg Config) (*resource.Resource, error) {
	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func (p *Providers) setupTracing(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.CollectorEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	p.tracer = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(p.config.SamplingRatio)),
	)
	otel.SetTracerProvider(p.tracer)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func (p *Providers) setupMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.CollectorEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	interval := p.config.MetricsExportInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	p.meter = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(p.meter)
	return nil
}

func (p *Providers) setupLogs(ctx context.Context, res *resource.Resource) error {
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(p.config.CollectorEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create OTLP logs exporter: %w", err)
	}

	p.logs = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	global.SetLoggerProvider(p.logs)
	return nil
}

// Tracer returns a named tracer.
func (p *Providers) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if p.tracer == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return p.tracer.Tracer(name, opts...)
}

// Meter returns a named meter.
func (p *Providers) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if p.meter == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return p.meter.Meter(name, opts...)
}

// TracingEnabled reports whether spans are exported.
func (p *Providers) TracingEnabled() bool { return p.tracer != nil }

// MetricsEnabled reports whether metrics are exported.
func (p *Providers) MetricsEnabled() bool { return p.meter != nil }

// LogsEnabled reports whether logs are exported.
func (p *Providers) LogsEnabled() bool { return p.logs != nil }

// ZapCore returns a zapcore.Core that forwards entries at or above level to the
// OpenTelemetry log pipeline. It is a no-op core when log export is disabled.
// Combine it with the stdout core through logger.New's extra cores.
func (p *Providers) ZapCore(level zapcore.Level) zapcore.Core {
	if p.logs == nil {
		return zapcore.NewNopCore()
	}
	core := otelzap.NewCore(p.config.ServiceName, otelzap.WithLoggerProvider(p.logs))
	return &levelFilterCore{Core: core, min: level}
}

// EnableSpanProfiles associates CPU profiles with trace spans. The Pyroscope
// profiler must already be running.
func (p *Providers) EnableSpanProfiles() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tracer == nil || p.spanProfiles {
		return
	}
	otel.SetTracerProvider(otelpyroscope.NewTracerProvider(p.tracer))
	p.spanProfiles = true
	p.logger.Info("Span profiles enabled")
}

// SpanProfilesEnabled reports whether EnableSpanProfiles took effect.
func (p *Providers) SpanProfilesEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spanProfiles
}

// Shutdown flushes and stops every active provider.
func (p *Providers) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if p.tracer != nil {
		if err := p.tracer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.meter != nil {
		if err := p.meter.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	if p.logs != nil {
		if err := p.logs.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("logger provider: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.Error("Error shutting down telemetry", zap.Error(err))
		return err
	}
	return nil
}

// levelFilterCore drops entries below min before they reach the wrapped core.
type levelFilterCore struct {
	zapcore.Core
	min zapcore.Level
}

func (c *levelFilterCore) Enabled(l zapcore.Level) bool {
	return l >= c.min && c.Core.Enabled(l)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), min: c.min}
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if e.Level < c.min {
		return ce
	}
	return c.Core.Check(e, ce)
}
