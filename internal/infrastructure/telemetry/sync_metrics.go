// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// SyncMetrics tracks the health of the sync engine: queue throughput,
// conflicts, suppressed echoes and propagation latency.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	jobsClaimedTotal   *Counter
	jobOutcomesTotal   *Counter
	conflictsTotal     *Counter
	echoesTotal        *Counter
	stockDriftTotal    *Counter
	channelErrorsTotal *Counter

	// Histogram metrics
	propagationDuration *Histogram

	// Gauge metrics (point-in-time values)
	queueDepth *Gauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	queueProvider QueueDepthProvider
}

// QueueDepthProvider reports the number of jobs per status.
// It lets the telemetry layer sample the queue without depending on the domain.
type QueueDepthProvider interface {
	QueueDepth(ctx context.Context) (map[string]int64, error)
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter         metric.Meter
	Logger        *zap.Logger
	QueueProvider QueueDepthProvider
}

// NewSyncMetrics creates a new SyncMetrics instance.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{
		meter:         cfg.Meter,
		logger:        logger,
		stopChan:      make(chan struct{}),
		queueProvider: cfg.QueueProvider,
	}

	var err error
	counters := []struct {
		target **Counter
		name   string
		desc   string
		unit   string
	}{
		{&sm.jobsClaimedTotal, "sync_jobs_claimed_total", "Total number of sync jobs claimed by pollers", "{jobs}"},
		{&sm.jobOutcomesTotal, "sync_job_outcomes_total", "Total number of sync job executions by outcome", "{jobs}"},
		{&sm.conflictsTotal, "sync_conflicts_total", "Total number of field conflicts recorded", "{conflicts}"},
		{&sm.echoesTotal, "sync_echoes_suppressed_total", "Total number of inbound notifications suppressed as echoes", "{notifications}"},
		{&sm.stockDriftTotal, "sync_stock_drift_total", "Total number of stock levels corrected by polling", "{entities}"},
		{&sm.channelErrorsTotal, "sync_channel_errors_total", "Total number of failed channel calls", "{errors}"},
	}
	for _, c := range counters {
		*c.target, err = NewCounter(cfg.Meter, c.name, c.desc, c.unit)
		if err != nil {
			return nil, err
		}
	}

	sm.propagationDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "sync_propagation_duration_seconds",
		Description: "Duration of entity propagation to external channels",
		Unit:        "s",
		Boundaries:  []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	if err != nil {
		return nil, err
	}

	sm.queueDepth, err = NewGauge(cfg.Meter, "sync_queue_depth", "Current number of sync jobs by status", "{jobs}")
	if err != nil {
		return nil, err
	}

	return sm, nil
}

// =============================================================================
// Queue Metrics
// =============================================================================

// RecordJobsClaimed records a claimed batch.
func (sm *SyncMetrics) RecordJobsClaimed(ctx context.Context, count int) {
	if sm == nil || count == 0 {
		return
	}
	sm.jobsClaimedTotal.Add(ctx, int64(count))
}

// RecordJobOutcome records the result of one job execution.
func (sm *SyncMetrics) RecordJobOutcome(ctx context.Context, operation, outcome string) {
	if sm == nil {
		return
	}
	sm.jobOutcomesTotal.Inc(ctx,
		AttrSyncOperation.String(operation),
		AttrSyncOutcome.String(outcome),
	)
}

// RecordQueueDepth records the number of jobs in a status.
func (sm *SyncMetrics) RecordQueueDepth(ctx context.Context, status string, depth int64) {
	if sm == nil {
		return
	}
	sm.queueDepth.Record(ctx, depth, AttrSyncStatus.String(status))
}

// =============================================================================
// Conflict and Echo Metrics
// =============================================================================

// RecordConflict records one field conflict.
func (sm *SyncMetrics) RecordConflict(ctx context.Context, origin, resolution string) {
	if sm == nil {
		return
	}
	sm.conflictsTotal.Inc(ctx,
		AttrSyncOrigin.String(origin),
		AttrSyncResolution.String(resolution),
	)
}

// RecordEchoSuppressed records an inbound notification dropped as an echo.
func (sm *SyncMetrics) RecordEchoSuppressed(ctx context.Context, origin string) {
	if sm == nil {
		return
	}
	sm.echoesTotal.Inc(ctx, AttrSyncOrigin.String(origin))
}

// =============================================================================
// Channel Metrics
// =============================================================================

// RecordPropagation records the duration and result of a propagate call.
func (sm *SyncMetrics) RecordPropagation(ctx context.Context, d time.Duration, success bool) {
	if sm == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	sm.propagationDuration.RecordDuration(ctx, d, AttrSyncOutcome.String(outcome))
}

// RecordChannelError records a failed call to a channel.
func (sm *SyncMetrics) RecordChannelError(ctx context.Context, channelCode string) {
	if sm == nil {
		return
	}
	sm.channelErrorsTotal.Inc(ctx, AttrSyncChannel.String(channelCode))
}

// RecordStockDrift records a stock level corrected by polling.
func (sm *SyncMetrics) RecordStockDrift(ctx context.Context, channelCode string) {
	if sm == nil {
		return
	}
	sm.stockDriftTotal.Inc(ctx, AttrSyncChannel.String(channelCode))
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartPeriodicCollection samples queue depth every interval (default: 1 minute).
// This is non-blocking - use Stop() to stop collection.
func (sm *SyncMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	if sm == nil {
		return
	}
	sm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = time.Minute
		}

		go sm.runPeriodicCollection(ctx, interval)
	})
}

func (sm *SyncMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sm.collectQueueDepth(ctx)

	for {
		select {
		case <-sm.stopChan:
			sm.logger.Info("Stopping periodic sync metrics collection")
			return
		case <-ctx.Done():
			sm.logger.Info("Context cancelled, stopping periodic sync metrics collection")
			return
		case <-ticker.C:
			sm.collectQueueDepth(ctx)
		}
	}
}

func (sm *SyncMetrics) collectQueueDepth(ctx context.Context) {
	if sm.queueProvider == nil {
		sm.logger.Debug("No queue provider configured, skipping queue depth collection")
		return
	}

	depth, err := sm.queueProvider.QueueDepth(ctx)
	if err != nil {
		sm.logger.Warn("Failed to sample sync queue depth", zap.Error(err))
		return
	}
	for status, n := range depth {
		sm.RecordQueueDepth(ctx, status, n)
	}
}

// Stop stops the periodic collection.
func (sm *SyncMetrics) Stop() {
	if sm == nil {
		return
	}
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// =============================================================================
// Attribute Key Constants
// =============================================================================

// Sync attribute keys
var (
	AttrSyncOperation  = attribute.Key("sync.operation")
	AttrSyncOutcome    = attribute.Key("sync.outcome")
	AttrSyncStatus     = attribute.Key("sync.status")
	AttrSyncOrigin     = attribute.Key("sync.origin")
	AttrSyncResolution = attribute.Key("sync.resolution")
	AttrSyncChannel    = attribute.Key("sync.channel")
)
