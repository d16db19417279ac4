package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/infrastructure/telemetry"
)

// JobSweeper performs queue housekeeping
type JobSweeper interface {
	CleanupFinished(ctx context.Context, retention time.Duration) (int64, error)
	RequeueStale(ctx context.Context, staleAfter time.Duration) (requeued, failed int64, err error)
}

// MaintenanceConfig holds the maintenance sweep schedules
type MaintenanceConfig struct {
	// CleanupSchedule is a standard 5-field cron expression
	CleanupSchedule  string
	CleanupRetention time.Duration
	// RequeueSchedule is a standard 5-field cron expression
	RequeueSchedule string
	StaleAfter      time.Duration
	// SweepTimeout bounds a single sweep
	SweepTimeout time.Duration
}

// DefaultMaintenanceConfig returns default maintenance configuration
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		CleanupSchedule:  "0 3 * * *",
		CleanupRetention: 7 * 24 * time.Hour,
		RequeueSchedule:  "*/5 * * * *",
		StaleAfter:       15 * time.Minute,
		SweepTimeout:     5 * time.Minute,
	}
}

// ValidateCronSchedule checks a standard 5-field cron expression
func ValidateCronSchedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, expr, err)
	}
	return nil
}

// MaintenanceScheduler runs the cleanup and stale-claim sweeps on cron schedules
type MaintenanceScheduler struct {
	config  MaintenanceConfig
	sweeper JobSweeper
	logger  *zap.Logger

	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	isRunning bool
}

// NewMaintenanceScheduler validates the schedules and registers both sweeps
func NewMaintenanceScheduler(config MaintenanceConfig, sweeper JobSweeper, logger *zap.Logger) (*MaintenanceScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateCronSchedule(config.CleanupSchedule); err != nil {
		return nil, err
	}
	if err := ValidateCronSchedule(config.RequeueSchedule); err != nil {
		return nil, err
	}
	if config.CleanupRetention <= 0 || config.StaleAfter <= 0 {
		return nil, fmt.Errorf("%w: retention and stale threshold must be positive", ErrInvalidConfig)
	}
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = DefaultMaintenanceConfig().SweepTimeout
	}

	cronLogger := &zapCronLogger{logger: logger.Named("cron")}
	m := &MaintenanceScheduler{
		config:  config,
		sweeper: sweeper,
		logger:  logger,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}

	if _, err := m.cron.AddFunc(config.CleanupSchedule, func() { m.runSweep(m.Cleanup) }); err != nil {
		return nil, fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	if _, err := m.cron.AddFunc(config.RequeueSchedule, func() { m.runSweep(m.RequeueStale) }); err != nil {
		return nil, fmt.Errorf("failed to schedule requeue: %w", err)
	}
	return m, nil
}

// Start starts the cron scheduler
func (m *MaintenanceScheduler) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.cron.Start()
	m.isRunning = true

	m.logger.Info("Maintenance scheduler started",
		zap.String("cleanup_schedule", m.config.CleanupSchedule),
		zap.String("requeue_schedule", m.config.RequeueSchedule),
	)
	return nil
}

// Stop stops accepting new runs and waits for running sweeps to complete
func (m *MaintenanceScheduler) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	cancel := m.cancel
	m.mu.Unlock()

	cronCtx := m.cron.Stop()
	cancel()

	select {
	case <-cronCtx.Done():
		m.logger.Info("Maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRuns returns the next scheduled time of each sweep
func (m *MaintenanceScheduler) NextRuns() []time.Time {
	entries := m.cron.Entries()
	next := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		next = append(next, e.Next)
	}
	return next
}

// Cleanup deletes finished jobs older than the retention
func (m *MaintenanceScheduler) Cleanup(ctx context.Context) error {
	deleted, err := m.sweeper.CleanupFinished(ctx, m.config.CleanupRetention)
	if err != nil {
		return fmt.Errorf("cleanup finished jobs: %w", err)
	}
	m.logger.Info("Finished jobs cleaned up",
		zap.Int64("deleted", deleted),
		zap.Duration("retention", m.config.CleanupRetention),
	)
	return nil
}

// RequeueStale returns abandoned in-progress jobs to the queue
func (m *MaintenanceScheduler) RequeueStale(ctx context.Context) error {
	requeued, failed, err := m.sweeper.RequeueStale(ctx, m.config.StaleAfter)
	if err != nil {
		return fmt.Errorf("requeue stale jobs: %w", err)
	}
	if requeued > 0 || failed > 0 {
		m.logger.Warn("Stale jobs recovered",
			zap.Int64("requeued", requeued),
			zap.Int64("failed", failed),
			zap.Duration("stale_after", m.config.StaleAfter),
		)
	}
	return nil
}

func (m *MaintenanceScheduler) runSweep(sweep func(context.Context) error) {
	m.mu.Lock()
	parent := m.ctx
	m.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, m.config.SweepTimeout)
	defer cancel()

	telemetry.WithProfilingLabels(ctx, telemetry.ComponentLabels("maintenance", "sweep"), func(ctx context.Context) {
		if err := sweep(ctx); err != nil {
			m.logger.Error("Maintenance sweep failed", zap.Error(err))
		}
	})
}

// zapCronLogger adapts zap to cron.Logger
type zapCronLogger struct {
	logger *zap.Logger
}

func (l *zapCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l *zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
