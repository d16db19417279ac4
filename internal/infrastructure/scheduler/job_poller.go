package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
)

// JobProcessor claims and runs due sync jobs
type JobProcessor interface {
	ProcessDue(ctx context.Context, limit int) (*appintegration.BatchResult, error)
}

// JobPollerConfig holds job poller configuration
type JobPollerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
}

// DefaultJobPollerConfig returns default job poller configuration
func DefaultJobPollerConfig() JobPollerConfig {
	return JobPollerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
		Concurrency:  1,
	}
}

func (c JobPollerConfig) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	}
	return nil
}

// JobPoller drives the job queue: each worker claims a batch of due jobs on
// every tick and keeps draining while full batches come back.
type JobPoller struct {
	config    JobPollerConfig
	processor JobProcessor
	logger    *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewJobPoller creates a new job poller
func NewJobPoller(config JobPollerConfig, processor JobProcessor, log *zap.Logger) (*JobPoller, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &JobPoller{
		config:    config,
		processor: processor,
		logger:    log,
	}, nil
}

// Start starts the poller workers
func (p *JobPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("Job poller started",
		zap.Int("workers", p.config.Concurrency),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Duration("poll_interval", p.config.PollInterval),
	)
	return nil
}

// Stop stops the workers and waits for in-flight batches to finish
func (p *JobPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Job poller stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Job poller stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the poller is active
func (p *JobPoller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isRunning
}

func (p *JobPoller) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Job poller worker stopping", zap.Int("worker_id", workerID))
			return
		case <-ticker.C:
			p.drain(ctx, workerID)
		}
	}
}

// drain processes batches until the queue returns less than a full batch
func (p *JobPoller) drain(ctx context.Context, workerID int) {
	for ctx.Err() == nil {
		result, err := p.PollOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("Failed to process due jobs", zap.Int("worker_id", workerID), zap.Error(err))
			}
			return
		}
		if result.Claimed < p.config.BatchSize {
			return
		}
	}
}

// PollOnce claims and runs a single batch
func (p *JobPoller) PollOnce(ctx context.Context) (*appintegration.BatchResult, error) {
	var (
		result *appintegration.BatchResult
		err    error
	)
	ctx = logger.WithContext(ctx, p.logger)
	telemetry.WithProfilingLabels(ctx, telemetry.ComponentLabels("job_poller", "process_due"), func(ctx context.Context) {
		result, err = p.processor.ProcessDue(ctx, p.config.BatchSize)
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &appintegration.BatchResult{}
	}
	if result.Claimed > 0 {
		logger.L(ctx).Info("Processed due jobs",
			zap.Int("claimed", result.Claimed),
			zap.Int("completed", result.Completed),
			zap.Int("skipped", result.Skipped),
			zap.Int("retried", result.Retried),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}
