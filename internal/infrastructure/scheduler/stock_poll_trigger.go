package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
)

// PollableChannelSource lists channels with stock polling enabled
type PollableChannelSource interface {
	FindPollable(ctx context.Context) ([]*integration.Channel, error)
}

// ChannelPoller reconciles the stock of one channel
type ChannelPoller interface {
	PollChannel(ctx context.Context, channel *integration.Channel) (*appintegration.PollResult, error)
}

// StockPollTriggerConfig holds configuration for the stock poll trigger
type StockPollTriggerConfig struct {
	// CheckInterval is how often channels are checked for a due poll
	CheckInterval time.Duration
}

// DefaultStockPollTriggerConfig returns default stock poll trigger configuration
func DefaultStockPollTriggerConfig() StockPollTriggerConfig {
	return StockPollTriggerConfig{CheckInterval: time.Minute}
}

// StockPollTrigger periodically polls the channels whose poll interval has elapsed
type StockPollTrigger struct {
	config   StockPollTriggerConfig
	channels PollableChannelSource
	poller   ChannelPoller
	logger   *zap.Logger
	now      func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	polling   sync.Mutex // serializes ticks and manual triggers
}

// NewStockPollTrigger creates a new stock poll trigger
func NewStockPollTrigger(
	config StockPollTriggerConfig,
	channels PollableChannelSource,
	poller ChannelPoller,
	log *zap.Logger,
) (*StockPollTrigger, error) {
	if config.CheckInterval <= 0 {
		return nil, fmt.Errorf("%w: check interval must be positive", ErrInvalidConfig)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StockPollTrigger{
		config:   config,
		channels: channels,
		poller:   poller,
		logger:   log,
		now:      time.Now,
	}, nil
}

// Start starts the trigger loop
func (t *StockPollTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Stock poll trigger started", zap.Duration("check_interval", t.config.CheckInterval))
	return nil
}

// Stop stops the trigger loop
func (t *StockPollTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Stock poll trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *StockPollTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.PollDue(ctx); err != nil && ctx.Err() == nil {
				t.logger.Error("Failed to poll due channels", zap.Error(err))
			}
		}
	}
}

// PollDue polls every channel whose poll is due and returns how many were polled.
// A failing channel is logged and does not stop the others.
func (t *StockPollTrigger) PollDue(ctx context.Context) (int, error) {
	t.polling.Lock()
	defer t.polling.Unlock()

	channels, err := t.channels.FindPollable(ctx)
	if err != nil {
		return 0, fmt.Errorf("find pollable channels: %w", err)
	}

	now := t.now()
	polled := 0
	for _, ch := range channels {
		if ctx.Err() != nil {
			return polled, ctx.Err()
		}
		if !ch.IsPollDue(now) {
			continue
		}
		polled++
		t.pollChannel(ctx, ch)
	}
	return polled, nil
}

func (t *StockPollTrigger) pollChannel(ctx context.Context, ch *integration.Channel) {
	ctx = logger.WithContext(ctx, t.logger)
	ctx = logger.WithTenantID(ctx, ch.TenantID.String())
	ctx = logger.WithChannel(ctx, ch.Code)

	labels := telemetry.ChannelLabels("stock_poll", ch.TenantID.String(), ch.Code)
	telemetry.WithProfilingLabels(ctx, labels, func(ctx context.Context) {
		result, err := t.poller.PollChannel(ctx, ch)
		if err != nil {
			logger.L(ctx).Error("Stock poll failed", zap.Error(err))
			return
		}
		if result == nil {
			return
		}
		logger.L(ctx).Debug("Stock poll finished",
			zap.Int("fetched", result.Fetched),
			zap.Int("updated", result.Updated),
			zap.Int("enqueued", result.Enqueued),
		)
	})
}
