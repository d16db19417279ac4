package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// DefaultAdapterTimeout bounds every call to a channel adapter
const DefaultAdapterTimeout = 30 * time.Second

// PollResult summarises one stock poll of a channel
type PollResult struct {
	Fetched   int `json:"fetched"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Unmatched int `json:"unmatched"`
	Enqueued  int `json:"enqueued"`
}

// StockReconcilerConfig holds tunables for stock reconciliation
type StockReconcilerConfig struct {
	AdapterTimeout time.Duration
	LockTTL        time.Duration
	LockWait       time.Duration
}

// StockReconciler verifies inventory pushes and polls channels that cannot
// notify the hub of stock changes
type StockReconciler struct {
	entities integration.SyncEntityRepository
	links    integration.ExternalLinkReader
	channels integration.ChannelRepository
	logs     integration.SyncLogRepository
	adapters integration.ChannelAdapterRegistry
	queue    *SyncQueueService
	locker   shared.Locker
	metrics  *telemetry.SyncMetrics
	cfg      StockReconcilerConfig
	logger   *zap.Logger
	clock    Clock
}

// NewStockReconciler creates a new StockReconciler
func NewStockReconciler(
	repos Repositories,
	adapters integration.ChannelAdapterRegistry,
	queue *SyncQueueService,
	locker shared.Locker,
	metrics *telemetry.SyncMetrics,
	cfg StockReconcilerConfig,
	logger *zap.Logger,
	clock Clock,
) *StockReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = DefaultAdapterTimeout
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	return &StockReconciler{
		entities: repos.Entities,
		links:    repos.Links,
		channels: repos.Channels,
		logs:     repos.Logs,
		adapters: adapters,
		queue:    queue,
		locker:   locker,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		clock:    clock,
	}
}

// PushAndVerify sets the inventory level on the channel and reads it back.
// A read-back that differs from the pushed level fails the push so the job retries.
func (r *StockReconciler) PushAndVerify(ctx context.Context, adapter integration.ChannelAdapter, channel *integration.Channel, externalID string, level integration.StockLevel) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.AdapterTimeout)
	defer cancel()

	if err := adapter.SetInventoryLevel(ctx, channel, externalID, level); err != nil {
		return fmt.Errorf("set inventory level: %w", classifyAdapterError(err))
	}
	actual, err := adapter.GetInventoryLevel(ctx, channel, externalID)
	if err != nil {
		return fmt.Errorf("read back inventory level: %w", classifyAdapterError(err))
	}
	if !actual.Equal(level) {
		r.logger.Warn("Inventory read-back mismatch",
			zap.String("channel", channel.Code),
			zap.String("external_id", externalID),
			zap.String("pushed", level.String()),
			zap.String("actual", actual.String()),
		)
		return fmt.Errorf("%w: channel %s external id %s pushed %s, read %s",
			integration.ErrStockVerificationFailed, channel.Code, externalID, level, actual)
	}
	return nil
}

// PollChannel fetches stock levels changed since the channel's last poll and
// corrects drifted local levels. Corrections are fanned out to the other channels.
// Authentication failures switch polling off for the channel.
func (r *StockReconciler) PollChannel(ctx context.Context, channel *integration.Channel) (*PollResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "sync_stock", "poll_channel")
	defer span.End()
	telemetry.SetAttributes(span, "channel", channel.Code, "tenant_id", channel.TenantID.String())

	startedAt := r.clock.now()
	result := &PollResult{}

	adapter, err := r.adapters.AdapterFor(channel)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var since time.Time
	if channel.LastPolledAt != nil {
		since = *channel.LastPolledAt
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.AdapterTimeout)
	remotes, err := adapter.FetchEntitiesSince(fetchCtx, channel, since)
	cancel()
	if err != nil {
		err = classifyAdapterError(err)
		telemetry.RecordError(span, err)
		r.metrics.RecordChannelError(ctx, channel.Code)
		if integration.IsAuthError(err) {
			channel.DisablePolling(err.Error(), r.clock.now())
			if saveErr := r.channels.Save(ctx, channel); saveErr != nil {
				r.logger.Error("Failed to disable polling", zap.String("channel", channel.Code), zap.Error(saveErr))
			}
			r.logger.Warn("Polling disabled after authentication failure",
				zap.String("channel", channel.Code),
				zap.String("tenant_id", channel.TenantID.String()),
				zap.Error(err),
			)
		}
		return nil, fmt.Errorf("fetch entities from %s: %w", channel.Code, err)
	}

	canWriteStock := channel.Origin.CanWrite(integration.FieldClassStock)
	for _, remote := range remotes {
		result.Fetched++
		if remote.Stock == nil || !canWriteStock {
			continue
		}
		changed, matched, err := r.reconcile(ctx, channel, remote)
		if err != nil {
			return result, err
		}
		switch {
		case !matched:
			result.Unmatched++
		case changed == nil:
			result.Unchanged++
		default:
			result.Updated++
			r.metrics.RecordStockDrift(ctx, channel.Code)
			if r.queue != nil {
				jobs, err := r.queue.FanOut(ctx, changed, channel.Origin, integration.JobOperationPushStock, channel.ID)
				if err != nil {
					return result, fmt.Errorf("enqueue stock propagation: %w", err)
				}
				result.Enqueued += len(jobs)
			}
		}
	}

	channel.RecordPoll(startedAt)
	if err := r.channels.Save(ctx, channel); err != nil {
		return result, fmt.Errorf("record poll: %w", err)
	}

	r.logger.Info("Stock poll completed",
		zap.String("channel", channel.Code),
		zap.Int("fetched", result.Fetched),
		zap.Int("updated", result.Updated),
		zap.Int("unmatched", result.Unmatched),
		zap.Int("enqueued", result.Enqueued),
	)
	return result, nil
}

// reconcile applies a polled stock level to the linked entity. It returns the
// updated entity, or nil when the level already matched.
func (r *StockReconciler) reconcile(ctx context.Context, channel *integration.Channel, remote integration.RemoteEntity) (*integration.SyncEntity, bool, error) {
	link, err := r.links.FindByChannelAndExternalID(ctx, channel.ID, remote.ExternalID)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	release, err := acquireLock(ctx, r.locker, entityLockKey(link.EntityID), r.cfg.LockTTL, r.cfg.LockWait)
	if err != nil {
		return nil, true, err
	}
	defer release()

	for attempt := 0; attempt < 2; attempt++ {
		entity, err := r.entities.FindByID(ctx, link.EntityID)
		if err != nil {
			if isNotFound(err) {
				return nil, false, nil
			}
			return nil, true, err
		}
		if !entity.Kind.SupportsStock() || !entity.Active {
			return nil, true, nil
		}
		if local, ok := entity.StockLevel(); ok && local.Equal(*remote.Stock) {
			return nil, true, nil
		}

		now := r.clock.now()
		changed := entity.ApplyFields(remote.Stock.Fields(), channel.Origin, now)
		if len(changed) == 0 {
			return nil, true, nil
		}
		err = r.entities.Update(ctx, entity)
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			continue
		}
		if err != nil {
			return nil, true, fmt.Errorf("update entity stock: %w", err)
		}

		entry := integration.NewSyncLogEntry(entity.TenantID, entity.ID, integration.SyncActionStockUpdate, channel.Origin, now).
			WithChannel(channel, remote.ExternalID)
		entry.ChangedFields = changed
		if err := r.logs.Append(ctx, entry); err != nil {
			r.logger.Warn("Failed to append sync log", zap.Error(err))
		}
		return entity, true, nil
	}
	return nil, true, shared.ErrConcurrencyConflict
}

// classifyAdapterError maps a bare context deadline onto the retryable channel timeout
func classifyAdapterError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, integration.ErrChannelTimeout) {
		return fmt.Errorf("%w: %w", integration.ErrChannelTimeout, err)
	}
	return err
}
