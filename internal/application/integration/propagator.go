package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PropagateOptions narrows a propagation
type PropagateOptions struct {
	// SkipTargets lists channels not to push to
	SkipTargets []uuid.UUID
	// OnlyTargets, when set, restricts the push to these channels
	OnlyTargets []uuid.UUID
	// FieldsToSync, when set, restricts the entity payload to these fields
	FieldsToSync []string
	// StockOnly pushes the inventory level without the entity payload
	StockOnly bool
}

func (o PropagateOptions) partial() bool {
	return len(o.FieldsToSync) > 0 || o.StockOnly
}

func (o PropagateOptions) includes(channelID uuid.UUID) bool {
	for _, id := range o.SkipTargets {
		if id == channelID {
			return false
		}
	}
	if len(o.OnlyTargets) == 0 {
		return true
	}
	for _, id := range o.OnlyTargets {
		if id == channelID {
			return true
		}
	}
	return false
}

func (o PropagateOptions) wantsStock(registry *integration.FieldOwnershipRegistry) bool {
	if o.StockOnly || len(o.FieldsToSync) == 0 {
		return true
	}
	for _, f := range o.FieldsToSync {
		if registry.IsStockField(f) {
			return true
		}
	}
	return false
}

// TargetResult is the outcome of pushing an entity to one channel
type TargetResult struct {
	ChannelID   uuid.UUID
	ChannelCode string
	ExternalID  string
	Success     bool
	Skipped     bool
	Created     bool
	Healed      bool
	Err         error
}

// PropagationResult is the outcome of one Propagate call
type PropagationResult struct {
	EntityID uuid.UUID
	Targets  []TargetResult
	// FirstError is the first target failure, if any
	FirstError error
}

// AllSucceeded reports whether no attempted target failed
func (r *PropagationResult) AllSucceeded() bool {
	for _, t := range r.Targets {
		if !t.Success && !t.Skipped {
			return false
		}
	}
	return true
}

// Failed returns the targets that failed
func (r *PropagationResult) Failed() []TargetResult {
	var failed []TargetResult
	for _, t := range r.Targets {
		if !t.Success && !t.Skipped {
			failed = append(failed, t)
		}
	}
	return failed
}

// PropagatorConfig holds tunables for outbound propagation
type PropagatorConfig struct {
	AdapterTimeout time.Duration
	LockTTL        time.Duration
}

// OutboundPropagator pushes the canonical state of an entity to its linked channels
type OutboundPropagator struct {
	entities integration.SyncEntityRepository
	links    integration.ExternalLinkRepository
	channels integration.ChannelRepository
	logs     integration.SyncLogRepository
	adapters integration.ChannelAdapterRegistry
	registry *integration.FieldOwnershipRegistry
	stock    *StockReconciler
	bundles  *BundleLinkResolver
	locker   shared.Locker
	metrics  *telemetry.SyncMetrics
	cfg      PropagatorConfig
	logger   *zap.Logger
	clock    Clock
}

// OutboundPropagatorDeps holds the collaborators of an OutboundPropagator
type OutboundPropagatorDeps struct {
	Repos    Repositories
	Adapters integration.ChannelAdapterRegistry
	Registry *integration.FieldOwnershipRegistry
	Stock    *StockReconciler
	Bundles  *BundleLinkResolver
	Locker   shared.Locker
	Metrics  *telemetry.SyncMetrics
	Logger   *zap.Logger
	Clock    Clock
}

// NewOutboundPropagator creates a new OutboundPropagator
func NewOutboundPropagator(deps OutboundPropagatorDeps, cfg PropagatorConfig) *OutboundPropagator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = integration.DefaultFieldOwnershipRegistry()
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = DefaultAdapterTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &OutboundPropagator{
		entities: deps.Repos.Entities,
		links:    deps.Repos.Links,
		channels: deps.Repos.Channels,
		logs:     deps.Repos.Logs,
		adapters: deps.Adapters,
		registry: deps.Registry,
		stock:    deps.Stock,
		bundles:  deps.Bundles,
		locker:   deps.Locker,
		metrics:  deps.Metrics,
		cfg:      cfg,
		logger:   deps.Logger,
		clock:    deps.Clock,
	}
}

// Propagate pushes the entity to every active link selected by opts. A failing
// target never stops the remaining ones. The returned error is the first target
// failure, or a load error when nothing could be attempted.
func (p *OutboundPropagator) Propagate(ctx context.Context, entityID uuid.UUID, trigger integration.Origin, opts PropagateOptions) (*PropagationResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "sync_propagator", "propagate")
	defer span.End()
	telemetry.SetAttributes(span, "entity_id", entityID.String(), "trigger_origin", trigger.String())

	started := time.Now()
	result := &PropagationResult{EntityID: entityID}

	entity, err := p.entities.FindByID(ctx, entityID)
	if err != nil {
		telemetry.RecordError(span, err)
		return result, fmt.Errorf("load entity: %w", err)
	}
	if !entity.Active {
		return result, integration.ErrEntityInactive
	}
	if entity.IsInConflict() {
		return result, integration.ErrEntityInConflict
	}

	links, err := p.links.FindActiveByEntity(ctx, entityID)
	if err != nil {
		telemetry.RecordError(span, err)
		return result, fmt.Errorf("load links: %w", err)
	}

	checksum := entity.CurrentChecksum()
	newRemote := false
	for _, link := range links {
		if !opts.includes(link.ChannelID) {
			continue
		}
		target := p.pushTarget(ctx, entity, link, checksum, opts)
		if target.Created || target.Healed {
			newRemote = true
		}
		if target.Err != nil && result.FirstError == nil {
			result.FirstError = target.Err
		}
		result.Targets = append(result.Targets, target)
	}

	p.refreshEntityStatus(ctx, entity, checksum, result)

	if newRemote && p.bundles != nil {
		if _, err := p.bundles.ResolvePendingFor(ctx, entity); err != nil {
			p.logger.Warn("Failed to resolve pending bundle links",
				zap.String("entity_id", entityID.String()),
				zap.Error(err),
			)
		}
	}

	p.appendLog(ctx, entity, trigger, opts, result)
	p.metrics.RecordPropagation(ctx, time.Since(started), result.AllSucceeded())

	if result.FirstError != nil {
		telemetry.RecordError(span, result.FirstError)
	}
	return result, result.FirstError
}

// pushTarget pushes the entity to one channel under the (entity, channel) lock
func (p *OutboundPropagator) pushTarget(ctx context.Context, entity *integration.SyncEntity, link *integration.ExternalLink, checksum string, opts PropagateOptions) TargetResult {
	target := TargetResult{ChannelID: link.ChannelID, ExternalID: link.ExternalID}

	channel, err := p.channels.FindByID(ctx, link.ChannelID)
	if err != nil {
		target.Err = fmt.Errorf("load channel %s: %w", link.ChannelID, err)
		return target
	}
	target.ChannelCode = channel.Code
	if !channel.Enabled {
		target.Skipped = true
		return target
	}

	release, err := acquireLock(ctx, p.locker, targetLockKey(entity.ID, channel.ID), p.cfg.LockTTL, 0)
	if err != nil {
		target.Err = err
		return target
	}
	defer release()

	err = p.push(ctx, entity, link, channel, checksum, opts, &target)
	now := p.clock.now()
	if err != nil {
		target.Err = err
		p.recordFailure(ctx, entity, link, channel, err, now)
		return target
	}

	target.Success = true
	target.ExternalID = link.ExternalID
	return target
}

// push performs the adapter calls for one target and records success on the link
func (p *OutboundPropagator) push(ctx context.Context, entity *integration.SyncEntity, link *integration.ExternalLink, channel *integration.Channel, checksum string, opts PropagateOptions, target *TargetResult) error {
	adapter, err := p.adapters.AdapterFor(channel)
	if err != nil {
		return err
	}

	upToDate := link.IsUpToDate(checksum)
	needsUpsert := !link.HasRemote() || (!opts.StockOnly && !(upToDate && len(opts.FieldsToSync) == 0))
	if !needsUpsert && !opts.StockOnly {
		target.Skipped = true
		return nil
	}

	externalID := link.ExternalID
	if needsUpsert {
		externalID, err = p.upsert(ctx, adapter, entity, link, channel, checksum, opts, target)
		if err != nil {
			return err
		}
	}

	if entity.Kind.SupportsStock() && channel.ReceivesStock() && opts.wantsStock(p.registry) && p.stock != nil {
		if level, ok := entity.StockLevel(); ok {
			if err := p.stock.PushAndVerify(ctx, adapter, channel, externalID, level); err != nil {
				// the upsert may have created the remote; keep its id for the retry
				if link.ExternalID != externalID {
					link.ExternalID = externalID
				}
				return err
			}
		}
	}

	syncedChecksum := link.LastSyncChecksum
	if needsUpsert && !opts.partial() {
		syncedChecksum = checksum
	}
	link.RecordSyncSuccess(externalID, syncedChecksum, p.clock.now())
	if err := p.links.Save(ctx, link); err != nil {
		return fmt.Errorf("save link: %w", err)
	}
	return nil
}

// upsert creates or updates the remote entity and returns its external id.
// A duplicate reported by the channel is healed by linking to the existing remote.
func (p *OutboundPropagator) upsert(ctx context.Context, adapter integration.ChannelAdapter, entity *integration.SyncEntity, link *integration.ExternalLink, channel *integration.Channel, checksum string, opts PropagateOptions, target *TargetResult) (string, error) {
	fields := entity.Fields.Except(p.registry.IsStockField)
	if len(opts.FieldsToSync) > 0 {
		fields = fields.Only(opts.FieldsToSync)
	}
	payload := integration.EntityPayload{
		EntityID:   entity.ID,
		TenantID:   entity.TenantID,
		Kind:       entity.Kind,
		SKU:        entity.SKU,
		ExternalID: link.ExternalID,
		Fields:     fields,
		Checksum:   checksum,
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.AdapterTimeout)
	externalID, err := adapter.UpsertEntity(callCtx, channel, payload)
	cancel()

	if err != nil {
		dup, ok := integration.AsDuplicateEntity(err)
		if !ok {
			return "", classifyAdapterError(err)
		}
		if err := p.checkUnclaimed(ctx, channel, entity, dup.ExternalID); err != nil {
			return "", err
		}
		p.logger.Info("Linked entity to existing remote duplicate",
			zap.String("entity_id", entity.ID.String()),
			zap.String("channel", channel.Code),
			zap.String("external_id", dup.ExternalID),
		)
		target.Healed = true
		return dup.ExternalID, nil
	}

	if externalID == "" {
		externalID = link.ExternalID
	}
	if externalID == "" {
		return "", fmt.Errorf("%w: upsert returned no external id", integration.ErrChannelInvalidResponse)
	}
	if payload.IsCreate() {
		target.Created = true
	}
	return externalID, nil
}

// checkUnclaimed refuses to heal onto an external id already linked to another entity
func (p *OutboundPropagator) checkUnclaimed(ctx context.Context, channel *integration.Channel, entity *integration.SyncEntity, externalID string) error {
	other, err := p.links.FindByChannelAndExternalID(ctx, channel.ID, externalID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if other.EntityID != entity.ID {
		return fmt.Errorf("%w: external id %s on %s already linked to entity %s",
			integration.ErrChannelRequestRejected, externalID, channel.Code, other.EntityID)
	}
	return nil
}

func (p *OutboundPropagator) recordFailure(ctx context.Context, entity *integration.SyncEntity, link *integration.ExternalLink, channel *integration.Channel, pushErr error, now time.Time) {
	p.metrics.RecordChannelError(ctx, channel.Code)
	p.logger.Warn("Push to channel failed",
		zap.String("entity_id", entity.ID.String()),
		zap.String("channel", channel.Code),
		zap.String("external_id", link.ExternalID),
		zap.Bool("retryable", integration.IsRetryable(pushErr)),
		zap.Error(pushErr),
	)

	link.RecordSyncFailure(pushErr.Error(), now)
	if err := p.links.Save(ctx, link); err != nil {
		p.logger.Error("Failed to record link failure", zap.String("link_id", link.ID.String()), zap.Error(err))
	}

	if integration.IsAuthError(pushErr) {
		channel.Disable(pushErr.Error(), now)
		if err := p.channels.Save(ctx, channel); err != nil {
			p.logger.Error("Failed to disable channel", zap.String("channel", channel.Code), zap.Error(err))
			return
		}
		p.logger.Warn("Channel disabled after authentication failure",
			zap.String("channel", channel.Code),
			zap.String("tenant_id", channel.TenantID.String()),
		)
	}
}

// refreshEntityStatus marks the entity SYNCED when every enabled link holds the
// current checksum, or ERROR when an attempted target failed. A concurrent content
// change wins: the status is only written while the checksum is unchanged.
func (p *OutboundPropagator) refreshEntityStatus(ctx context.Context, entity *integration.SyncEntity, checksum string, result *PropagationResult) {
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			fresh, err := p.entities.FindByID(ctx, entity.ID)
			if err != nil {
				p.logger.Warn("Failed to reload entity", zap.String("entity_id", entity.ID.String()), zap.Error(err))
				return
			}
			if fresh.CurrentChecksum() != checksum || fresh.IsInConflict() {
				return
			}
			entity = fresh
		}

		beforeStatus, beforeChecksum := entity.SyncStatus, entity.Checksum
		if !result.AllSucceeded() {
			entity.MarkError()
		} else if p.allLinksCurrent(ctx, entity.ID, checksum) {
			entity.MarkSynced()
		}
		if entity.SyncStatus == beforeStatus && entity.Checksum == beforeChecksum {
			return
		}

		err := p.entities.Update(ctx, entity)
		if err == nil {
			return
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			p.logger.Warn("Failed to update entity sync status", zap.String("entity_id", entity.ID.String()), zap.Error(err))
			return
		}
	}
}

func (p *OutboundPropagator) allLinksCurrent(ctx context.Context, entityID uuid.UUID, checksum string) bool {
	links, err := p.links.FindActiveByEntity(ctx, entityID)
	if err != nil {
		return false
	}
	for _, l := range links {
		if l.IsUpToDate(checksum) {
			continue
		}
		channel, err := p.channels.FindByID(ctx, l.ChannelID)
		if err == nil && !channel.Enabled {
			continue
		}
		return false
	}
	return true
}

func (p *OutboundPropagator) appendLog(ctx context.Context, entity *integration.SyncEntity, trigger integration.Origin, opts PropagateOptions, result *PropagationResult) {
	entry := integration.NewSyncLogEntry(entity.TenantID, entity.ID, integration.SyncActionPush, trigger, p.clock.now())
	if len(opts.FieldsToSync) > 0 {
		entry.ChangedFields = opts.FieldsToSync
	} else if opts.StockOnly {
		entry.ChangedFields = p.registry.FieldsOf(integration.FieldClassStock)
	} else {
		entry.ChangedFields = entity.Fields.Keys()
	}
	for _, t := range result.Targets {
		outcome := integration.TargetOutcome{
			ChannelID:  t.ChannelID,
			ExternalID: t.ExternalID,
			Success:    t.Success,
			Skipped:    t.Skipped,
			Healed:     t.Healed,
		}
		if t.Err != nil {
			outcome.Error = t.Err.Error()
		}
		entry.Targets = append(entry.Targets, outcome)
	}
	if len(result.Targets) == 1 {
		t := result.Targets[0]
		id := t.ChannelID
		entry.ChannelID = &id
		entry.Target = t.ChannelCode
		entry.ExternalID = t.ExternalID
	}
	entry.WithError(result.FirstError)

	if err := p.logs.Append(ctx, entry); err != nil {
		p.logger.Warn("Failed to append sync log", zap.String("entity_id", entity.ID.String()), zap.Error(err))
	}
}
