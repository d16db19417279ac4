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

// InboundConfig holds tunables for inbound change processing
type InboundConfig struct {
	LockTTL     time.Duration
	LockWait    time.Duration
	Idempotency shared.IdempotencyConfig
}

// InboundChangeService is the entry point for changes coming from external systems
// and from the hub itself. Accepted changes are persisted and fanned out as jobs.
type InboundChangeService struct {
	entities    integration.SyncEntityRepository
	links       integration.ExternalLinkRepository
	channels    integration.ChannelRepository
	logs        integration.SyncLogRepository
	resolver    *ConflictResolver
	echo        *EchoDetector
	queue       *SyncQueueService
	bundles     *BundleLinkResolver
	idempotency shared.IdempotencyStore
	locker      shared.Locker
	metrics     *telemetry.SyncMetrics
	cfg         InboundConfig
	logger      *zap.Logger
	clock       Clock
}

// InboundChangeServiceDeps holds the collaborators of an InboundChangeService
type InboundChangeServiceDeps struct {
	Repos       Repositories
	Resolver    *ConflictResolver
	Echo        *EchoDetector
	Queue       *SyncQueueService
	Bundles     *BundleLinkResolver
	Idempotency shared.IdempotencyStore
	Locker      shared.Locker
	Metrics     *telemetry.SyncMetrics
	Logger      *zap.Logger
	Clock       Clock
}

// NewInboundChangeService creates a new InboundChangeService
func NewInboundChangeService(deps InboundChangeServiceDeps, cfg InboundConfig) *InboundChangeService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Resolver == nil {
		deps.Resolver = NewConflictResolver(nil, DefaultConflictWindow)
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	if cfg.Idempotency.TTL <= 0 {
		cfg.Idempotency = shared.DefaultIdempotencyConfig()
	}
	return &InboundChangeService{
		entities:    deps.Repos.Entities,
		links:       deps.Repos.Links,
		channels:    deps.Repos.Channels,
		logs:        deps.Repos.Logs,
		resolver:    deps.Resolver,
		echo:        deps.Echo,
		queue:       deps.Queue,
		bundles:     deps.Bundles,
		idempotency: deps.Idempotency,
		locker:      deps.Locker,
		metrics:     deps.Metrics,
		cfg:         cfg,
		logger:      deps.Logger,
		clock:       deps.Clock,
	}
}

// ---------------------------------------------------------------------------
// External changes
// ---------------------------------------------------------------------------

// ProcessIncomingChange applies a change notification from a commerce or
// fulfillment channel. Calls repeating a WebhookEventID are acknowledged without effect.
func (s *InboundChangeService) ProcessIncomingChange(ctx context.Context, change IncomingChange) (*IncomingChangeResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "sync_inbound", "process_incoming_change")
	defer span.End()

	if err := validateStruct(change); err != nil {
		return nil, err
	}
	origin, err := integration.ParseOrigin(string(change.Origin))
	if err != nil {
		return nil, err
	}
	telemetry.SetAttributes(span,
		"origin", origin.String(),
		"tenant_id", change.TenantID.String(),
		"channel_id", change.ChannelID.String(),
		"external_id", change.ExternalID,
	)

	channel, err := s.channels.FindByID(ctx, change.ChannelID)
	if err != nil {
		if isNotFound(err) {
			return nil, integration.ErrInvalidChannelID
		}
		return nil, fmt.Errorf("load channel: %w", err)
	}
	if channel.TenantID != change.TenantID {
		return nil, integration.ErrInvalidChannelID
	}
	if channel.Origin != origin {
		return nil, fmt.Errorf("%w: channel %s is %s, change claims %s", integration.ErrOriginChannelMismatch, channel.Code, channel.Origin, origin)
	}
	if !channel.Enabled {
		return nil, integration.ErrChannelDisabled
	}

	// the event key is claimed before any work so concurrent redeliveries see a duplicate
	eventKey := webhookKey(channel.ID, change.WebhookEventID)
	claimed := false
	if eventKey != "" && s.idempotencyEnabled() {
		isNew, err := s.idempotency.MarkProcessed(ctx, eventKey, s.cfg.Idempotency.TTL)
		switch {
		case err != nil:
			s.logger.Warn("Failed to claim webhook event, processing anyway",
				zap.String("webhook_event_id", change.WebhookEventID),
				zap.Error(err),
			)
		case !isNew:
			s.logger.Debug("Duplicate webhook event skipped", zap.String("webhook_event_id", change.WebhookEventID))
			return &IncomingChangeResult{Duplicate: true}, nil
		default:
			claimed = true
		}
	}

	now := s.clock.now()
	if s.echo != nil {
		verdict, err := s.echo.IsEcho(ctx, origin, channel.ID, change.ExternalID, now)
		if err != nil {
			telemetry.RecordError(span, err)
			if claimed {
				s.forgetEvent(ctx, eventKey)
			}
			return nil, fmt.Errorf("echo check: %w", err)
		}
		if verdict.Echo {
			s.recordEcho(ctx, change, channel, verdict, now)
			return &IncomingChangeResult{
				EntityID:       verdict.EntityID,
				Suppressed:     true,
				SuppressReason: verdict.Reason,
			}, nil
		}
	}

	result, err := s.applyIncoming(ctx, change, channel, origin)
	if err != nil {
		telemetry.RecordError(span, err)
		if claimed {
			s.forgetEvent(ctx, eventKey)
		}
		return nil, err
	}
	return result, nil
}

func (s *InboundChangeService) applyIncoming(ctx context.Context, change IncomingChange, channel *integration.Channel, origin integration.Origin) (*IncomingChangeResult, error) {
	link, entityID, err := s.locate(ctx, change, channel)
	if err != nil {
		return nil, err
	}

	if entityID == uuid.Nil {
		return s.createFromIncoming(ctx, change, channel, origin)
	}

	release, err := acquireLock(ctx, s.locker, entityLockKey(entityID), s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 0; attempt < 2; attempt++ {
		entity, err := s.entities.FindByID(ctx, entityID)
		if err != nil {
			return nil, fmt.Errorf("load entity: %w", err)
		}

		now := s.clock.now()
		res := s.resolver.Resolve(entity, change.Fields, origin, now)
		s.recordConflictMetrics(ctx, res.Conflicts)

		if res.Refused {
			entity.MarkConflict(change.Fields, origin, now)
			err = s.entities.Update(ctx, entity)
			if errors.Is(err, shared.ErrConcurrencyConflict) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("mark entity conflict: %w", err)
			}
			s.appendLog(ctx, entity, integration.SyncActionConflict, origin, channel, change.ExternalID, nil, res.Conflicts)
			s.logger.Warn("Incoming change refused for manual review",
				zap.String("entity_id", entity.ID.String()),
				zap.String("channel", channel.Code),
			)
			return &IncomingChangeResult{EntityID: entity.ID, Conflicts: res.Conflicts}, nil
		}

		changed := entity.ApplyFields(res.Apply, origin, now)
		if len(changed) > 0 {
			err = s.entities.Update(ctx, entity)
			if errors.Is(err, shared.ErrConcurrencyConflict) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("update entity: %w", err)
			}
		}

		if link != nil {
			checksum := link.LastSyncChecksum
			if !res.HasRejections() {
				checksum = entity.CurrentChecksum()
			}
			link.RecordSyncSuccess(change.ExternalID, checksum, now)
			if err := s.links.Save(ctx, link); err != nil {
				return nil, fmt.Errorf("save link: %w", err)
			}
		}

		s.appendLog(ctx, entity, integration.SyncActionPull, origin, channel, change.ExternalID, changed, res.Conflicts)

		result := &IncomingChangeResult{
			Accepted:      true,
			EntityID:      entity.ID,
			ChangedFields: changed,
			Conflicts:     res.Conflicts,
		}
		if err := s.afterWrite(ctx, entity, channel, change.Components, changed, false); err != nil {
			return result, err
		}
		jobs, err := s.fanOut(ctx, entity, origin, channel.ID, len(changed) > 0, res.HasRejections())
		result.JobsEnqueued = jobs
		return result, err
	}
	return nil, shared.ErrConcurrencyConflict
}

// locate finds the entity an incoming change refers to. A SKU match without a
// link on the channel gets one, which heals linkage for entities created elsewhere.
func (s *InboundChangeService) locate(ctx context.Context, change IncomingChange, channel *integration.Channel) (*integration.ExternalLink, uuid.UUID, error) {
	link, err := s.links.FindByChannelAndExternalID(ctx, channel.ID, change.ExternalID)
	if err == nil {
		return link, link.EntityID, nil
	}
	if !isNotFound(err) {
		return nil, uuid.Nil, fmt.Errorf("find link: %w", err)
	}

	sku := change.Fields.String(integration.FieldSKU)
	if sku == "" {
		return nil, uuid.Nil, nil
	}
	entity, err := s.entities.FindBySKU(ctx, change.TenantID, sku)
	if err != nil {
		if isNotFound(err) {
			return nil, uuid.Nil, nil
		}
		return nil, uuid.Nil, fmt.Errorf("find entity by sku: %w", err)
	}

	link, err = s.links.FindByEntityAndChannel(ctx, entity.ID, channel.ID)
	switch {
	case err == nil:
		if link.HasRemote() && link.ExternalID != change.ExternalID {
			return nil, uuid.Nil, fmt.Errorf("%w: sku %s is linked to %s on %s", integration.ErrInvalidExternalID, sku, link.ExternalID, channel.Code)
		}
		link.ExternalID = change.ExternalID
	case isNotFound(err):
		link, err = integration.NewExternalLink(entity.TenantID, entity.ID, channel.ID, change.ExternalID, s.clock.now())
		if err != nil {
			return nil, uuid.Nil, err
		}
	default:
		return nil, uuid.Nil, fmt.Errorf("find link: %w", err)
	}
	s.logger.Info("Linked incoming external id to existing entity by SKU",
		zap.String("entity_id", entity.ID.String()),
		zap.String("channel", channel.Code),
		zap.String("external_id", change.ExternalID),
	)
	return link, entity.ID, nil
}

func (s *InboundChangeService) createFromIncoming(ctx context.Context, change IncomingChange, channel *integration.Channel, origin integration.Origin) (*IncomingChangeResult, error) {
	now := s.clock.now()
	res := s.resolver.Resolve(nil, change.Fields, origin, now)
	s.recordConflictMetrics(ctx, res.Conflicts)

	kind := change.Kind
	if kind == "" {
		kind = integration.EntityKindProduct
	}
	entity, err := integration.NewSyncEntity(change.TenantID, kind, res.Apply, origin, now)
	if err != nil {
		return nil, err
	}
	if err := s.entities.Create(ctx, entity); err != nil {
		return nil, fmt.Errorf("create entity: %w", err)
	}

	link, err := integration.NewExternalLink(entity.TenantID, entity.ID, channel.ID, change.ExternalID, now)
	if err != nil {
		return nil, err
	}
	checksum := ""
	if !res.HasRejections() {
		checksum = entity.CurrentChecksum()
	}
	link.RecordSyncSuccess(change.ExternalID, checksum, now)
	if err := s.links.Save(ctx, link); err != nil {
		return nil, fmt.Errorf("save link: %w", err)
	}

	changed := entity.Fields.Keys()
	s.appendLog(ctx, entity, integration.SyncActionPull, origin, channel, change.ExternalID, changed, res.Conflicts)
	s.logger.Info("Entity created from incoming change",
		zap.String("entity_id", entity.ID.String()),
		zap.String("kind", string(entity.Kind)),
		zap.String("channel", channel.Code),
	)

	result := &IncomingChangeResult{
		Accepted:      true,
		EntityID:      entity.ID,
		Created:       true,
		ChangedFields: changed,
		Conflicts:     res.Conflicts,
	}
	if err := s.afterWrite(ctx, entity, channel, change.Components, changed, true); err != nil {
		return result, err
	}
	jobs, err := s.fanOut(ctx, entity, origin, channel.ID, true, res.HasRejections())
	result.JobsEnqueued = jobs
	return result, err
}

// ---------------------------------------------------------------------------
// Local changes
// ---------------------------------------------------------------------------

// ProcessLocalChange applies a write made on the hub and propagates it to every
// linked channel
func (s *InboundChangeService) ProcessLocalChange(ctx context.Context, change LocalChange) (*IncomingChangeResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "sync_inbound", "process_local_change")
	defer span.End()

	if err := validateStruct(change); err != nil {
		return nil, err
	}
	origin := integration.OriginOperations

	if change.EntityID == nil {
		return s.createLocal(ctx, change)
	}

	release, err := acquireLock(ctx, s.locker, entityLockKey(*change.EntityID), s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 0; attempt < 2; attempt++ {
		entity, err := s.entities.FindByID(ctx, *change.EntityID)
		if err != nil {
			return nil, fmt.Errorf("load entity: %w", err)
		}
		if entity.TenantID != change.TenantID {
			return nil, shared.ErrNotFound
		}

		now := s.clock.now()
		res := s.resolver.Resolve(entity, change.Fields, origin, now)
		s.recordConflictMetrics(ctx, res.Conflicts)
		if res.Refused {
			entity.MarkConflict(change.Fields, origin, now)
			if err := s.entities.Update(ctx, entity); err != nil {
				if errors.Is(err, shared.ErrConcurrencyConflict) {
					continue
				}
				return nil, fmt.Errorf("mark entity conflict: %w", err)
			}
			s.appendLog(ctx, entity, integration.SyncActionConflict, origin, nil, "", nil, res.Conflicts)
			return &IncomingChangeResult{EntityID: entity.ID, Conflicts: res.Conflicts}, nil
		}

		changed := entity.ApplyFields(res.Apply, origin, now)
		if len(changed) > 0 {
			err = s.entities.Update(ctx, entity)
			if errors.Is(err, shared.ErrConcurrencyConflict) {
				continue
			}
			if err != nil {
				telemetry.RecordError(span, err)
				return nil, fmt.Errorf("update entity: %w", err)
			}
		}
		s.appendLog(ctx, entity, integration.SyncActionLocalWrite, origin, nil, "", changed, res.Conflicts)

		result := &IncomingChangeResult{
			Accepted:      true,
			EntityID:      entity.ID,
			ChangedFields: changed,
			Conflicts:     res.Conflicts,
		}
		if err := s.afterWrite(ctx, entity, nil, change.Components, changed, false); err != nil {
			return result, err
		}
		jobs, err := s.fanOut(ctx, entity, origin, uuid.Nil, len(changed) > 0, false)
		result.JobsEnqueued = jobs
		return result, err
	}
	return nil, shared.ErrConcurrencyConflict
}

func (s *InboundChangeService) createLocal(ctx context.Context, change LocalChange) (*IncomingChangeResult, error) {
	origin := integration.OriginOperations
	now := s.clock.now()
	res := s.resolver.Resolve(nil, change.Fields, origin, now)
	s.recordConflictMetrics(ctx, res.Conflicts)

	kind := change.Kind
	if kind == "" {
		kind = integration.EntityKindProduct
	}
	entity, err := integration.NewSyncEntity(change.TenantID, kind, res.Apply, origin, now)
	if err != nil {
		return nil, err
	}
	if err := s.entities.Create(ctx, entity); err != nil {
		return nil, fmt.Errorf("create entity: %w", err)
	}

	changed := entity.Fields.Keys()
	s.appendLog(ctx, entity, integration.SyncActionLocalWrite, origin, nil, "", changed, res.Conflicts)

	result := &IncomingChangeResult{
		Accepted:      true,
		EntityID:      entity.ID,
		Created:       true,
		ChangedFields: changed,
		Conflicts:     res.Conflicts,
	}
	if err := s.afterWrite(ctx, entity, nil, change.Components, changed, true); err != nil {
		return result, err
	}
	jobs, err := s.fanOut(ctx, entity, origin, uuid.Nil, true, false)
	result.JobsEnqueued = jobs
	return result, err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// afterWrite links new entities to every enabled channel of the tenant and keeps
// bundle composition current
func (s *InboundChangeService) afterWrite(ctx context.Context, entity *integration.SyncEntity, channel *integration.Channel, components []integration.BundleComponent, changed []string, created bool) error {
	if created {
		if err := s.ensureLinks(ctx, entity); err != nil {
			return err
		}
	}
	if s.bundles == nil {
		return nil
	}

	if len(components) > 0 {
		var channelID *uuid.UUID
		if channel != nil {
			id := channel.ID
			channelID = &id
		}
		if _, err := s.bundles.ApplyComposition(ctx, entity, channelID, components); err != nil {
			if !integration.IsValidationError(err) {
				return fmt.Errorf("apply bundle composition: %w", err)
			}
			s.logger.Warn("Bundle composition rejected", zap.String("entity_id", entity.ID.String()), zap.Error(err))
		}
	}

	if created || channel != nil || containsField(changed, integration.FieldSKU) {
		if _, err := s.bundles.ResolvePendingFor(ctx, entity); err != nil {
			return fmt.Errorf("resolve pending bundle links: %w", err)
		}
	}
	return nil
}

// ensureLinks creates a link without remote identity for every enabled channel
// the entity is not linked to yet
func (s *InboundChangeService) ensureLinks(ctx context.Context, entity *integration.SyncEntity) error {
	channels, err := s.channels.FindEnabledByTenant(ctx, entity.TenantID)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	for _, ch := range channels {
		_, err := s.links.FindByEntityAndChannel(ctx, entity.ID, ch.ID)
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return fmt.Errorf("find link: %w", err)
		}
		link, err := integration.NewExternalLink(entity.TenantID, entity.ID, ch.ID, "", s.clock.now())
		if err != nil {
			return err
		}
		if err := s.links.Save(ctx, link); err != nil && !errors.Is(err, shared.ErrAlreadyExists) {
			return fmt.Errorf("save link: %w", err)
		}
	}
	return nil
}

// fanOut enqueues push jobs. The source channel is skipped unless some of its
// values were rejected, in which case it is pushed back the authoritative state.
func (s *InboundChangeService) fanOut(ctx context.Context, entity *integration.SyncEntity, origin integration.Origin, source uuid.UUID, changed, rejected bool) (int, error) {
	if s.queue == nil || (!changed && !rejected) || entity.IsInConflict() {
		return 0, nil
	}
	var skip []uuid.UUID
	if source != uuid.Nil && !rejected {
		skip = append(skip, source)
	}
	jobs, err := s.queue.FanOut(ctx, entity, origin, integration.JobOperationPushChannel, skip...)
	if err != nil {
		return len(jobs), fmt.Errorf("enqueue propagation: %w", err)
	}
	return len(jobs), nil
}

func (s *InboundChangeService) recordEcho(ctx context.Context, change IncomingChange, channel *integration.Channel, verdict EchoVerdict, now time.Time) {
	s.metrics.RecordEchoSuppressed(ctx, change.Origin.String())
	s.logger.Debug("Echo suppressed",
		zap.String("entity_id", verdict.EntityID.String()),
		zap.String("channel", channel.Code),
		zap.String("external_id", change.ExternalID),
		zap.String("reason", verdict.Reason),
	)
	entry := integration.NewSyncLogEntry(change.TenantID, verdict.EntityID, integration.SyncActionEchoSuppressed, change.Origin, now).
		WithChannel(channel, change.ExternalID)
	entry.ChangedFields = change.Fields.Keys()
	entry.ErrorMessage = verdict.Reason
	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.Warn("Failed to append sync log", zap.Error(err))
	}
}

func (s *InboundChangeService) appendLog(ctx context.Context, entity *integration.SyncEntity, action integration.SyncAction, origin integration.Origin, channel *integration.Channel, externalID string, changed []string, conflicts []integration.FieldConflict) {
	entry := integration.NewSyncLogEntry(entity.TenantID, entity.ID, action, origin, s.clock.now()).
		WithChannel(channel, externalID)
	entry.ChangedFields = changed
	entry.Conflicts = conflicts
	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.Warn("Failed to append sync log", zap.String("entity_id", entity.ID.String()), zap.Error(err))
	}
}

func (s *InboundChangeService) recordConflictMetrics(ctx context.Context, conflicts []integration.FieldConflict) {
	for _, c := range conflicts {
		s.metrics.RecordConflict(ctx, c.Origin.String(), string(c.Resolution))
	}
}

func (s *InboundChangeService) idempotencyEnabled() bool {
	return s.idempotency != nil && s.cfg.Idempotency.Enabled
}

// forgetEvent releases a claimed event key so a redelivery is processed again
func (s *InboundChangeService) forgetEvent(ctx context.Context, key string) {
	if err := s.idempotency.Forget(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("Failed to release webhook event", zap.String("key", key), zap.Error(err))
	}
}

func webhookKey(channelID uuid.UUID, eventID string) string {
	if eventID == "" {
		return ""
	}
	return "sync:webhook:" + channelID.String() + ":" + eventID
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
