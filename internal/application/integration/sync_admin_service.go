package integration

import (
	"context"
	"fmt"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// recentJobsLimit bounds the job history returned by GetQueueStatus
const recentJobsLimit = 20

// SyncAdminService provides the manual operations on the sync queue
type SyncAdminService struct {
	entities integration.SyncEntityRepository
	links    integration.ExternalLinkReader
	jobs     integration.SyncJobRepository
	logs     integration.SyncLogRepository
	queue    *SyncQueueService
	resolver *ConflictResolver
	policies integration.RetryPolicyProvider
	locker   shared.Locker
	logger   *zap.Logger
	clock    Clock
}

// SyncAdminServiceDeps holds the collaborators of a SyncAdminService
type SyncAdminServiceDeps struct {
	Repos    Repositories
	Queue    *SyncQueueService
	Resolver *ConflictResolver
	Policies integration.RetryPolicyProvider
	Locker   shared.Locker
	Logger   *zap.Logger
	Clock    Clock
}

// NewSyncAdminService creates a new SyncAdminService
func NewSyncAdminService(deps SyncAdminServiceDeps) *SyncAdminService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Resolver == nil {
		deps.Resolver = NewConflictResolver(nil, DefaultConflictWindow)
	}
	if deps.Policies == nil {
		deps.Policies = NewTenantRetryPolicies(integration.DefaultRetryPolicy(), nil)
	}
	return &SyncAdminService{
		entities: deps.Repos.Entities,
		links:    deps.Repos.Links,
		jobs:     deps.Repos.Jobs,
		logs:     deps.Repos.Logs,
		queue:    deps.Queue,
		resolver: deps.Resolver,
		policies: deps.Policies,
		locker:   deps.Locker,
		logger:   deps.Logger,
		clock:    deps.Clock,
	}
}

// RetryFailedForEntity puts every failed job of the entity back in the queue with
// a fresh attempt budget. It returns the number of jobs requeued.
func (s *SyncAdminService) RetryFailedForEntity(ctx context.Context, entityID uuid.UUID) (int, error) {
	if entityID == uuid.Nil {
		return 0, integration.ErrInvalidEntityID
	}
	entity, err := s.entities.FindByID(ctx, entityID)
	if err != nil {
		return 0, err
	}

	failed, err := s.jobs.FindFailedByEntity(ctx, entityID)
	if err != nil {
		return 0, fmt.Errorf("find failed jobs: %w", err)
	}
	policy := s.policies.PolicyFor(entity.TenantID)
	now := s.clock.now()

	requeued := 0
	for _, job := range failed {
		job.ResetForRetry(policy.MaxRetries, now)
		ok, err := s.jobs.RequeueFailed(ctx, job)
		if err != nil {
			return requeued, fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
		if ok {
			requeued++
		}
	}

	s.logger.Info("Failed sync jobs requeued",
		zap.String("entity_id", entityID.String()),
		zap.Int("count", requeued),
	)
	return requeued, nil
}

// GetQueueStatus reports the sync state of an entity: job counts, recent jobs and links
func (s *SyncAdminService) GetQueueStatus(ctx context.Context, entityID uuid.UUID) (*QueueStatusResponse, error) {
	if entityID == uuid.Nil {
		return nil, integration.ErrInvalidEntityID
	}
	entity, err := s.entities.FindByID(ctx, entityID)
	if err != nil {
		return nil, err
	}

	counts, err := s.jobs.CountByStatusForEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	jobs, err := s.jobs.FindByEntity(ctx, entityID, recentJobsLimit)
	if err != nil {
		return nil, fmt.Errorf("find jobs: %w", err)
	}
	links, err := s.links.FindActiveByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("find links: %w", err)
	}

	resp := &QueueStatusResponse{
		EntityID:   entity.ID,
		SyncStatus: entity.SyncStatus,
		Counts:     counts,
		RecentJobs: make([]JobSummary, len(jobs)),
		Links:      make([]LinkSummary, len(links)),
	}
	for i, j := range jobs {
		resp.RecentJobs[i] = ToJobSummary(j)
	}
	for i, l := range links {
		resp.Links[i] = ToLinkSummary(l)
	}
	return resp, nil
}

// ResolveConflict takes an entity out of CONFLICT according to an operator's
// strategy and schedules a push of the resulting state to every target.
func (s *SyncAdminService) ResolveConflict(ctx context.Context, req ResolveConflictRequest) (*integration.SyncEntity, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "sync_admin", "resolve_conflict")
	defer span.End()

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	strategy, err := integration.ParseConflictStrategy(req.Strategy)
	if err != nil {
		return nil, err
	}
	telemetry.SetAttributes(span, "entity_id", req.EntityID.String(), "strategy", string(strategy))

	release, err := acquireLock(ctx, s.locker, entityLockKey(req.EntityID), DefaultLockTTL, DefaultLockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	entity, err := s.entities.FindByID(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}
	if !entity.IsInConflict() {
		return nil, integration.ErrEntityNotInConflict
	}

	now := s.clock.now()
	var (
		changed []string
		origin  = integration.OriginOperations
	)
	switch strategy {
	case integration.ConflictStrategyAcceptLocal:
		entity.ClearConflict()
	case integration.ConflictStrategyAcceptRemote:
		if len(entity.ConflictFields) == 0 || !entity.ConflictOrigin.IsValid() {
			return nil, integration.ErrNoParkedChange
		}
		origin = entity.ConflictOrigin
		res := s.resolver.ResolveApproved(entity, entity.ConflictFields, origin, now)
		entity.ClearConflict()
		changed = entity.ApplyFields(res.Apply, origin, now)
	case integration.ConflictStrategyMerge:
		res := s.resolver.ResolveApproved(entity, req.MergeFields, origin, now)
		entity.ClearConflict()
		changed = entity.ApplyFields(res.Apply, origin, now)
	}

	if err := s.entities.Update(ctx, entity); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("update entity: %w", err)
	}

	entry := integration.NewSyncLogEntry(entity.TenantID, entity.ID, integration.SyncActionResolve, origin, now)
	entry.ChangedFields = changed
	entry.ErrorMessage = string(strategy)
	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.Warn("Failed to append sync log", zap.String("entity_id", entity.ID.String()), zap.Error(err))
	}

	if s.queue != nil {
		_, _, err := s.queue.Enqueue(ctx, EnqueueJobRequest{
			TenantID:      entity.TenantID,
			EntityID:      entity.ID,
			Operation:     integration.JobOperationPushEntity,
			TriggerOrigin: integration.OriginOperations,
			Priority:      entity.Kind.DefaultPriority(),
		})
		if err != nil {
			return entity, fmt.Errorf("enqueue push after resolve: %w", err)
		}
	}

	s.logger.Info("Entity conflict resolved",
		zap.String("entity_id", entity.ID.String()),
		zap.String("strategy", string(strategy)),
		zap.Strings("changed_fields", changed),
	)
	return entity, nil
}
