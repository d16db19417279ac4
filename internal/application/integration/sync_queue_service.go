package integration

import (
	"context"
	"fmt"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SyncQueueService enqueues propagation jobs
type SyncQueueService struct {
	jobs     integration.SyncJobRepository
	links    integration.ExternalLinkReader
	channels integration.ChannelRepository
	policies integration.RetryPolicyProvider
	logger   *zap.Logger
	clock    Clock
}

// NewSyncQueueService creates a new SyncQueueService
func NewSyncQueueService(repos Repositories, policies integration.RetryPolicyProvider, logger *zap.Logger, clock Clock) *SyncQueueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policies == nil {
		policies = NewTenantRetryPolicies(integration.DefaultRetryPolicy(), nil)
	}
	return &SyncQueueService{
		jobs:     repos.Jobs,
		links:    repos.Links,
		channels: repos.Channels,
		policies: policies,
		logger:   logger,
		clock:    clock,
	}
}

// Enqueue validates and stores a job. An equivalent pending job is reused instead
// of creating a duplicate; created reports which happened.
func (s *SyncQueueService) Enqueue(ctx context.Context, req EnqueueJobRequest) (job *integration.SyncJob, created bool, err error) {
	if err := validateStruct(req); err != nil {
		return nil, false, err
	}

	now := s.clock.now()
	spec := req.toSpec()
	if spec.MaxRetries <= 0 {
		spec.MaxRetries = s.policies.PolicyFor(spec.TenantID).MaxRetries
	}
	candidate, err := integration.NewSyncJob(spec, now)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.jobs.FindPending(ctx, candidate.EntityID, candidate.ChannelID, candidate.Operation)
	if err != nil && !isNotFound(err) {
		return nil, false, fmt.Errorf("find pending job: %w", err)
	}
	if existing != nil {
		coalesced := true
		if existing.Priority < candidate.Priority || existing.ScheduledFor.After(candidate.ScheduledFor) {
			if existing.Priority < candidate.Priority {
				existing.Priority = candidate.Priority
			}
			if existing.ScheduledFor.After(candidate.ScheduledFor) {
				existing.ScheduledFor = candidate.ScheduledFor
			}
			existing.UpdatedAt = now
			coalesced, err = s.jobs.RaisePending(ctx, existing)
			if err != nil {
				return nil, false, fmt.Errorf("update coalesced job: %w", err)
			}
		}
		if coalesced {
			return existing, false, nil
		}
		// claimed since it was read; the running worker may miss this change
		s.logger.Debug("Pending job claimed before coalescing, enqueueing a new one",
			zap.String("job_id", existing.ID.String()),
		)
	}

	if err := s.jobs.Create(ctx, candidate); err != nil {
		return nil, false, fmt.Errorf("create job: %w", err)
	}
	s.logger.Debug("Sync job enqueued",
		zap.String("job_id", candidate.ID.String()),
		zap.String("entity_id", candidate.EntityID.String()),
		zap.String("operation", string(candidate.Operation)),
		zap.Int("priority", candidate.Priority),
	)
	return candidate, true, nil
}

// FanOut enqueues one job per active link of the entity, except links on the
// skipped channels. Stock jobs only target channels that receive stock.
func (s *SyncQueueService) FanOut(ctx context.Context, entity *integration.SyncEntity, trigger integration.Origin, op integration.JobOperation, skip ...uuid.UUID) ([]*integration.SyncJob, error) {
	if !op.RequiresChannel() {
		return nil, fmt.Errorf("%w: fan-out needs a per-channel operation, got %q", integration.ErrInvalidJobOperation, op)
	}
	links, err := s.links.FindActiveByEntity(ctx, entity.ID)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}

	skipped := make(map[uuid.UUID]struct{}, len(skip))
	for _, id := range skip {
		skipped[id] = struct{}{}
	}

	var jobs []*integration.SyncJob
	for _, link := range links {
		if _, ok := skipped[link.ChannelID]; ok {
			continue
		}
		channel, err := s.channels.FindByID(ctx, link.ChannelID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return jobs, fmt.Errorf("load channel %s: %w", link.ChannelID, err)
		}
		if !channel.Enabled {
			continue
		}
		if op == integration.JobOperationPushStock && !channel.ReceivesStock() {
			continue
		}

		channelID := link.ChannelID
		job, _, err := s.Enqueue(ctx, EnqueueJobRequest{
			TenantID:      entity.TenantID,
			EntityID:      entity.ID,
			Operation:     op,
			TriggerOrigin: trigger,
			ChannelID:     &channelID,
			Priority:      entity.Kind.DefaultPriority(),
		})
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
