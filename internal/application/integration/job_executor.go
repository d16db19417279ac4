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

// Job outcomes reported to metrics
const (
	JobOutcomeCompleted = "completed"
	JobOutcomeSkipped   = "skipped"
	JobOutcomeRetried   = "retried"
	JobOutcomeFailed    = "failed"
)

// Propagator pushes an entity to its channels
type Propagator interface {
	Propagate(ctx context.Context, entityID uuid.UUID, trigger integration.Origin, opts PropagateOptions) (*PropagationResult, error)
}

var _ Propagator = (*OutboundPropagator)(nil)

// BatchResult summarises one ProcessDue call
type BatchResult struct {
	Claimed   int
	Completed int
	Skipped   int
	Retried   int
	Failed    int
}

// JobExecutor claims due jobs and runs them through the propagator
type JobExecutor struct {
	jobs       integration.SyncJobRepository
	logs       integration.SyncLogRepository
	propagator Propagator
	policies   integration.RetryPolicyProvider
	metrics    *telemetry.SyncMetrics
	logger     *zap.Logger
	clock      Clock
}

// NewJobExecutor creates a new JobExecutor
func NewJobExecutor(repos Repositories, propagator Propagator, policies integration.RetryPolicyProvider, metrics *telemetry.SyncMetrics, logger *zap.Logger, clock Clock) *JobExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policies == nil {
		policies = NewTenantRetryPolicies(integration.DefaultRetryPolicy(), nil)
	}
	return &JobExecutor{
		jobs:       repos.Jobs,
		logs:       repos.Logs,
		propagator: propagator,
		policies:   policies,
		metrics:    metrics,
		logger:     logger,
		clock:      clock,
	}
}

// ProcessDue claims up to limit due jobs and executes them one after another
func (e *JobExecutor) ProcessDue(ctx context.Context, limit int) (*BatchResult, error) {
	jobs, err := e.jobs.ClaimDue(ctx, e.clock.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	result := &BatchResult{Claimed: len(jobs)}
	if len(jobs) == 0 {
		return result, nil
	}
	e.metrics.RecordJobsClaimed(ctx, len(jobs))

	for _, job := range jobs {
		if ctx.Err() != nil {
			// claimed jobs left behind are returned to the queue by the staleness sweep
			return result, ctx.Err()
		}
		outcome, err := e.Execute(ctx, job)
		if err != nil && !errors.Is(err, integration.ErrJobNotOwned) {
			e.logger.Error("Failed to record job outcome", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
		switch outcome {
		case JobOutcomeCompleted:
			result.Completed++
		case JobOutcomeSkipped:
			result.Skipped++
		case JobOutcomeRetried:
			result.Retried++
		case JobOutcomeFailed:
			result.Failed++
		}
	}
	return result, nil
}

// Execute runs one claimed job and stores its outcome.
// The returned error only reports a failure to persist the outcome.
func (e *JobExecutor) Execute(ctx context.Context, job *integration.SyncJob) (string, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "sync_executor", "execute_job")
	defer span.End()
	telemetry.SetAttributes(span,
		"job_id", job.ID.String(),
		"entity_id", job.EntityID.String(),
		"operation", string(job.Operation),
		"attempt", job.Attempts,
	)

	opts, err := optionsFor(job)
	var runErr error
	if err != nil {
		runErr = err
	} else {
		_, runErr = e.propagator.Propagate(ctx, job.EntityID, job.TriggerOrigin, opts)
	}

	now := e.clock.now()
	outcome := JobOutcomeCompleted
	switch {
	case runErr == nil:
		job.MarkCompleted(now)
	case errors.Is(runErr, integration.ErrEntityInConflict),
		errors.Is(runErr, integration.ErrEntityInactive),
		errors.Is(runErr, shared.ErrNotFound):
		outcome = JobOutcomeSkipped
		job.MarkSkipped(runErr.Error(), now)
	default:
		telemetry.RecordError(span, runErr)
		retryable := integration.IsRetryable(runErr)
		if job.RecordFailure(runErr.Error(), retryable, e.policies.PolicyFor(job.TenantID), now) {
			outcome = JobOutcomeFailed
		} else {
			outcome = JobOutcomeRetried
		}
	}

	if err := e.jobs.SaveOutcome(ctx, job); err != nil {
		if errors.Is(err, integration.ErrJobNotOwned) {
			// requeued by the staleness sweep while running; the current owner records the result
			e.logger.Warn("Sync job outcome discarded",
				zap.String("job_id", job.ID.String()),
				zap.Int("attempt", job.Attempts),
				zap.String("outcome", outcome),
			)
		}
		return outcome, fmt.Errorf("update job %s: %w", job.ID, err)
	}
	e.metrics.RecordJobOutcome(ctx, string(job.Operation), outcome)

	switch outcome {
	case JobOutcomeFailed:
		e.logger.Error("Sync job failed permanently",
			zap.String("job_id", job.ID.String()),
			zap.String("entity_id", job.EntityID.String()),
			zap.String("operation", string(job.Operation)),
			zap.Int("attempts", job.Attempts),
			zap.Error(runErr),
		)
		e.appendFailedLog(ctx, job, runErr, now)
	case JobOutcomeRetried:
		e.logger.Warn("Sync job rescheduled",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempts", job.Attempts),
			zap.Time("scheduled_for", job.ScheduledFor),
			zap.Error(runErr),
		)
	case JobOutcomeSkipped:
		e.logger.Info("Sync job skipped",
			zap.String("job_id", job.ID.String()),
			zap.String("reason", job.LastError),
		)
	}
	return outcome, nil
}

// CleanupFinished deletes completed and skipped jobs older than retention
func (e *JobExecutor) CleanupFinished(ctx context.Context, retention time.Duration) (int64, error) {
	deleted, err := e.jobs.DeleteFinishedBefore(ctx, e.clock.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	if deleted > 0 {
		e.logger.Info("Finished sync jobs cleaned up", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// RequeueStale returns jobs stuck in processing longer than staleAfter to the queue
func (e *JobExecutor) RequeueStale(ctx context.Context, staleAfter time.Duration) (requeued, failed int64, err error) {
	now := e.clock.now()
	requeued, failed, err = e.jobs.RequeueStale(ctx, now.Add(-staleAfter), now)
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	if requeued > 0 || failed > 0 {
		e.logger.Warn("Stale sync jobs recovered",
			zap.Int64("requeued", requeued),
			zap.Int64("failed", failed),
		)
	}
	return requeued, failed, nil
}

func (e *JobExecutor) appendFailedLog(ctx context.Context, job *integration.SyncJob, runErr error, now time.Time) {
	entry := integration.NewSyncLogEntry(job.TenantID, job.EntityID, integration.SyncActionFailed, job.TriggerOrigin, now).
		WithError(runErr)
	entry.ChannelID = job.ChannelID
	if err := e.logs.Append(ctx, entry); err != nil {
		e.logger.Warn("Failed to append sync log", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// optionsFor maps a job operation onto propagation options
func optionsFor(job *integration.SyncJob) (PropagateOptions, error) {
	switch job.Operation {
	case integration.JobOperationPushEntity:
		return PropagateOptions{}, nil
	case integration.JobOperationPushChannel:
		if job.ChannelID == nil {
			return PropagateOptions{}, integration.ErrJobChannelRequired
		}
		return PropagateOptions{OnlyTargets: []uuid.UUID{*job.ChannelID}}, nil
	case integration.JobOperationPushStock:
		if job.ChannelID == nil {
			return PropagateOptions{}, integration.ErrJobChannelRequired
		}
		return PropagateOptions{OnlyTargets: []uuid.UUID{*job.ChannelID}, StockOnly: true}, nil
	}
	return PropagateOptions{}, fmt.Errorf("%w: %q", integration.ErrInvalidJobOperation, job.Operation)
}
