package integration

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// JobOperation
// ---------------------------------------------------------------------------

// JobOperation is the kind of propagation work a job performs
type JobOperation string

const (
	// JobOperationPushEntity pushes the entity to every active link
	JobOperationPushEntity JobOperation = "push_entity"
	// JobOperationPushChannel pushes the entity to a single channel
	JobOperationPushChannel JobOperation = "push_channel"
	// JobOperationPushStock pushes only the inventory level to a single channel
	JobOperationPushStock JobOperation = "push_stock"
)

// IsValid checks if the operation is a known value
func (o JobOperation) IsValid() bool {
	switch o {
	case JobOperationPushEntity, JobOperationPushChannel, JobOperationPushStock:
		return true
	}
	return false
}

// RequiresChannel reports whether the operation targets a single channel
func (o JobOperation) RequiresChannel() bool {
	switch o {
	case JobOperationPushChannel, JobOperationPushStock:
		return true
	case JobOperationPushEntity:
		return false
	}
	return false
}

// ---------------------------------------------------------------------------
// JobStatus
// ---------------------------------------------------------------------------

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusSkipped    JobStatus = "skipped"
)

// IsTerminal reports whether the job will never run again automatically
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusSkipped:
		return true
	case JobStatusPending, JobStatusProcessing:
		return false
	}
	return false
}

// ---------------------------------------------------------------------------
// RetryPolicy
// ---------------------------------------------------------------------------

// RetryPolicy controls how failed jobs are rescheduled
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// DefaultRetryPolicy returns the engine-wide default policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        5,
		BaseDelay:         60 * time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          time.Hour,
	}
}

// Validate checks the policy values
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries must be at least 1", ErrInvalidRetryPolicy)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("%w: base delay must be positive", ErrInvalidRetryPolicy)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff multiplier must be at least 1", ErrInvalidRetryPolicy)
	}
	return nil
}

// DelayFor returns the wait after the n-th failed attempt (n starts at 1):
// BaseDelay × BackoffMultiplier^(n-1), capped at MaxDelay.
func (p RetryPolicy) DelayFor(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(failedAttempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// RetryPolicyProvider resolves the policy in force for a tenant
type RetryPolicyProvider interface {
	PolicyFor(tenantID uuid.UUID) RetryPolicy
}

// ---------------------------------------------------------------------------
// SyncJob
// ---------------------------------------------------------------------------

// SyncJob is a durable unit of propagation work
type SyncJob struct {
	shared.BaseEntity
	TenantID      uuid.UUID
	EntityID      uuid.UUID
	Operation     JobOperation
	TriggerOrigin Origin
	ChannelID     *uuid.UUID
	Priority      int
	Status        JobStatus
	Attempts      int
	MaxRetries    int
	ScheduledFor  time.Time
	ClaimedAt     *time.Time
	CompletedAt   *time.Time
	LastError     string
}

// SyncJobSpec describes a job to enqueue
type SyncJobSpec struct {
	TenantID      uuid.UUID
	EntityID      uuid.UUID
	Operation     JobOperation
	TriggerOrigin Origin
	ChannelID     *uuid.UUID
	Priority      int
	MaxRetries    int
	ScheduledFor  time.Time
}

// NewSyncJob validates a spec and creates a pending job
func NewSyncJob(spec SyncJobSpec, now time.Time) (*SyncJob, error) {
	if spec.TenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if spec.EntityID == uuid.Nil {
		return nil, ErrInvalidEntityID
	}
	if !spec.Operation.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobOperation, spec.Operation)
	}
	if spec.Operation.RequiresChannel() && (spec.ChannelID == nil || *spec.ChannelID == uuid.Nil) {
		return nil, ErrJobChannelRequired
	}
	if !spec.TriggerOrigin.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrigin, spec.TriggerOrigin)
	}
	maxRetries := spec.MaxRetries
	if maxRetries < 1 {
		maxRetries = DefaultRetryPolicy().MaxRetries
	}
	scheduledFor := spec.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}
	return &SyncJob{
		BaseEntity:    shared.NewBaseEntityAt(now),
		TenantID:      spec.TenantID,
		EntityID:      spec.EntityID,
		Operation:     spec.Operation,
		TriggerOrigin: spec.TriggerOrigin,
		ChannelID:     spec.ChannelID,
		Priority:      spec.Priority,
		Status:        JobStatusPending,
		MaxRetries:    maxRetries,
		ScheduledFor:  scheduledFor,
	}, nil
}

// IsDue reports whether a pending job may be claimed at now
func (j *SyncJob) IsDue(now time.Time) bool {
	return j.Status == JobStatusPending && !j.ScheduledFor.After(now) && j.Attempts < j.MaxRetries
}

// MarkCompleted records a successful run
func (j *SyncJob) MarkCompleted(now time.Time) {
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.LastError = ""
	j.UpdatedAt = now
}

// MarkSkipped records a run that had nothing to do
func (j *SyncJob) MarkSkipped(reason string, now time.Time) {
	j.Status = JobStatusSkipped
	j.CompletedAt = &now
	j.LastError = reason
	j.UpdatedAt = now
}

// RecordFailure reschedules the job with exponential backoff or dead-letters it.
// It returns true when the job transitioned to failed.
func (j *SyncJob) RecordFailure(errMsg string, retryable bool, policy RetryPolicy, now time.Time) bool {
	j.LastError = errMsg
	j.UpdatedAt = now
	j.ClaimedAt = nil
	if !retryable || j.Attempts >= j.MaxRetries {
		j.Status = JobStatusFailed
		j.CompletedAt = &now
		return true
	}
	j.Status = JobStatusPending
	j.ScheduledFor = now.Add(policy.DelayFor(j.Attempts))
	return false
}

// ResetForRetry puts a failed job back in the queue with a fresh attempt budget
func (j *SyncJob) ResetForRetry(maxRetries int, now time.Time) {
	j.Status = JobStatusPending
	j.Attempts = 0
	if maxRetries > 0 {
		j.MaxRetries = maxRetries
	}
	j.ScheduledFor = now
	j.ClaimedAt = nil
	j.CompletedAt = nil
	j.UpdatedAt = now
}

// ---------------------------------------------------------------------------
// SyncJob Repository Interfaces
// ---------------------------------------------------------------------------

// QueueStatusCounts is the number of jobs per status
type QueueStatusCounts map[JobStatus]int64

// SyncJobReader defines read operations for jobs
type SyncJobReader interface {
	// FindByID finds a job by ID
	FindByID(ctx context.Context, id uuid.UUID) (*SyncJob, error)

	// FindPending finds a not-yet-claimed job with the same target, used to coalesce duplicates
	FindPending(ctx context.Context, entityID uuid.UUID, channelID *uuid.UUID, op JobOperation) (*SyncJob, error)

	// FindByEntity returns the most recent jobs of an entity
	FindByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]*SyncJob, error)

	// FindFailedByEntity returns dead-lettered jobs of an entity
	FindFailedByEntity(ctx context.Context, entityID uuid.UUID) ([]*SyncJob, error)

	// CountByStatusForEntity counts an entity's jobs per status
	CountByStatusForEntity(ctx context.Context, entityID uuid.UUID) (QueueStatusCounts, error)

	// CountByStatus counts all jobs per status
	CountByStatus(ctx context.Context) (QueueStatusCounts, error)
}

// SyncJobWriter defines write operations for jobs
type SyncJobWriter interface {
	// Create inserts a new job
	Create(ctx context.Context, job *SyncJob) error

	// RaisePending raises the priority and pulls in the schedule of a job that is
	// still pending. It reports false when the job was claimed or finished meanwhile.
	RaisePending(ctx context.Context, job *SyncJob) (bool, error)

	// SaveOutcome stores the result of a run. It returns ErrJobNotOwned unless the
	// job is still processing under the attempt the caller claimed.
	SaveOutcome(ctx context.Context, job *SyncJob) error

	// RequeueFailed stores a job reset by ResetForRetry if it is still failed.
	// It reports false when the job left the failed state meanwhile.
	RequeueFailed(ctx context.Context, job *SyncJob) (bool, error)

	// ClaimDue atomically moves up to limit due jobs to processing and increments
	// their attempts. Each returned job was claimed by this caller only.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*SyncJob, error)

	// DeleteFinishedBefore purges completed and skipped jobs last updated before cutoff
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// RequeueStale returns processing jobs claimed before cutoff to pending,
	// or to failed when they have no attempts left
	RequeueStale(ctx context.Context, cutoff, now time.Time) (requeued int64, failed int64, err error)
}

// SyncJobRepository combines read and write operations
type SyncJobRepository interface {
	SyncJobReader
	SyncJobWriter
}
