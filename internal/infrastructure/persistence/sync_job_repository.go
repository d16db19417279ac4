package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSyncJobRepository implements SyncJobRepository using GORM
type GormSyncJobRepository struct {
	db *gorm.DB
}

// NewGormSyncJobRepository creates a new GORM-based job repository
func NewGormSyncJobRepository(db *gorm.DB) *GormSyncJobRepository {
	return &GormSyncJobRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormSyncJobRepository) WithTx(tx *gorm.DB) *GormSyncJobRepository {
	return &GormSyncJobRepository{db: tx}
}

// ---------------------------------------------------------------------------
// SyncJobReader implementation
// ---------------------------------------------------------------------------

// FindByID retrieves a single job by ID
func (r *GormSyncJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.SyncJob, error) {
	var model models.SyncJobModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindPending finds the oldest unclaimed job with the same target
func (r *GormSyncJobRepository) FindPending(ctx context.Context, entityID uuid.UUID, channelID *uuid.UUID, op integration.JobOperation) (*integration.SyncJob, error) {
	query := r.db.WithContext(ctx).
		Where("entity_id = ? AND operation = ? AND status = ?", entityID, op, integration.JobStatusPending)
	if channelID == nil {
		query = query.Where("channel_id IS NULL")
	} else {
		query = query.Where("channel_id = ?", *channelID)
	}

	var model models.SyncJobModel
	if err := query.Order("created_at ASC").First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindByEntity returns the most recent jobs of an entity, newest first
func (r *GormSyncJobRepository) FindByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]*integration.SyncJob, error) {
	query := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var jobModels []models.SyncJobModel
	if err := query.Find(&jobModels).Error; err != nil {
		return nil, err
	}
	return toJobs(jobModels), nil
}

// FindFailedByEntity returns dead-lettered jobs of an entity
func (r *GormSyncJobRepository) FindFailedByEntity(ctx context.Context, entityID uuid.UUID) ([]*integration.SyncJob, error) {
	var jobModels []models.SyncJobModel
	if err := r.db.WithContext(ctx).
		Where("entity_id = ? AND status = ?", entityID, integration.JobStatusFailed).
		Order("created_at ASC").
		Find(&jobModels).Error; err != nil {
		return nil, err
	}
	return toJobs(jobModels), nil
}

// CountByStatusForEntity counts an entity's jobs per status
func (r *GormSyncJobRepository) CountByStatusForEntity(ctx context.Context, entityID uuid.UUID) (integration.QueueStatusCounts, error) {
	return r.countByStatus(r.db.WithContext(ctx).Where("entity_id = ?", entityID))
}

// CountByStatus returns count of jobs for each status
func (r *GormSyncJobRepository) CountByStatus(ctx context.Context) (integration.QueueStatusCounts, error) {
	return r.countByStatus(r.db.WithContext(ctx))
}

func (r *GormSyncJobRepository) countByStatus(query *gorm.DB) (integration.QueueStatusCounts, error) {
	type statusCount struct {
		Status integration.JobStatus
		Count  int64
	}

	var results []statusCount
	err := query.
		Model(&models.SyncJobModel{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(integration.QueueStatusCounts, len(results))
	for _, res := range results {
		counts[res.Status] = res.Count
	}
	return counts, nil
}

// ---------------------------------------------------------------------------
// SyncJobWriter implementation
// ---------------------------------------------------------------------------

// Create inserts a new job
func (r *GormSyncJobRepository) Create(ctx context.Context, job *integration.SyncJob) error {
	return translateError(r.db.WithContext(ctx).Create(models.SyncJobModelFromDomain(job)).Error)
}

// RaisePending raises priority and pulls in scheduled_for of a job that is still
// pending. Values only move in the job's favour, so concurrent raises compose.
func (r *GormSyncJobRepository) RaisePending(ctx context.Context, job *integration.SyncJob) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncJobModel{}).
		Where("id = ? AND status = ?", job.ID, integration.JobStatusPending).
		Updates(map[string]any{
			"priority":      gorm.Expr("CASE WHEN priority < ? THEN ? ELSE priority END", job.Priority, job.Priority),
			"scheduled_for": gorm.Expr("CASE WHEN scheduled_for > ? THEN ? ELSE scheduled_for END", job.ScheduledFor, job.ScheduledFor),
			"updated_at":    job.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SaveOutcome writes the result of a run while the row is still processing under
// the claimed attempt. A requeued or re-claimed job is left untouched.
func (r *GormSyncJobRepository) SaveOutcome(ctx context.Context, job *integration.SyncJob) error {
	result := r.db.WithContext(ctx).
		Model(&models.SyncJobModel{}).
		Where("id = ? AND status = ? AND attempts = ?", job.ID, integration.JobStatusProcessing, job.Attempts).
		Updates(map[string]any{
			"status":        job.Status,
			"scheduled_for": job.ScheduledFor,
			"claimed_at":    job.ClaimedAt,
			"completed_at":  job.CompletedAt,
			"last_error":    job.LastError,
			"updated_at":    job.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrJobNotOwned
	}
	return nil
}

// RequeueFailed stores a reset job if the row is still dead-lettered
func (r *GormSyncJobRepository) RequeueFailed(ctx context.Context, job *integration.SyncJob) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncJobModel{}).
		Where("id = ? AND status = ?", job.ID, integration.JobStatusFailed).
		Updates(map[string]any{
			"status":        job.Status,
			"attempts":      job.Attempts,
			"max_retries":   job.MaxRetries,
			"scheduled_for": job.ScheduledFor,
			"claimed_at":    job.ClaimedAt,
			"completed_at":  job.CompletedAt,
			"updated_at":    job.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ClaimDue selects due candidates and claims each with a conditional update.
// A candidate whose row changed since the select was taken by another worker
// and is skipped, so every returned job belongs to this caller alone.
func (r *GormSyncJobRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*integration.SyncJob, error) {
	if limit <= 0 {
		return []*integration.SyncJob{}, nil
	}

	var candidates []models.SyncJobModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ? AND attempts < max_retries", integration.JobStatusPending, now).
		Order("priority DESC, scheduled_for ASC, created_at ASC").
		Limit(limit).
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}

	claimed := make([]*integration.SyncJob, 0, len(candidates))
	for i := range candidates {
		candidate := &candidates[i]
		claimedAt := now
		result := r.db.WithContext(ctx).
			Model(&models.SyncJobModel{}).
			Where("id = ? AND status = ? AND attempts = ?", candidate.ID, integration.JobStatusPending, candidate.Attempts).
			Updates(map[string]any{
				"status":     integration.JobStatusProcessing,
				"attempts":   gorm.Expr("attempts + 1"),
				"claimed_at": claimedAt,
				"updated_at": claimedAt,
			})
		if result.Error != nil {
			return claimed, fmt.Errorf("claim job %s: %w", candidate.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			continue
		}
		candidate.Status = integration.JobStatusProcessing
		candidate.Attempts++
		candidate.ClaimedAt = &claimedAt
		candidate.UpdatedAt = claimedAt
		claimed = append(claimed, candidate.ToDomain())
	}
	return claimed, nil
}

// DeleteFinishedBefore purges completed and skipped jobs last updated before cutoff
func (r *GormSyncJobRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []integration.JobStatus{
			integration.JobStatusCompleted,
			integration.JobStatusSkipped,
		}, cutoff).
		Delete(&models.SyncJobModel{})
	return result.RowsAffected, result.Error
}

// RequeueStale recovers jobs whose worker died mid-run. Jobs with attempts
// left go back to pending; the rest are dead-lettered.
func (r *GormSyncJobRepository) RequeueStale(ctx context.Context, cutoff, now time.Time) (int64, int64, error) {
	var requeued, failed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SyncJobModel{}).
			Where("status = ? AND claimed_at < ? AND attempts >= max_retries", integration.JobStatusProcessing, cutoff).
			Updates(map[string]any{
				"status":       integration.JobStatusFailed,
				"claimed_at":   nil,
				"completed_at": now,
				"last_error":   "worker did not finish the job before the staleness cutoff",
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		failed = res.RowsAffected

		res = tx.Model(&models.SyncJobModel{}).
			Where("status = ? AND claimed_at < ?", integration.JobStatusProcessing, cutoff).
			Updates(map[string]any{
				"status":        integration.JobStatusPending,
				"claimed_at":    nil,
				"scheduled_for": now,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		requeued = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return requeued, failed, nil
}

// QueueDepth reports job counts keyed by status for the queue depth gauge
func (r *GormSyncJobRepository) QueueDepth(ctx context.Context) (map[string]int64, error) {
	counts, err := r.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	depth := make(map[string]int64, len(counts))
	for status, n := range counts {
		depth[string(status)] = n
	}
	return depth, nil
}

func toJobs(jobModels []models.SyncJobModel) []*integration.SyncJob {
	jobs := make([]*integration.SyncJob, len(jobModels))
	for i := range jobModels {
		jobs[i] = jobModels[i].ToDomain()
	}
	return jobs
}

var _ integration.SyncJobRepository = (*GormSyncJobRepository)(nil)
