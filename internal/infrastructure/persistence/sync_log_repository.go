package persistence

import (
	"context"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSyncLogRepository implements SyncLogRepository using GORM.
// Entries are never updated once appended.
type GormSyncLogRepository struct {
	db *gorm.DB
}

// NewGormSyncLogRepository creates a new GormSyncLogRepository
func NewGormSyncLogRepository(db *gorm.DB) *GormSyncLogRepository {
	return &GormSyncLogRepository{db: db}
}

// Append stores a new entry
func (r *GormSyncLogRepository) Append(ctx context.Context, entry *integration.SyncLogEntry) error {
	return r.db.WithContext(ctx).Create(models.SyncLogModelFromDomain(entry)).Error
}

// FindRecentByEntity returns entries of an action for an entity created at or after since
func (r *GormSyncLogRepository) FindRecentByEntity(ctx context.Context, entityID uuid.UUID, action integration.SyncAction, since time.Time) ([]*integration.SyncLogEntry, error) {
	var logModels []models.SyncLogModel
	if err := r.db.WithContext(ctx).
		Where("entity_id = ? AND action = ? AND created_at >= ?", entityID, action, since).
		Order("created_at ASC").
		Find(&logModels).Error; err != nil {
		return nil, err
	}
	return toLogEntries(logModels), nil
}

// FindByEntity returns the latest entries of an entity, newest first
func (r *GormSyncLogRepository) FindByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]*integration.SyncLogEntry, error) {
	query := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var logModels []models.SyncLogModel
	if err := query.Find(&logModels).Error; err != nil {
		return nil, err
	}
	return toLogEntries(logModels), nil
}

func toLogEntries(logModels []models.SyncLogModel) []*integration.SyncLogEntry {
	entries := make([]*integration.SyncLogEntry, len(logModels))
	for i := range logModels {
		entries[i] = logModels[i].ToDomain()
	}
	return entries
}

var _ integration.SyncLogRepository = (*GormSyncLogRepository)(nil)
