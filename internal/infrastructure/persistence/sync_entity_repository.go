package persistence

import (
	"context"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"github.com/erp/syncengine/internal/infrastructure/persistence/tenant"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSyncEntityRepository implements SyncEntityRepository using GORM
type GormSyncEntityRepository struct {
	db *gorm.DB
}

// NewGormSyncEntityRepository creates a new GormSyncEntityRepository
func NewGormSyncEntityRepository(db *gorm.DB) *GormSyncEntityRepository {
	return &GormSyncEntityRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *GormSyncEntityRepository) WithTx(tx *gorm.DB) *GormSyncEntityRepository {
	return &GormSyncEntityRepository{db: tx}
}

// FindByID finds an entity by ID
func (r *GormSyncEntityRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.SyncEntity, error) {
	var model models.SyncEntityModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindBySKU finds an active entity by SKU within a tenant
func (r *GormSyncEntityRepository) FindBySKU(ctx context.Context, tenantID uuid.UUID, sku string) (*integration.SyncEntity, error) {
	if sku == "" {
		return nil, shared.ErrNotFound
	}
	var model models.SyncEntityModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("sku = ? AND active = ?", sku, true).
		Order("created_at ASC").
		First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// Create inserts a new entity
func (r *GormSyncEntityRepository) Create(ctx context.Context, entity *integration.SyncEntity) error {
	return translateError(r.db.WithContext(ctx).Create(models.SyncEntityModelFromDomain(entity)).Error)
}

// Update persists the entity when its stored version still matches and bumps the version
func (r *GormSyncEntityRepository) Update(ctx context.Context, entity *integration.SyncEntity) error {
	model := models.SyncEntityModelFromDomain(entity)
	result := r.db.WithContext(ctx).
		Model(&models.SyncEntityModel{}).
		Where("id = ? AND version = ?", entity.ID, entity.Version).
		Updates(map[string]any{
			"sku":             model.SKU,
			"fields":          model.FieldsJSON,
			"sync_status":     model.SyncStatus,
			"last_updated_by": model.LastUpdatedBy,
			"checksum":        model.Checksum,
			"active":          model.Active,
			"conflict_fields": model.ConflictJSON,
			"conflict_origin": model.ConflictOrigin,
			"conflict_at":     model.ConflictAt,
			"updated_at":      model.UpdatedAt,
			"version":         entity.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.SyncEntityModel{}).Where("id = ?", entity.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return shared.ErrNotFound
		}
		return shared.ErrConcurrencyConflict
	}
	entity.IncrementVersion()
	return nil
}

var _ integration.SyncEntityRepository = (*GormSyncEntityRepository)(nil)
