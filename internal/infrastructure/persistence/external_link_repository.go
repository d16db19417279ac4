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

// GormExternalLinkRepository implements ExternalLinkRepository using GORM
type GormExternalLinkRepository struct {
	db *gorm.DB
}

// NewGormExternalLinkRepository creates a new GormExternalLinkRepository
func NewGormExternalLinkRepository(db *gorm.DB) *GormExternalLinkRepository {
	return &GormExternalLinkRepository{db: db}
}

// ---------------------------------------------------------------------------
// ExternalLinkReader implementation
// ---------------------------------------------------------------------------

// FindActiveByEntity returns the active links of an entity, oldest first
func (r *GormExternalLinkRepository) FindActiveByEntity(ctx context.Context, entityID uuid.UUID) ([]*integration.ExternalLink, error) {
	var linkModels []models.ExternalLinkModel
	if err := r.db.WithContext(ctx).
		Where("entity_id = ? AND active = ?", entityID, true).
		Order("created_at ASC").
		Find(&linkModels).Error; err != nil {
		return nil, err
	}
	return toLinks(linkModels), nil
}

// FindByEntityAndChannel finds the link of an entity on a channel
func (r *GormExternalLinkRepository) FindByEntityAndChannel(ctx context.Context, entityID, channelID uuid.UUID) (*integration.ExternalLink, error) {
	var model models.ExternalLinkModel
	if err := r.db.WithContext(ctx).
		Where("entity_id = ? AND channel_id = ?", entityID, channelID).
		First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindByChannelAndExternalID finds the link holding an external ID on a channel
func (r *GormExternalLinkRepository) FindByChannelAndExternalID(ctx context.Context, channelID uuid.UUID, externalID string) (*integration.ExternalLink, error) {
	if externalID == "" {
		return nil, shared.ErrNotFound
	}
	var model models.ExternalLinkModel
	if err := r.db.WithContext(ctx).
		Where("channel_id = ? AND external_id = ?", channelID, externalID).
		First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindByExternalID finds links with an external ID on any channel of a tenant
func (r *GormExternalLinkRepository) FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) ([]*integration.ExternalLink, error) {
	if externalID == "" {
		return []*integration.ExternalLink{}, nil
	}
	var linkModels []models.ExternalLinkModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("external_id = ?", externalID).
		Order("created_at ASC").
		Find(&linkModels).Error; err != nil {
		return nil, err
	}
	return toLinks(linkModels), nil
}

// ---------------------------------------------------------------------------
// ExternalLinkWriter implementation
// ---------------------------------------------------------------------------

// Save inserts or updates a link. A second link for the same (entity, channel)
// violates the unique index and surfaces as shared.ErrAlreadyExists.
func (r *GormExternalLinkRepository) Save(ctx context.Context, link *integration.ExternalLink) error {
	return translateError(r.db.WithContext(ctx).Save(models.ExternalLinkModelFromDomain(link)).Error)
}

func toLinks(linkModels []models.ExternalLinkModel) []*integration.ExternalLink {
	links := make([]*integration.ExternalLink, len(linkModels))
	for i := range linkModels {
		links[i] = linkModels[i].ToDomain()
	}
	return links
}

var _ integration.ExternalLinkRepository = (*GormExternalLinkRepository)(nil)
