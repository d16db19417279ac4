package persistence

import (
	"context"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"github.com/erp/syncengine/internal/infrastructure/persistence/tenant"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormChannelRepository implements ChannelRepository using GORM
type GormChannelRepository struct {
	db *gorm.DB
}

// NewGormChannelRepository creates a new GormChannelRepository
func NewGormChannelRepository(db *gorm.DB) *GormChannelRepository {
	return &GormChannelRepository{db: db}
}

// FindByID finds a channel by ID
func (r *GormChannelRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Channel, error) {
	var model models.ChannelModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindEnabledByTenant returns the enabled channels of a tenant ordered by code
func (r *GormChannelRepository) FindEnabledByTenant(ctx context.Context, tenantID uuid.UUID) ([]*integration.Channel, error) {
	var channelModels []models.ChannelModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("enabled = ?", true).
		Order("code ASC").
		Find(&channelModels).Error; err != nil {
		return nil, err
	}
	return toChannels(channelModels), nil
}

// FindPollable returns enabled channels with polling switched on, across tenants
func (r *GormChannelRepository) FindPollable(ctx context.Context) ([]*integration.Channel, error) {
	var channelModels []models.ChannelModel
	if err := r.db.WithContext(ctx).
		Where("enabled = ? AND polling_enabled = ?", true, true).
		Scopes(tenant.Ordered("code")).
		Find(&channelModels).Error; err != nil {
		return nil, err
	}
	return toChannels(channelModels), nil
}

// Save inserts or updates a channel
func (r *GormChannelRepository) Save(ctx context.Context, channel *integration.Channel) error {
	return translateError(r.db.WithContext(ctx).Save(models.ChannelModelFromDomain(channel)).Error)
}

func toChannels(channelModels []models.ChannelModel) []*integration.Channel {
	channels := make([]*integration.Channel, len(channelModels))
	for i := range channelModels {
		channels[i] = channelModels[i].ToDomain()
	}
	return channels
}

var _ integration.ChannelRepository = (*GormChannelRepository)(nil)
