package persistence

import (
	"context"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"github.com/erp/syncengine/internal/infrastructure/persistence/tenant"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ---------------------------------------------------------------------------
// Bundle items
// ---------------------------------------------------------------------------

// GormBundleItemRepository implements BundleItemRepository using GORM
type GormBundleItemRepository struct {
	db *gorm.DB
}

// NewGormBundleItemRepository creates a new GormBundleItemRepository
func NewGormBundleItemRepository(db *gorm.DB) *GormBundleItemRepository {
	return &GormBundleItemRepository{db: db}
}

// FindByParent returns the children of a bundle
func (r *GormBundleItemRepository) FindByParent(ctx context.Context, parentID uuid.UUID) ([]*integration.BundleItem, error) {
	var itemModels []models.BundleItemModel
	if err := r.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("created_at ASC").
		Find(&itemModels).Error; err != nil {
		return nil, err
	}
	items := make([]*integration.BundleItem, len(itemModels))
	for i := range itemModels {
		items[i] = itemModels[i].ToDomain()
	}
	return items, nil
}

// HasChildren reports whether the entity is itself a bundle
func (r *GormBundleItemRepository) HasChildren(ctx context.Context, entityID uuid.UUID) (bool, error) {
	return r.exists(ctx, "parent_id = ?", entityID)
}

// IsChild reports whether the entity is a component of some bundle
func (r *GormBundleItemRepository) IsChild(ctx context.Context, entityID uuid.UUID) (bool, error) {
	return r.exists(ctx, "child_id = ?", entityID)
}

func (r *GormBundleItemRepository) exists(ctx context.Context, cond string, id uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.BundleItemModel{}).
		Where(cond, id).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Upsert inserts the edge or updates the quantity of the existing (parent, child) edge.
// On update the item's ID is replaced by the stored edge's ID.
func (r *GormBundleItemRepository) Upsert(ctx context.Context, item *integration.BundleItem) error {
	model := &models.BundleItemModel{}
	model.FromDomain(item)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "parent_id"}, {Name: "child_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
		}).
		Create(model).Error; err != nil {
		return err
	}

	var stored models.BundleItemModel
	if err := r.db.WithContext(ctx).
		Where("parent_id = ? AND child_id = ?", item.ParentID, item.ChildID).
		First(&stored).Error; err != nil {
		return translateError(err)
	}
	item.ID = stored.ID
	return nil
}

// Delete removes an edge
func (r *GormBundleItemRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.BundleItemModel{}, "id = ?", id).Error
}

var _ integration.BundleItemRepository = (*GormBundleItemRepository)(nil)

// ---------------------------------------------------------------------------
// Pending bundle links
// ---------------------------------------------------------------------------

// GormPendingBundleLinkRepository implements PendingBundleLinkRepository using GORM
type GormPendingBundleLinkRepository struct {
	db *gorm.DB
}

// NewGormPendingBundleLinkRepository creates a new GormPendingBundleLinkRepository
func NewGormPendingBundleLinkRepository(db *gorm.DB) *GormPendingBundleLinkRepository {
	return &GormPendingBundleLinkRepository{db: db}
}

// FindPendingByParent returns unresolved links declared by a bundle
func (r *GormPendingBundleLinkRepository) FindPendingByParent(ctx context.Context, parentID uuid.UUID) ([]*integration.PendingBundleLink, error) {
	var linkModels []models.PendingBundleLinkModel
	if err := r.db.WithContext(ctx).
		Where("parent_id = ? AND status = ?", parentID, integration.PendingLinkStatusPending).
		Order("created_at ASC").
		Find(&linkModels).Error; err != nil {
		return nil, err
	}
	return toPendingLinks(linkModels), nil
}

// FindPendingMatching returns unresolved links of a tenant matching the SKU or any external ID
func (r *GormPendingBundleLinkRepository) FindPendingMatching(ctx context.Context, tenantID uuid.UUID, sku string, externalIDs []string) ([]*integration.PendingBundleLink, error) {
	if sku == "" && len(externalIDs) == 0 {
		return []*integration.PendingBundleLink{}, nil
	}

	match := r.db
	switch {
	case sku != "" && len(externalIDs) > 0:
		match = match.Where("child_sku = ?", sku).Or("child_external_id IN ?", externalIDs)
	case sku != "":
		match = match.Where("child_sku = ?", sku)
	default:
		match = match.Where("child_external_id IN ?", externalIDs)
	}

	var linkModels []models.PendingBundleLinkModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("status = ?", integration.PendingLinkStatusPending).
		Where(match).
		Order("created_at ASC").
		Find(&linkModels).Error; err != nil {
		return nil, err
	}
	return toPendingLinks(linkModels), nil
}

// Save inserts or updates a link
func (r *GormPendingBundleLinkRepository) Save(ctx context.Context, link *integration.PendingBundleLink) error {
	model := &models.PendingBundleLinkModel{}
	model.FromDomain(link)
	return r.db.WithContext(ctx).Save(model).Error
}

// Delete removes a link
func (r *GormPendingBundleLinkRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.PendingBundleLinkModel{}, "id = ?", id).Error
}

func toPendingLinks(linkModels []models.PendingBundleLinkModel) []*integration.PendingBundleLink {
	links := make([]*integration.PendingBundleLink, len(linkModels))
	for i := range linkModels {
		links[i] = linkModels[i].ToDomain()
	}
	return links
}

var _ integration.PendingBundleLinkRepository = (*GormPendingBundleLinkRepository)(nil)
