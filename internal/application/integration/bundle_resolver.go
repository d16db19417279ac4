package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompositionResult summarises one ApplyComposition call
type CompositionResult struct {
	Linked  int `json:"linked"`
	Pending int `json:"pending"`
	Removed int `json:"removed"`
	Skipped int `json:"skipped"`
}

// BundleLinkResolver maintains bundle composition edges. Children that are not
// known locally yet are parked as pending links and resolved when they appear,
// so parents and children may arrive in either order.
type BundleLinkResolver struct {
	entities integration.SyncEntityReader
	links    integration.ExternalLinkReader
	items    integration.BundleItemRepository
	pending  integration.PendingBundleLinkRepository
	logger   *zap.Logger
	clock    Clock
}

// NewBundleLinkResolver creates a new BundleLinkResolver
func NewBundleLinkResolver(repos Repositories, logger *zap.Logger, clock Clock) *BundleLinkResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BundleLinkResolver{
		entities: repos.Entities,
		links:    repos.Links,
		items:    repos.BundleItems,
		pending:  repos.PendingLinks,
		logger:   logger,
		clock:    clock,
	}
}

// ApplyComposition replaces the composition of parent with the declared components.
// channelID scopes external-ID lookups to the channel the declaration came from.
func (r *BundleLinkResolver) ApplyComposition(ctx context.Context, parent *integration.SyncEntity, channelID *uuid.UUID, components []integration.BundleComponent) (*CompositionResult, error) {
	result := &CompositionResult{}
	now := r.clock.now()

	if len(components) > 0 {
		isChild, err := r.items.IsChild(ctx, parent.ID)
		if err != nil {
			return nil, fmt.Errorf("check parent nesting: %w", err)
		}
		if isChild {
			return nil, integration.ErrBundleNested
		}
	}

	// the last declaration of a component wins
	declared := make(map[string]integration.BundleComponent, len(components))
	order := make([]string, 0, len(components))
	for _, c := range components {
		if err := c.Validate(); err != nil {
			r.logger.Warn("Skipping invalid bundle component",
				zap.String("parent_id", parent.ID.String()),
				zap.String("component", c.Key()),
				zap.Error(err),
			)
			result.Skipped++
			continue
		}
		if _, seen := declared[c.Key()]; !seen {
			order = append(order, c.Key())
		}
		declared[c.Key()] = c
	}

	keptChildren := make(map[uuid.UUID]struct{})
	keptPending := make(map[string]struct{})

	for _, key := range order {
		c := declared[key]
		child, err := r.resolveChild(ctx, parent.TenantID, channelID, c)
		if err != nil {
			return nil, err
		}

		if child == nil {
			if err := r.upsertPending(ctx, parent, channelID, c, now); err != nil {
				return nil, err
			}
			keptPending[key] = struct{}{}
			result.Pending++
			continue
		}

		item, err := r.newItem(ctx, parent, child, c.Quantity)
		if err != nil {
			r.logger.Warn("Skipping bundle component",
				zap.String("parent_id", parent.ID.String()),
				zap.String("child_id", child.ID.String()),
				zap.Error(err),
			)
			result.Skipped++
			continue
		}
		if err := r.items.Upsert(ctx, item); err != nil {
			return nil, fmt.Errorf("upsert bundle item: %w", err)
		}
		keptChildren[child.ID] = struct{}{}
		result.Linked++
	}

	existing, err := r.items.FindByParent(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("load bundle items: %w", err)
	}
	for _, item := range existing {
		if _, ok := keptChildren[item.ChildID]; ok {
			continue
		}
		if err := r.items.Delete(ctx, item.ID); err != nil {
			return nil, fmt.Errorf("delete bundle item: %w", err)
		}
		result.Removed++
	}

	pendingLinks, err := r.pending.FindPendingByParent(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("load pending bundle links: %w", err)
	}
	for _, p := range pendingLinks {
		if _, ok := keptPending[p.Component().Key()]; ok {
			continue
		}
		if err := r.pending.Delete(ctx, p.ID); err != nil {
			return nil, fmt.Errorf("delete pending bundle link: %w", err)
		}
		result.Removed++
	}

	return result, nil
}

// ResolvePendingFor converts pending links waiting for entity into bundle items.
// It returns the number of links resolved.
func (r *BundleLinkResolver) ResolvePendingFor(ctx context.Context, entity *integration.SyncEntity) (int, error) {
	links, err := r.links.FindActiveByEntity(ctx, entity.ID)
	if err != nil {
		return 0, fmt.Errorf("load links: %w", err)
	}
	externalIDs := make([]string, 0, len(links))
	for _, l := range links {
		if l.HasRemote() {
			externalIDs = append(externalIDs, l.ExternalID)
		}
	}
	if entity.SKU == "" && len(externalIDs) == 0 {
		return 0, nil
	}

	candidates, err := r.pending.FindPendingMatching(ctx, entity.TenantID, entity.SKU, externalIDs)
	if err != nil {
		return 0, fmt.Errorf("find pending bundle links: %w", err)
	}

	now := r.clock.now()
	resolvedParents := make(map[uuid.UUID]struct{})
	resolved := 0

	for _, p := range candidates {
		if !matchesPending(p, entity, links) {
			continue
		}

		if _, done := resolvedParents[p.ParentID]; done || r.alreadyLinked(ctx, p.ParentID, entity.ID) {
			// another pending link already produced this (parent, child) edge
			if err := r.pending.Delete(ctx, p.ID); err != nil {
				return resolved, fmt.Errorf("delete duplicate pending link: %w", err)
			}
			continue
		}

		parent, err := r.entities.FindByID(ctx, p.ParentID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return resolved, fmt.Errorf("load bundle parent: %w", err)
		}
		item, err := r.newItem(ctx, parent, entity, p.Quantity)
		if err != nil {
			r.logger.Warn("Cannot resolve pending bundle link",
				zap.String("pending_id", p.ID.String()),
				zap.String("parent_id", p.ParentID.String()),
				zap.String("child_id", entity.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if err := r.items.Upsert(ctx, item); err != nil {
			return resolved, fmt.Errorf("upsert bundle item: %w", err)
		}

		p.Resolve(entity.ID, now)
		if err := r.pending.Save(ctx, p); err != nil {
			return resolved, fmt.Errorf("mark pending link resolved: %w", err)
		}
		resolvedParents[p.ParentID] = struct{}{}
		resolved++

		r.logger.Info("Pending bundle link resolved",
			zap.String("parent_id", p.ParentID.String()),
			zap.String("child_id", entity.ID.String()),
			zap.Int("quantity", p.Quantity),
		)
	}
	return resolved, nil
}

// newItem builds an edge after checking the nesting invariant. A child with
// unresolved pending components counts as a bundle.
func (r *BundleLinkResolver) newItem(ctx context.Context, parent, child *integration.SyncEntity, quantity int) (*integration.BundleItem, error) {
	item, err := integration.NewBundleItem(parent, child, quantity, r.clock.now())
	if err != nil {
		return nil, err
	}
	parentIsChild, err := r.items.IsChild(ctx, parent.ID)
	if err != nil {
		return nil, err
	}
	if parentIsChild {
		return nil, integration.ErrBundleNested
	}
	hasChildren, err := r.items.HasChildren(ctx, child.ID)
	if err != nil {
		return nil, err
	}
	if hasChildren {
		return nil, integration.ErrBundleNested
	}
	waiting, err := r.pending.FindPendingByParent(ctx, child.ID)
	if err != nil {
		return nil, err
	}
	if len(waiting) > 0 {
		return nil, integration.ErrBundleNested
	}
	return item, nil
}

func (r *BundleLinkResolver) alreadyLinked(ctx context.Context, parentID, childID uuid.UUID) bool {
	items, err := r.items.FindByParent(ctx, parentID)
	if err != nil {
		return false
	}
	for _, item := range items {
		if item.ChildID == childID {
			return true
		}
	}
	return false
}

// resolveChild finds the local entity a component refers to, by external link
// first and SKU second. It returns nil when the child is unknown.
func (r *BundleLinkResolver) resolveChild(ctx context.Context, tenantID uuid.UUID, channelID *uuid.UUID, c integration.BundleComponent) (*integration.SyncEntity, error) {
	if c.ExternalID != "" {
		entityID, err := r.entityByExternalID(ctx, tenantID, channelID, c.ExternalID)
		if err != nil {
			return nil, err
		}
		if entityID != uuid.Nil {
			entity, err := r.entities.FindByID(ctx, entityID)
			if err == nil && entity.Active {
				return entity, nil
			}
			if err != nil && !isNotFound(err) {
				return nil, err
			}
		}
	}
	if c.SKU != "" {
		entity, err := r.entities.FindBySKU(ctx, tenantID, c.SKU)
		if err == nil {
			return entity, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	return nil, nil
}

func (r *BundleLinkResolver) entityByExternalID(ctx context.Context, tenantID uuid.UUID, channelID *uuid.UUID, externalID string) (uuid.UUID, error) {
	if channelID != nil {
		link, err := r.links.FindByChannelAndExternalID(ctx, *channelID, externalID)
		if err == nil {
			return link.EntityID, nil
		}
		if !isNotFound(err) {
			return uuid.Nil, err
		}
		return uuid.Nil, nil
	}
	links, err := r.links.FindByExternalID(ctx, tenantID, externalID)
	if err != nil {
		return uuid.Nil, err
	}
	if len(links) == 0 {
		return uuid.Nil, nil
	}
	return links[0].EntityID, nil
}

func (r *BundleLinkResolver) upsertPending(ctx context.Context, parent *integration.SyncEntity, channelID *uuid.UUID, c integration.BundleComponent, now time.Time) error {
	existing, err := r.pending.FindPendingByParent(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("load pending bundle links: %w", err)
	}
	for _, p := range existing {
		if p.Component().Key() != c.Key() {
			continue
		}
		if p.Quantity == c.Quantity {
			return nil
		}
		p.Quantity = c.Quantity
		p.UpdatedAt = now
		return r.pending.Save(ctx, p)
	}

	link, err := integration.NewPendingBundleLink(parent, channelID, c, now)
	if err != nil {
		return err
	}
	if err := r.pending.Save(ctx, link); err != nil {
		return fmt.Errorf("save pending bundle link: %w", err)
	}
	return nil
}

// matchesPending reports whether entity is the child a pending link is waiting for
func matchesPending(p *integration.PendingBundleLink, entity *integration.SyncEntity, links []*integration.ExternalLink) bool {
	if p.TenantID != entity.TenantID || p.ParentID == entity.ID {
		return false
	}
	if p.ChildExternalID != "" {
		for _, l := range links {
			if l.ExternalID != p.ChildExternalID {
				continue
			}
			if p.ChannelID == nil || *p.ChannelID == l.ChannelID {
				return true
			}
		}
	}
	return p.ChildSKU != "" && p.ChildSKU == entity.SKU
}
