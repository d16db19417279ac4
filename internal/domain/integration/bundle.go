package integration

import (
	"context"
	"strings"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// BundleComponent
// ---------------------------------------------------------------------------

// BundleComponent is one declared child of a bundle as received from a channel
type BundleComponent struct {
	ExternalID string `json:"external_id,omitempty"`
	SKU        string `json:"sku,omitempty"`
	Quantity   int    `json:"quantity"`
}

// Validate checks that the component can be resolved and has a positive quantity
func (c BundleComponent) Validate() error {
	if strings.TrimSpace(c.ExternalID) == "" && strings.TrimSpace(c.SKU) == "" {
		return ErrBundleComponentInvalid
	}
	if c.Quantity < 1 {
		return ErrBundleInvalidQuantity
	}
	return nil
}

// Key identifies the component's candidate child
func (c BundleComponent) Key() string {
	if c.ExternalID != "" {
		return "ext:" + c.ExternalID
	}
	return "sku:" + c.SKU
}

// ---------------------------------------------------------------------------
// BundleItem
// ---------------------------------------------------------------------------

// BundleItem is a parent → child composition edge
type BundleItem struct {
	shared.BaseEntity
	TenantID uuid.UUID
	ParentID uuid.UUID
	ChildID  uuid.UUID
	Quantity int
}

// NewBundleItem validates the edge invariants that need no storage lookups
func NewBundleItem(parent, child *SyncEntity, quantity int, now time.Time) (*BundleItem, error) {
	if parent.ID == child.ID {
		return nil, ErrBundleSelfReference
	}
	if parent.TenantID != child.TenantID {
		return nil, ErrBundleTenantMismatch
	}
	if quantity < 1 {
		return nil, ErrBundleInvalidQuantity
	}
	return &BundleItem{
		BaseEntity: shared.NewBaseEntityAt(now),
		TenantID:   parent.TenantID,
		ParentID:   parent.ID,
		ChildID:    child.ID,
		Quantity:   quantity,
	}, nil
}

// ---------------------------------------------------------------------------
// PendingBundleLink
// ---------------------------------------------------------------------------

// PendingLinkStatus is the state of a deferred bundle edge
type PendingLinkStatus string

const (
	PendingLinkStatusPending  PendingLinkStatus = "pending"
	PendingLinkStatusResolved PendingLinkStatus = "resolved"
)

// PendingBundleLink is a bundle edge whose child is not known locally yet
type PendingBundleLink struct {
	shared.BaseEntity
	TenantID        uuid.UUID
	ParentID        uuid.UUID
	ChannelID       *uuid.UUID
	ChildExternalID string
	ChildSKU        string
	Quantity        int
	Status          PendingLinkStatus
	ResolvedChildID *uuid.UUID
	ResolvedAt      *time.Time
}

// NewPendingBundleLink creates a pending edge for an unresolved component
func NewPendingBundleLink(parent *SyncEntity, channelID *uuid.UUID, c BundleComponent, now time.Time) (*PendingBundleLink, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &PendingBundleLink{
		BaseEntity:      shared.NewBaseEntityAt(now),
		TenantID:        parent.TenantID,
		ParentID:        parent.ID,
		ChannelID:       channelID,
		ChildExternalID: strings.TrimSpace(c.ExternalID),
		ChildSKU:        strings.TrimSpace(c.SKU),
		Quantity:        c.Quantity,
		Status:          PendingLinkStatusPending,
	}, nil
}

// Component returns the declaration this link was created from
func (p *PendingBundleLink) Component() BundleComponent {
	return BundleComponent{ExternalID: p.ChildExternalID, SKU: p.ChildSKU, Quantity: p.Quantity}
}

// Resolve marks the link as converted into a BundleItem
func (p *PendingBundleLink) Resolve(childID uuid.UUID, now time.Time) {
	p.Status = PendingLinkStatusResolved
	p.ResolvedChildID = &childID
	p.ResolvedAt = &now
	p.UpdatedAt = now
}

// ---------------------------------------------------------------------------
// Bundle Repository Interfaces
// ---------------------------------------------------------------------------

// BundleItemRepository persists composition edges
type BundleItemRepository interface {
	// FindByParent returns the children of a bundle
	FindByParent(ctx context.Context, parentID uuid.UUID) ([]*BundleItem, error)

	// HasChildren reports whether the entity is itself a bundle
	HasChildren(ctx context.Context, entityID uuid.UUID) (bool, error)

	// IsChild reports whether the entity is a component of some bundle
	IsChild(ctx context.Context, entityID uuid.UUID) (bool, error)

	// Upsert inserts the edge or updates the quantity of the existing (parent, child) edge
	Upsert(ctx context.Context, item *BundleItem) error

	// Delete removes an edge
	Delete(ctx context.Context, id uuid.UUID) error
}

// PendingBundleLinkRepository persists deferred edges
type PendingBundleLinkRepository interface {
	// FindPendingByParent returns unresolved links declared by a bundle
	FindPendingByParent(ctx context.Context, parentID uuid.UUID) ([]*PendingBundleLink, error)

	// FindPendingMatching returns unresolved links of a tenant whose candidate SKU equals
	// sku or whose candidate external ID is one of externalIDs
	FindPendingMatching(ctx context.Context, tenantID uuid.UUID, sku string, externalIDs []string) ([]*PendingBundleLink, error)

	// Save inserts or updates a link
	Save(ctx context.Context, link *PendingBundleLink) error

	// Delete removes a link
	Delete(ctx context.Context, id uuid.UUID) error
}
