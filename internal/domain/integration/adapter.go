package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EntityPayload is the canonical state sent to a channel
type EntityPayload struct {
	EntityID   uuid.UUID  `json:"entity_id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	Kind       EntityKind `json:"kind"`
	SKU        string     `json:"sku,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
	Fields     Fields     `json:"fields"`
	Checksum   string     `json:"checksum"`
}

// IsCreate reports whether the payload creates a new remote entity
func (p EntityPayload) IsCreate() bool {
	return p.ExternalID == ""
}

// RemoteEntity is an entity as returned by a channel
type RemoteEntity struct {
	ExternalID string
	SKU        string
	Kind       EntityKind
	Fields     Fields
	Stock      *StockLevel
	UpdatedAt  time.Time
}

// ChannelAdapter is implemented once per external system.
// Every method must honour ctx cancellation and deadlines.
type ChannelAdapter interface {
	// UpsertEntity creates the entity when payload has no external ID, else updates it.
	// It returns the external ID. An existing remote duplicate is reported as *DuplicateEntityError.
	UpsertEntity(ctx context.Context, channel *Channel, payload EntityPayload) (string, error)

	// FetchEntitiesSince returns entities changed at or after since
	FetchEntitiesSince(ctx context.Context, channel *Channel, since time.Time) ([]RemoteEntity, error)

	// SetInventoryLevel writes the stock level of a remote entity
	SetInventoryLevel(ctx context.Context, channel *Channel, externalID string, level StockLevel) error

	// GetInventoryLevel reads the stock level of a remote entity
	GetInventoryLevel(ctx context.Context, channel *Channel, externalID string) (StockLevel, error)
}

// ChannelAdapterRegistry resolves the adapter serving a channel
type ChannelAdapterRegistry interface {
	AdapterFor(channel *Channel) (ChannelAdapter, error)
}
