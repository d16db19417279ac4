package channel

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/erp/syncengine/internal/domain/integration"
)

// Wire types of the generic HTTP channel API

// entityRequest is the body of POST /entities and PUT /entities/{id}
type entityRequest struct {
	EntityID string             `json:"entity_id"`
	Kind     string             `json:"kind"`
	SKU      string             `json:"sku,omitempty"`
	Fields   integration.Fields `json:"fields"`
	Checksum string             `json:"checksum"`
}

// entityResponse is returned by entity writes, including 409 duplicates
type entityResponse struct {
	ExternalID string `json:"external_id"`
	Message    string `json:"message,omitempty"`
}

// remoteEntityDTO is one entity of a GET /entities page
type remoteEntityDTO struct {
	ExternalID string             `json:"external_id"`
	SKU        string             `json:"sku"`
	Kind       string             `json:"kind"`
	Fields     integration.Fields `json:"fields"`
	Stock      *stockDTO          `json:"stock,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// entityPage is the body of GET /entities
type entityPage struct {
	Entities   []remoteEntityDTO `json:"entities"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// stockDTO is the body of GET and PUT /inventory/{id}
type stockDTO struct {
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
}

// errorResponse is the body channels return on failures
type errorResponse struct {
	Message string `json:"message"`
}

func (d remoteEntityDTO) toDomain() integration.RemoteEntity {
	entity := integration.RemoteEntity{
		ExternalID: d.ExternalID,
		SKU:        d.SKU,
		Kind:       integration.EntityKind(d.Kind),
		Fields:     d.Fields,
		UpdatedAt:  d.UpdatedAt,
	}
	if entity.Fields == nil {
		entity.Fields = integration.Fields{}
	}
	if d.Stock != nil {
		entity.Stock = &integration.StockLevel{Available: d.Stock.Available, Reserved: d.Stock.Reserved}
	}
	return entity
}
