package integration

import (
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// FieldClass is the ownership class of a synchronizable field
// ---------------------------------------------------------------------------

// FieldClass is the ownership class of a synchronizable field
type FieldClass string

const (
	FieldClassCommerce   FieldClass = "commerce"
	FieldClassOperations FieldClass = "operations"
	FieldClassShared     FieldClass = "shared"
	FieldClassStock      FieldClass = "stock"
)

// IsValid checks if the class is a known value
func (c FieldClass) IsValid() bool {
	switch c {
	case FieldClassCommerce, FieldClassOperations, FieldClassShared, FieldClassStock:
		return true
	}
	return false
}

// Well-known field names
const (
	FieldSKU       = "sku"
	FieldName      = "name"
	FieldAvailable = "available"
	FieldReserved  = "reserved"
	FieldOnHand    = "on_hand"
	FieldIncoming  = "incoming"
	FieldPrice     = "price"
)

// ---------------------------------------------------------------------------
// FieldOwnershipRegistry
// ---------------------------------------------------------------------------

// FieldOwnershipRegistry classifies every synchronizable field.
// It is immutable after construction and safe for concurrent use.
type FieldOwnershipRegistry struct {
	classes map[string]FieldClass
}

// defaultFieldClasses is the authority model shipped with the engine
var defaultFieldClasses = map[FieldClass][]string{
	FieldClassCommerce: {
		"description", "seo_title", "seo_description", "handle", "tags",
		"images", FieldPrice, "compare_at_price", "published",
	},
	FieldClassOperations: {
		"cost", "weight", "barcode", "hs_code", "country_of_origin", "supplier",
		"reorder_point", "fulfillment_status", "tracking_number", "carrier",
		"return_status", "refund_amount",
	},
	FieldClassShared: {
		FieldName, FieldSKU, "status", "vendor", "product_type", "notes",
		"customer_email", "shipping_address",
	},
	FieldClassStock: {
		FieldAvailable, FieldReserved, FieldOnHand, FieldIncoming,
	},
}

// NewFieldOwnershipRegistry creates a registry from a field → class map
func NewFieldOwnershipRegistry(classes map[string]FieldClass) *FieldOwnershipRegistry {
	r := &FieldOwnershipRegistry{classes: make(map[string]FieldClass, len(classes))}
	for field, class := range classes {
		if !class.IsValid() {
			continue
		}
		r.classes[normalizeField(field)] = class
	}
	return r
}

// DefaultFieldOwnershipRegistry returns the built-in classification
func DefaultFieldOwnershipRegistry() *FieldOwnershipRegistry {
	classes := make(map[string]FieldClass)
	for class, fields := range defaultFieldClasses {
		for _, f := range fields {
			classes[f] = class
		}
	}
	return NewFieldOwnershipRegistry(classes)
}

// WithOverrides returns a copy of the registry with the given classes applied on top
func (r *FieldOwnershipRegistry) WithOverrides(overrides map[string]FieldClass) *FieldOwnershipRegistry {
	merged := make(map[string]FieldClass, len(r.classes)+len(overrides))
	for f, c := range r.classes {
		merged[f] = c
	}
	for f, c := range overrides {
		merged[f] = c
	}
	return NewFieldOwnershipRegistry(merged)
}

// OwnerOf returns the ownership class of a field.
// Unregistered fields belong to the operational hub.
func (r *FieldOwnershipRegistry) OwnerOf(field string) FieldClass {
	if class, ok := r.classes[normalizeField(field)]; ok {
		return class
	}
	return FieldClassOperations
}

// FieldsOf returns the registered fields of a class, sorted
func (r *FieldOwnershipRegistry) FieldsOf(class FieldClass) []string {
	fields := make([]string, 0)
	for f, c := range r.classes {
		if c == class {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)
	return fields
}

// IsStockField reports whether the field is stock-owned
func (r *FieldOwnershipRegistry) IsStockField(field string) bool {
	return r.OwnerOf(field) == FieldClassStock
}

func normalizeField(field string) string {
	return strings.ToLower(strings.TrimSpace(field))
}
