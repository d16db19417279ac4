package integration

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Origin identifies the system that produced a change
// ---------------------------------------------------------------------------

// Origin identifies the system that produced a change
type Origin string

const (
	// OriginCommerce is the commerce front end
	OriginCommerce Origin = "COMMERCE"
	// OriginFulfillment is the warehouse/fulfillment backend
	OriginFulfillment Origin = "FULFILLMENT"
	// OriginOperations is the operational hub running this engine
	OriginOperations Origin = "OPERATIONS"
)

// AllOrigins returns every origin in a stable order
func AllOrigins() []Origin {
	return []Origin{OriginCommerce, OriginFulfillment, OriginOperations}
}

// ParseOrigin converts a string into an Origin, ignoring case
func ParseOrigin(s string) (Origin, error) {
	o := Origin(strings.ToUpper(strings.TrimSpace(s)))
	if !o.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrigin, s)
	}
	return o, nil
}

// IsValid checks if the origin is a known value
func (o Origin) IsValid() bool {
	switch o {
	case OriginCommerce, OriginFulfillment, OriginOperations:
		return true
	}
	return false
}

// String returns the string representation
func (o Origin) String() string {
	return string(o)
}

// DisplayName returns a human-readable name
func (o Origin) DisplayName() string {
	switch o {
	case OriginCommerce:
		return "Commerce front end"
	case OriginFulfillment:
		return "Fulfillment backend"
	case OriginOperations:
		return "Operational hub"
	}
	return string(o)
}

// IsExternal reports whether the origin is a system reached through a channel
func (o Origin) IsExternal() bool {
	switch o {
	case OriginCommerce, OriginFulfillment:
		return true
	case OriginOperations:
		return false
	}
	return false
}

// IsCommerceClass reports whether the origin writes commerce-owned fields
func (o Origin) IsCommerceClass() bool {
	switch o {
	case OriginCommerce:
		return true
	case OriginFulfillment, OriginOperations:
		return false
	}
	return false
}

// CanWrite reports whether the origin is authorized to author fields of the class
func (o Origin) CanWrite(class FieldClass) bool {
	if !o.IsValid() {
		return false
	}
	switch class {
	case FieldClassCommerce:
		return o.IsCommerceClass()
	case FieldClassOperations, FieldClassStock:
		return !o.IsCommerceClass()
	case FieldClassShared:
		return true
	}
	return false
}
