package integration

import (
	"fmt"
	"strings"
)

// ConflictResolution is the outcome recorded for a conflicting field
type ConflictResolution string

const (
	// ConflictAccepted means the value was applied but flagged
	ConflictAccepted ConflictResolution = "accepted"
	// ConflictRejected means the value was not applied
	ConflictRejected ConflictResolution = "rejected"
	// ConflictManual means the whole change waits for an operator
	ConflictManual ConflictResolution = "manual"
)

// Conflict reasons
const (
	ReasonStockWarehouseAuthoritative = "stock is warehouse-authoritative"
	ReasonUnauthorizedOrigin          = "origin is not authorized to write this field"
	ReasonConcurrentWrite             = "another origin wrote this field within the conflict window"
	ReasonManualReviewRequired        = "concurrent write requires manual review"
)

// FieldConflict records one per-field decision that was not a plain apply
type FieldConflict struct {
	Field          string             `json:"field"`
	Class          FieldClass         `json:"class"`
	Origin         Origin             `json:"origin"`
	ExistingOrigin Origin             `json:"existing_origin,omitempty"`
	Resolution     ConflictResolution `json:"resolution"`
	Reason         string             `json:"reason"`
	ExistingValue  any                `json:"existing_value,omitempty"`
	IncomingValue  any                `json:"incoming_value,omitempty"`
}

// ConflictStrategy is an operator's choice when resolving a CONFLICT entity
type ConflictStrategy string

const (
	// ConflictStrategyAcceptLocal keeps the hub's values and pushes them out
	ConflictStrategyAcceptLocal ConflictStrategy = "accept-local"
	// ConflictStrategyAcceptRemote applies the parked remote change
	ConflictStrategyAcceptRemote ConflictStrategy = "accept-remote"
	// ConflictStrategyMerge applies operator-supplied values
	ConflictStrategyMerge ConflictStrategy = "merge"
)

// ParseConflictStrategy converts a string into a ConflictStrategy
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	st := ConflictStrategy(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case ConflictStrategyAcceptLocal, ConflictStrategyAcceptRemote, ConflictStrategyMerge:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidConflictStrategy, s)
}
