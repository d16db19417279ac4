package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Sync Errors
// ---------------------------------------------------------------------------

var (
	// Validation errors
	ErrInvalidOrigin           = errors.New("integration: invalid origin")
	ErrInvalidEntityKind       = errors.New("integration: invalid entity kind")
	ErrInvalidTenantID         = errors.New("integration: invalid tenant ID")
	ErrInvalidEntityID         = errors.New("integration: invalid entity ID")
	ErrInvalidChannelID        = errors.New("integration: invalid channel ID")
	ErrInvalidExternalID       = errors.New("integration: invalid external ID")
	ErrInvalidJobOperation     = errors.New("integration: invalid job operation")
	ErrJobChannelRequired      = errors.New("integration: job operation requires a channel")
	ErrInvalidRetryPolicy      = errors.New("integration: invalid retry policy")
	ErrInvalidConflictStrategy = errors.New("integration: invalid conflict resolution strategy")
	ErrChannelInvalidOrigin    = errors.New("integration: channel origin must be an external system")
	ErrChannelInvalidCode      = errors.New("integration: invalid channel code")
	ErrOriginChannelMismatch   = errors.New("integration: origin does not match channel")
	ErrEmptyChange             = errors.New("integration: change carries no fields")

	// State errors
	ErrEntityInConflict    = errors.New("integration: entity is in conflict and excluded from propagation")
	ErrEntityInactive      = errors.New("integration: entity is deactivated")
	ErrEntityNotInConflict = errors.New("integration: entity has no conflict to resolve")
	ErrNoParkedChange      = errors.New("integration: no refused remote change is parked on the entity")

	// Concurrency errors
	ErrTargetBusy  = errors.New("integration: another worker is syncing this entity and target")
	ErrJobNotOwned = errors.New("integration: job is no longer held by this worker")

	// Stock errors
	ErrStockVerificationFailed = errors.New("integration: inventory read-back does not match pushed level")
	ErrStockLevelMissing       = errors.New("integration: entity carries no stock level")

	// Bundle errors
	ErrBundleSelfReference    = errors.New("integration: bundle cannot contain itself")
	ErrBundleNested           = errors.New("integration: nested bundles are not allowed")
	ErrBundleTenantMismatch   = errors.New("integration: bundle parent and child belong to different tenants")
	ErrBundleInvalidQuantity  = errors.New("integration: bundle quantity must be at least 1")
	ErrBundleComponentInvalid = errors.New("integration: bundle component needs an external ID or SKU")

	// Channel errors
	ErrChannelUnavailable     = errors.New("integration: channel temporarily unavailable")
	ErrChannelTimeout         = errors.New("integration: channel request timed out")
	ErrChannelRateLimited     = errors.New("integration: channel rate limited")
	ErrChannelAuthFailed      = errors.New("integration: channel authentication failed")
	ErrChannelRequestRejected = errors.New("integration: channel rejected the request")
	ErrChannelInvalidResponse = errors.New("integration: invalid channel response")
	ErrChannelDisabled        = errors.New("integration: channel is disabled")
	ErrAdapterNotFound        = errors.New("integration: no adapter registered for channel provider")
)

// DuplicateEntityError is returned by adapters when the remote system already
// holds the entity. ExternalID carries the remote identifier to link against.
type DuplicateEntityError struct {
	ChannelID  uuid.UUID
	ExternalID string
	Message    string
}

// Error implements the error interface
func (e *DuplicateEntityError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("integration: entity already exists remotely as %q: %s", e.ExternalID, e.Message)
	}
	return fmt.Sprintf("integration: entity already exists remotely as %q", e.ExternalID)
}

// NewDuplicateEntityError creates a duplicate error carrying the conflicting external ID
func NewDuplicateEntityError(channelID uuid.UUID, externalID, message string) *DuplicateEntityError {
	return &DuplicateEntityError{ChannelID: channelID, ExternalID: externalID, Message: message}
}

// AsDuplicateEntity extracts a DuplicateEntityError from an error chain
func AsDuplicateEntity(err error) (*DuplicateEntityError, bool) {
	var dup *DuplicateEntityError
	if errors.As(err, &dup) && dup.ExternalID != "" {
		return dup, true
	}
	return nil, false
}

// IsValidationError reports whether err is malformed input that must never be enqueued
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		shared.ErrInvalidInput,
		ErrInvalidOrigin,
		ErrInvalidEntityKind,
		ErrInvalidTenantID,
		ErrInvalidEntityID,
		ErrInvalidChannelID,
		ErrInvalidExternalID,
		ErrInvalidJobOperation,
		ErrJobChannelRequired,
		ErrInvalidConflictStrategy,
		ErrOriginChannelMismatch,
		ErrEmptyChange,
		ErrBundleSelfReference,
		ErrBundleNested,
		ErrBundleTenantMismatch,
		ErrBundleInvalidQuantity,
		ErrBundleComponentInvalid,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsAuthError reports whether err means the channel credentials are expired or revoked
func IsAuthError(err error) bool {
	return errors.Is(err, ErrChannelAuthFailed)
}

// IsRetryable reports whether a failed job should be rescheduled.
// Unknown errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if IsValidationError(err) || IsAuthError(err) {
		return false
	}
	for _, permanent := range []error{
		ErrChannelRequestRejected,
		ErrChannelDisabled,
		ErrAdapterNotFound,
		ErrEntityInConflict,
		ErrEntityInactive,
		shared.ErrNotFound,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}
