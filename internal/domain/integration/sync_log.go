package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SyncAction is what a log entry records
type SyncAction string

const (
	SyncActionPush           SyncAction = "push"
	SyncActionPull           SyncAction = "pull"
	SyncActionLocalWrite     SyncAction = "local_write"
	SyncActionConflict       SyncAction = "conflict"
	SyncActionEchoSuppressed SyncAction = "echo_suppressed"
	SyncActionFailed         SyncAction = "failed"
	SyncActionStockUpdate    SyncAction = "stock_update"
	SyncActionResolve        SyncAction = "resolve"
)

// TargetOutcome is the result of pushing to one channel
type TargetOutcome struct {
	ChannelID  uuid.UUID `json:"channel_id"`
	ExternalID string    `json:"external_id,omitempty"`
	Success    bool      `json:"success"`
	Skipped    bool      `json:"skipped,omitempty"`
	Healed     bool      `json:"healed,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// SyncLogEntry is an append-only audit record
type SyncLogEntry struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	EntityID      uuid.UUID
	Action        SyncAction
	Origin        Origin
	Target        string
	ChannelID     *uuid.UUID
	ExternalID    string
	ChangedFields []string
	Targets       []TargetOutcome
	Conflicts     []FieldConflict
	Success       bool
	ErrorMessage  string
	CreatedAt     time.Time
}

// NewSyncLogEntry creates a log entry stamped at now
func NewSyncLogEntry(tenantID, entityID uuid.UUID, action SyncAction, origin Origin, now time.Time) *SyncLogEntry {
	return &SyncLogEntry{
		ID:        uuid.New(),
		TenantID:  tenantID,
		EntityID:  entityID,
		Action:    action,
		Origin:    origin,
		Success:   true,
		CreatedAt: now,
	}
}

// WithChannel sets the single channel the entry is about
func (e *SyncLogEntry) WithChannel(channel *Channel, externalID string) *SyncLogEntry {
	if channel != nil {
		id := channel.ID
		e.ChannelID = &id
		e.Target = channel.Code
	}
	e.ExternalID = externalID
	return e
}

// WithError marks the entry as failed
func (e *SyncLogEntry) WithError(err error) *SyncLogEntry {
	if err != nil {
		e.Success = false
		e.ErrorMessage = err.Error()
	}
	return e
}

// PushedTo reports whether the entry records a successful push of externalID to the channel
func (e *SyncLogEntry) PushedTo(channelID uuid.UUID, externalID string) bool {
	if e.Action != SyncActionPush {
		return false
	}
	for _, t := range e.Targets {
		if t.ChannelID == channelID && t.ExternalID == externalID && t.Success && !t.Skipped {
			return true
		}
	}
	return false
}

// SyncLogRepository persists the audit trail. Entries are never updated.
type SyncLogRepository interface {
	// Append stores a new entry
	Append(ctx context.Context, entry *SyncLogEntry) error

	// FindRecentByEntity returns entries of an action for an entity created at or after since
	FindRecentByEntity(ctx context.Context, entityID uuid.UUID, action SyncAction, since time.Time) ([]*SyncLogEntry, error)

	// FindByEntity returns the latest entries of an entity, newest first
	FindByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]*SyncLogEntry, error)
}
