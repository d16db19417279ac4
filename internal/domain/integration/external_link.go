package integration

import (
	"context"
	"strings"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

// ExternalLink maps an entity to its identity on one channel.
// There is at most one link per (entity, channel).
type ExternalLink struct {
	shared.BaseEntity
	TenantID         uuid.UUID
	EntityID         uuid.UUID
	ChannelID        uuid.UUID
	ExternalID       string
	SyncStatus       SyncStatus
	LastSyncAt       *time.Time
	LastSyncChecksum string
	LastError        string
	LastErrorAt      *time.Time
	Active           bool
}

// NewExternalLink creates a link. externalID may be empty when the entity has
// not been created on the channel yet.
func NewExternalLink(tenantID, entityID, channelID uuid.UUID, externalID string, now time.Time) (*ExternalLink, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if entityID == uuid.Nil {
		return nil, ErrInvalidEntityID
	}
	if channelID == uuid.Nil {
		return nil, ErrInvalidChannelID
	}
	return &ExternalLink{
		BaseEntity: shared.NewBaseEntityAt(now),
		TenantID:   tenantID,
		EntityID:   entityID,
		ChannelID:  channelID,
		ExternalID: strings.TrimSpace(externalID),
		SyncStatus: SyncStatusPending,
		Active:     true,
	}, nil
}

// HasRemote reports whether the entity exists on the channel
func (l *ExternalLink) HasRemote() bool {
	return l.ExternalID != ""
}

// IsUpToDate reports whether the channel last received exactly this checksum
func (l *ExternalLink) IsUpToDate(checksum string) bool {
	return l.HasRemote() && l.SyncStatus == SyncStatusSynced && checksum != "" && l.LastSyncChecksum == checksum
}

// RecordSyncSuccess records a successful push or pull
func (l *ExternalLink) RecordSyncSuccess(externalID, checksum string, now time.Time) {
	if externalID != "" {
		l.ExternalID = externalID
	}
	l.SyncStatus = SyncStatusSynced
	l.LastSyncAt = &now
	l.LastSyncChecksum = checksum
	l.LastError = ""
	l.LastErrorAt = nil
	l.UpdatedAt = now
}

// RecordSyncFailure records a failed push
func (l *ExternalLink) RecordSyncFailure(errMsg string, now time.Time) {
	l.SyncStatus = SyncStatusError
	l.LastError = errMsg
	l.LastErrorAt = &now
	l.UpdatedAt = now
}

// Deactivate stops propagation to this channel
func (l *ExternalLink) Deactivate(now time.Time) {
	l.Active = false
	l.UpdatedAt = now
}

// ---------------------------------------------------------------------------
// ExternalLink Repository Interfaces
// ---------------------------------------------------------------------------

// ExternalLinkReader defines read operations for links
type ExternalLinkReader interface {
	// FindActiveByEntity returns the active links of an entity
	FindActiveByEntity(ctx context.Context, entityID uuid.UUID) ([]*ExternalLink, error)

	// FindByEntityAndChannel finds the link of an entity on a channel
	FindByEntityAndChannel(ctx context.Context, entityID, channelID uuid.UUID) (*ExternalLink, error)

	// FindByChannelAndExternalID finds the link holding an external ID on a channel
	FindByChannelAndExternalID(ctx context.Context, channelID uuid.UUID, externalID string) (*ExternalLink, error)

	// FindByExternalID finds links with an external ID on any channel of a tenant
	FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) ([]*ExternalLink, error)
}

// ExternalLinkWriter defines write operations for links
type ExternalLinkWriter interface {
	// Save inserts or updates a link.
	// It returns shared.ErrAlreadyExists when another link holds the (entity, channel) pair.
	Save(ctx context.Context, link *ExternalLink) error
}

// ExternalLinkRepository combines read and write operations
type ExternalLinkRepository interface {
	ExternalLinkReader
	ExternalLinkWriter
}
