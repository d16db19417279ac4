package integration

import (
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Inbound DTOs
// ---------------------------------------------------------------------------

// IncomingChange is a change notification received from an external system
type IncomingChange struct {
	Origin         integration.Origin            `json:"origin" validate:"required,oneof=COMMERCE FULFILLMENT"`
	TenantID       uuid.UUID                     `json:"tenant_id" validate:"required"`
	ChannelID      uuid.UUID                     `json:"channel_id" validate:"required"`
	ExternalID     string                        `json:"external_id" validate:"required,max=200"`
	Kind           integration.EntityKind        `json:"kind,omitempty" validate:"omitempty,oneof=PRODUCT ORDER RETURN"`
	Fields         integration.Fields            `json:"fields" validate:"required,min=1"`
	WebhookEventID string                        `json:"webhook_event_id,omitempty" validate:"max=200"`
	Components     []integration.BundleComponent `json:"components,omitempty"`
}

// IncomingChangeResult is the outcome of processing an incoming change
type IncomingChangeResult struct {
	Accepted       bool                        `json:"accepted"`
	EntityID       uuid.UUID                   `json:"entity_id"`
	Created        bool                        `json:"created"`
	ChangedFields  []string                    `json:"changed_fields,omitempty"`
	Conflicts      []integration.FieldConflict `json:"conflicts,omitempty"`
	Suppressed     bool                        `json:"suppressed"`
	SuppressReason string                      `json:"suppress_reason,omitempty"`
	Duplicate      bool                        `json:"duplicate"`
	JobsEnqueued   int                         `json:"jobs_enqueued"`
}

// LocalChange is a write made on the operational hub itself.
// A nil EntityID creates a new entity.
type LocalChange struct {
	TenantID   uuid.UUID                     `json:"tenant_id" validate:"required"`
	EntityID   *uuid.UUID                    `json:"entity_id,omitempty"`
	Kind       integration.EntityKind        `json:"kind,omitempty" validate:"omitempty,oneof=PRODUCT ORDER RETURN"`
	Fields     integration.Fields            `json:"fields" validate:"required,min=1"`
	Components []integration.BundleComponent `json:"components,omitempty"`
}

// ---------------------------------------------------------------------------
// Queue DTOs
// ---------------------------------------------------------------------------

// EnqueueJobRequest describes a job to enqueue
type EnqueueJobRequest struct {
	TenantID      uuid.UUID                `json:"tenant_id" validate:"required"`
	EntityID      uuid.UUID                `json:"entity_id" validate:"required"`
	Operation     integration.JobOperation `json:"operation" validate:"required,oneof=push_entity push_channel push_stock"`
	TriggerOrigin integration.Origin       `json:"trigger_origin" validate:"required,oneof=COMMERCE FULFILLMENT OPERATIONS"`
	ChannelID     *uuid.UUID               `json:"channel_id,omitempty"`
	Priority      int                      `json:"priority" validate:"gte=0,lte=100"`
	MaxRetries    int                      `json:"max_retries,omitempty" validate:"gte=0,lte=50"`
	ScheduledFor  time.Time                `json:"scheduled_for,omitempty"`
}

func (r EnqueueJobRequest) toSpec() integration.SyncJobSpec {
	return integration.SyncJobSpec{
		TenantID:      r.TenantID,
		EntityID:      r.EntityID,
		Operation:     r.Operation,
		TriggerOrigin: r.TriggerOrigin,
		ChannelID:     r.ChannelID,
		Priority:      r.Priority,
		MaxRetries:    r.MaxRetries,
		ScheduledFor:  r.ScheduledFor,
	}
}

// ---------------------------------------------------------------------------
// Admin DTOs
// ---------------------------------------------------------------------------

// ResolveConflictRequest asks for a CONFLICT entity to be resolved
type ResolveConflictRequest struct {
	EntityID    uuid.UUID          `json:"entity_id" validate:"required"`
	Strategy    string             `json:"strategy" validate:"required,oneof=accept-local accept-remote merge"`
	MergeFields integration.Fields `json:"merge_fields,omitempty" validate:"required_if=Strategy merge"`
}

// JobSummary represents a job in queue status responses
type JobSummary struct {
	ID           uuid.UUID                `json:"id"`
	Operation    integration.JobOperation `json:"operation"`
	ChannelID    *uuid.UUID               `json:"channel_id,omitempty"`
	Status       integration.JobStatus    `json:"status"`
	Priority     int                      `json:"priority"`
	Attempts     int                      `json:"attempts"`
	MaxRetries   int                      `json:"max_retries"`
	ScheduledFor time.Time                `json:"scheduled_for"`
	LastError    string                   `json:"last_error,omitempty"`
}

// LinkSummary represents an external link in queue status responses
type LinkSummary struct {
	ChannelID  uuid.UUID              `json:"channel_id"`
	ExternalID string                 `json:"external_id,omitempty"`
	SyncStatus integration.SyncStatus `json:"sync_status"`
	LastSyncAt *time.Time             `json:"last_sync_at,omitempty"`
	LastError  string                 `json:"last_error,omitempty"`
}

// QueueStatusResponse is the sync state of one entity
type QueueStatusResponse struct {
	EntityID   uuid.UUID                     `json:"entity_id"`
	SyncStatus integration.SyncStatus        `json:"sync_status"`
	Counts     integration.QueueStatusCounts `json:"counts"`
	RecentJobs []JobSummary                  `json:"recent_jobs"`
	Links      []LinkSummary                 `json:"links"`
}

// ToJobSummary converts a job to its summary
func ToJobSummary(j *integration.SyncJob) JobSummary {
	return JobSummary{
		ID:           j.ID,
		Operation:    j.Operation,
		ChannelID:    j.ChannelID,
		Status:       j.Status,
		Priority:     j.Priority,
		Attempts:     j.Attempts,
		MaxRetries:   j.MaxRetries,
		ScheduledFor: j.ScheduledFor,
		LastError:    j.LastError,
	}
}

// ToLinkSummary converts a link to its summary
func ToLinkSummary(l *integration.ExternalLink) LinkSummary {
	return LinkSummary{
		ChannelID:  l.ChannelID,
		ExternalID: l.ExternalID,
		SyncStatus: l.SyncStatus,
		LastSyncAt: l.LastSyncAt,
		LastError:  l.LastError,
	}
}
