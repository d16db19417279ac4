package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// JSON column helpers
// ---------------------------------------------------------------------------

// encodeFields serializes a field map for a jsonb column
func encodeFields(fields integration.Fields) string {
	if len(fields) == 0 {
		return "{}"
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// decodeFields parses a jsonb column, keeping numbers as json.Number so that
// decimal quantities survive the round trip without float rounding
func decodeFields(raw string) integration.Fields {
	fields := integration.Fields{}
	if raw == "" {
		return fields
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return integration.Fields{}
	}
	return fields
}

func encodeJSON(v any, empty string) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return empty
	}
	return string(data)
}

// ---------------------------------------------------------------------------
// SyncEntityModel
// ---------------------------------------------------------------------------

// SyncEntityModel is the persistence model for the SyncEntity aggregate.
type SyncEntityModel struct {
	TenantAggregateModel
	Kind           integration.EntityKind `gorm:"type:varchar(20);not null"`
	SKU            string                 `gorm:"column:sku;type:varchar(100);index"`
	FieldsJSON     string                 `gorm:"column:fields;type:jsonb;not null"`
	SyncStatus     integration.SyncStatus `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	LastUpdatedBy  integration.Origin     `gorm:"type:varchar(20);not null"`
	Checksum       string                 `gorm:"type:varchar(64)"`
	Active         bool                   `gorm:"not null;default:true"`
	ConflictJSON   *string                `gorm:"column:conflict_fields;type:jsonb"`
	ConflictOrigin integration.Origin     `gorm:"type:varchar(20)"`
	ConflictAt     *time.Time
}

// TableName returns the table name for GORM
func (SyncEntityModel) TableName() string {
	return "sync_entities"
}

// ToDomain converts the persistence model to a domain SyncEntity
func (m *SyncEntityModel) ToDomain() *integration.SyncEntity {
	e := &integration.SyncEntity{
		Kind:           m.Kind,
		SKU:            m.SKU,
		Fields:         decodeFields(m.FieldsJSON),
		SyncStatus:     m.SyncStatus,
		LastUpdatedBy:  m.LastUpdatedBy,
		Checksum:       m.Checksum,
		Active:         m.Active,
		ConflictOrigin: m.ConflictOrigin,
		ConflictAt:     m.ConflictAt,
	}
	m.PopulateTenantAggregateRoot(&e.TenantAggregateRoot)
	if m.ConflictJSON != nil {
		e.ConflictFields = decodeFields(*m.ConflictJSON)
	}
	return e
}

// FromDomain populates the persistence model from a domain SyncEntity
func (m *SyncEntityModel) FromDomain(e *integration.SyncEntity) {
	m.FromDomainTenantAggregateRoot(e.TenantAggregateRoot)
	m.Kind = e.Kind
	m.SKU = e.SKU
	m.FieldsJSON = encodeFields(e.Fields)
	m.SyncStatus = e.SyncStatus
	m.LastUpdatedBy = e.LastUpdatedBy
	m.Checksum = e.Checksum
	m.Active = e.Active
	m.ConflictJSON = nil
	if e.ConflictFields != nil {
		raw := encodeFields(e.ConflictFields)
		m.ConflictJSON = &raw
	}
	m.ConflictOrigin = e.ConflictOrigin
	m.ConflictAt = e.ConflictAt
}

// SyncEntityModelFromDomain creates a new persistence model from a domain SyncEntity
func SyncEntityModelFromDomain(e *integration.SyncEntity) *SyncEntityModel {
	m := &SyncEntityModel{}
	m.FromDomain(e)
	return m
}

// ---------------------------------------------------------------------------
// ExternalLinkModel
// ---------------------------------------------------------------------------

// ExternalLinkModel is the persistence model for ExternalLink.
// The (entity_id, channel_id) pair is unique.
type ExternalLinkModel struct {
	BaseModel
	TenantID         uuid.UUID              `gorm:"type:uuid;not null;index:idx_external_link_tenant_ext,priority:1"`
	EntityID         uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_external_link_entity_channel,priority:1"`
	ChannelID        uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_external_link_entity_channel,priority:2;index:idx_external_link_channel_ext,priority:1"`
	ExternalID       string                 `gorm:"type:varchar(255);index:idx_external_link_channel_ext,priority:2;index:idx_external_link_tenant_ext,priority:2"`
	SyncStatus       integration.SyncStatus `gorm:"type:varchar(20);not null;default:'PENDING'"`
	LastSyncAt       *time.Time
	LastSyncChecksum string `gorm:"type:varchar(64)"`
	LastError        string `gorm:"type:text"`
	LastErrorAt      *time.Time
	Active           bool `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (ExternalLinkModel) TableName() string {
	return "external_links"
}

// ToDomain converts the persistence model to a domain ExternalLink
func (m *ExternalLinkModel) ToDomain() *integration.ExternalLink {
	return &integration.ExternalLink{
		BaseEntity:       m.BaseModel.ToDomain(),
		TenantID:         m.TenantID,
		EntityID:         m.EntityID,
		ChannelID:        m.ChannelID,
		ExternalID:       m.ExternalID,
		SyncStatus:       m.SyncStatus,
		LastSyncAt:       m.LastSyncAt,
		LastSyncChecksum: m.LastSyncChecksum,
		LastError:        m.LastError,
		LastErrorAt:      m.LastErrorAt,
		Active:           m.Active,
	}
}

// FromDomain populates the persistence model from a domain ExternalLink
func (m *ExternalLinkModel) FromDomain(l *integration.ExternalLink) {
	m.FromDomainBaseEntity(l.BaseEntity)
	m.TenantID = l.TenantID
	m.EntityID = l.EntityID
	m.ChannelID = l.ChannelID
	m.ExternalID = l.ExternalID
	m.SyncStatus = l.SyncStatus
	m.LastSyncAt = l.LastSyncAt
	m.LastSyncChecksum = l.LastSyncChecksum
	m.LastError = l.LastError
	m.LastErrorAt = l.LastErrorAt
	m.Active = l.Active
}

// ExternalLinkModelFromDomain creates a new persistence model from a domain ExternalLink
func ExternalLinkModelFromDomain(l *integration.ExternalLink) *ExternalLinkModel {
	m := &ExternalLinkModel{}
	m.FromDomain(l)
	return m
}

// ---------------------------------------------------------------------------
// ChannelModel
// ---------------------------------------------------------------------------

// ChannelModel is the persistence model for a tenant's channel
type ChannelModel struct {
	BaseModel
	TenantID            uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:idx_channel_tenant_code,priority:1"`
	Code                string             `gorm:"type:varchar(50);not null;uniqueIndex:idx_channel_tenant_code,priority:2"`
	Name                string             `gorm:"type:varchar(100);not null"`
	Origin              integration.Origin `gorm:"type:varchar(20);not null"`
	Provider            string             `gorm:"type:varchar(50);not null"`
	BaseURL             string             `gorm:"type:varchar(500)"`
	APIKey              string             `gorm:"type:varchar(500)"`
	APISecret           string             `gorm:"type:varchar(500)"`
	Enabled             bool               `gorm:"not null;default:true;index"`
	PollingEnabled      bool               `gorm:"not null;default:false"`
	PollIntervalSeconds int64              `gorm:"not null;default:300"`
	LastPolledAt        *time.Time
	DisabledReason      string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (ChannelModel) TableName() string {
	return "sync_channels"
}

// ToDomain converts the persistence model to a domain Channel
func (m *ChannelModel) ToDomain() *integration.Channel {
	return &integration.Channel{
		BaseEntity:     m.BaseModel.ToDomain(),
		TenantID:       m.TenantID,
		Code:           m.Code,
		Name:           m.Name,
		Origin:         m.Origin,
		Provider:       m.Provider,
		BaseURL:        m.BaseURL,
		APIKey:         m.APIKey,
		APISecret:      m.APISecret,
		Enabled:        m.Enabled,
		PollingEnabled: m.PollingEnabled,
		PollInterval:   time.Duration(m.PollIntervalSeconds) * time.Second,
		LastPolledAt:   m.LastPolledAt,
		DisabledReason: m.DisabledReason,
	}
}

// FromDomain populates the persistence model from a domain Channel
func (m *ChannelModel) FromDomain(ch *integration.Channel) {
	m.FromDomainBaseEntity(ch.BaseEntity)
	m.TenantID = ch.TenantID
	m.Code = ch.Code
	m.Name = ch.Name
	m.Origin = ch.Origin
	m.Provider = ch.Provider
	m.BaseURL = ch.BaseURL
	m.APIKey = ch.APIKey
	m.APISecret = ch.APISecret
	m.Enabled = ch.Enabled
	m.PollingEnabled = ch.PollingEnabled
	m.PollIntervalSeconds = int64(ch.PollInterval / time.Second)
	m.LastPolledAt = ch.LastPolledAt
	m.DisabledReason = ch.DisabledReason
}

// ChannelModelFromDomain creates a new persistence model from a domain Channel
func ChannelModelFromDomain(ch *integration.Channel) *ChannelModel {
	m := &ChannelModel{}
	m.FromDomain(ch)
	return m
}

// ---------------------------------------------------------------------------
// SyncJobModel
// ---------------------------------------------------------------------------

// SyncJobModel is the persistence model for a queued propagation job.
// The claim index serves the due-job scan ordered by priority.
type SyncJobModel struct {
	BaseModel
	TenantID      uuid.UUID                `gorm:"type:uuid;not null;index"`
	EntityID      uuid.UUID                `gorm:"type:uuid;not null;index:idx_sync_job_entity,priority:1"`
	Operation     integration.JobOperation `gorm:"type:varchar(20);not null"`
	TriggerOrigin integration.Origin       `gorm:"type:varchar(20);not null"`
	ChannelID     *uuid.UUID               `gorm:"type:uuid"`
	Priority      int                      `gorm:"not null;default:0;index:idx_sync_job_claim,priority:3"`
	Status        integration.JobStatus    `gorm:"type:varchar(20);not null;default:'pending';index:idx_sync_job_claim,priority:1"`
	Attempts      int                      `gorm:"not null;default:0"`
	MaxRetries    int                      `gorm:"not null;default:5"`
	ScheduledFor  time.Time                `gorm:"not null;index:idx_sync_job_claim,priority:2"`
	ClaimedAt     *time.Time
	CompletedAt   *time.Time
	LastError     string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (SyncJobModel) TableName() string {
	return "sync_jobs"
}

// ToDomain converts the persistence model to a domain SyncJob
func (m *SyncJobModel) ToDomain() *integration.SyncJob {
	return &integration.SyncJob{
		BaseEntity:    m.BaseModel.ToDomain(),
		TenantID:      m.TenantID,
		EntityID:      m.EntityID,
		Operation:     m.Operation,
		TriggerOrigin: m.TriggerOrigin,
		ChannelID:     m.ChannelID,
		Priority:      m.Priority,
		Status:        m.Status,
		Attempts:      m.Attempts,
		MaxRetries:    m.MaxRetries,
		ScheduledFor:  m.ScheduledFor,
		ClaimedAt:     m.ClaimedAt,
		CompletedAt:   m.CompletedAt,
		LastError:     m.LastError,
	}
}

// FromDomain populates the persistence model from a domain SyncJob
func (m *SyncJobModel) FromDomain(j *integration.SyncJob) {
	m.FromDomainBaseEntity(j.BaseEntity)
	m.TenantID = j.TenantID
	m.EntityID = j.EntityID
	m.Operation = j.Operation
	m.TriggerOrigin = j.TriggerOrigin
	m.ChannelID = j.ChannelID
	m.Priority = j.Priority
	m.Status = j.Status
	m.Attempts = j.Attempts
	m.MaxRetries = j.MaxRetries
	m.ScheduledFor = j.ScheduledFor
	m.ClaimedAt = j.ClaimedAt
	m.CompletedAt = j.CompletedAt
	m.LastError = j.LastError
}

// SyncJobModelFromDomain creates a new persistence model from a domain SyncJob
func SyncJobModelFromDomain(j *integration.SyncJob) *SyncJobModel {
	m := &SyncJobModel{}
	m.FromDomain(j)
	return m
}

// ---------------------------------------------------------------------------
// SyncLogModel
// ---------------------------------------------------------------------------

// SyncLogModel is the persistence model for an append-only sync log entry
type SyncLogModel struct {
	ID            uuid.UUID              `gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID              `gorm:"type:uuid;not null;index"`
	EntityID      uuid.UUID              `gorm:"type:uuid;not null;index:idx_sync_log_entity_action,priority:1"`
	Action        integration.SyncAction `gorm:"type:varchar(30);not null;index:idx_sync_log_entity_action,priority:2"`
	Origin        integration.Origin     `gorm:"type:varchar(20);not null"`
	Target        string                 `gorm:"type:varchar(50)"`
	ChannelID     *uuid.UUID             `gorm:"type:uuid"`
	ExternalID    string                 `gorm:"type:varchar(255)"`
	ChangedFields string                 `gorm:"type:jsonb"`
	Targets       string                 `gorm:"type:jsonb"`
	Conflicts     string                 `gorm:"type:jsonb"`
	Success       bool                   `gorm:"not null"`
	ErrorMessage  string                 `gorm:"type:text"`
	CreatedAt     time.Time              `gorm:"not null;index:idx_sync_log_entity_action,priority:3"`
}

// TableName returns the table name for GORM
func (SyncLogModel) TableName() string {
	return "sync_logs"
}

// ToDomain converts the persistence model to a domain SyncLogEntry
func (m *SyncLogModel) ToDomain() *integration.SyncLogEntry {
	e := &integration.SyncLogEntry{
		ID:           m.ID,
		TenantID:     m.TenantID,
		EntityID:     m.EntityID,
		Action:       m.Action,
		Origin:       m.Origin,
		Target:       m.Target,
		ChannelID:    m.ChannelID,
		ExternalID:   m.ExternalID,
		Success:      m.Success,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
	}
	if m.ChangedFields != "" {
		_ = json.Unmarshal([]byte(m.ChangedFields), &e.ChangedFields)
	}
	if m.Targets != "" {
		_ = json.Unmarshal([]byte(m.Targets), &e.Targets)
	}
	if m.Conflicts != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(m.Conflicts)))
		dec.UseNumber()
		_ = dec.Decode(&e.Conflicts)
	}
	return e
}

// FromDomain populates the persistence model from a domain SyncLogEntry
func (m *SyncLogModel) FromDomain(e *integration.SyncLogEntry) {
	m.ID = e.ID
	m.TenantID = e.TenantID
	m.EntityID = e.EntityID
	m.Action = e.Action
	m.Origin = e.Origin
	m.Target = e.Target
	m.ChannelID = e.ChannelID
	m.ExternalID = e.ExternalID
	m.ChangedFields = encodeJSON(e.ChangedFields, "[]")
	m.Targets = encodeJSON(e.Targets, "[]")
	m.Conflicts = encodeJSON(e.Conflicts, "[]")
	m.Success = e.Success
	m.ErrorMessage = e.ErrorMessage
	m.CreatedAt = e.CreatedAt
}

// SyncLogModelFromDomain creates a new persistence model from a domain SyncLogEntry
func SyncLogModelFromDomain(e *integration.SyncLogEntry) *SyncLogModel {
	m := &SyncLogModel{}
	m.FromDomain(e)
	return m
}

// ---------------------------------------------------------------------------
// Bundle models
// ---------------------------------------------------------------------------

// BundleItemModel is the persistence model for a bundle composition edge.
// A child appears at most once per parent.
type BundleItemModel struct {
	BaseModel
	TenantID uuid.UUID `gorm:"type:uuid;not null;index"`
	ParentID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_bundle_item_parent_child,priority:1"`
	ChildID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_bundle_item_parent_child,priority:2;index"`
	Quantity int       `gorm:"not null;default:1"`
}

// TableName returns the table name for GORM
func (BundleItemModel) TableName() string {
	return "bundle_items"
}

// ToDomain converts the persistence model to a domain BundleItem
func (m *BundleItemModel) ToDomain() *integration.BundleItem {
	return &integration.BundleItem{
		BaseEntity: m.BaseModel.ToDomain(),
		TenantID:   m.TenantID,
		ParentID:   m.ParentID,
		ChildID:    m.ChildID,
		Quantity:   m.Quantity,
	}
}

// FromDomain populates the persistence model from a domain BundleItem
func (m *BundleItemModel) FromDomain(b *integration.BundleItem) {
	m.FromDomainBaseEntity(b.BaseEntity)
	m.TenantID = b.TenantID
	m.ParentID = b.ParentID
	m.ChildID = b.ChildID
	m.Quantity = b.Quantity
}

// PendingBundleLinkModel is the persistence model for an unresolved bundle edge
type PendingBundleLinkModel struct {
	BaseModel
	TenantID        uuid.UUID                     `gorm:"type:uuid;not null;index:idx_pending_bundle_tenant_status,priority:1"`
	ParentID        uuid.UUID                     `gorm:"type:uuid;not null;index"`
	ChannelID       *uuid.UUID                    `gorm:"type:uuid"`
	ChildExternalID string                        `gorm:"type:varchar(255)"`
	ChildSKU        string                        `gorm:"column:child_sku;type:varchar(100)"`
	Quantity        int                           `gorm:"not null;default:1"`
	Status          integration.PendingLinkStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_pending_bundle_tenant_status,priority:2"`
	ResolvedChildID *uuid.UUID                    `gorm:"type:uuid"`
	ResolvedAt      *time.Time
}

// TableName returns the table name for GORM
func (PendingBundleLinkModel) TableName() string {
	return "pending_bundle_links"
}

// ToDomain converts the persistence model to a domain PendingBundleLink
func (m *PendingBundleLinkModel) ToDomain() *integration.PendingBundleLink {
	return &integration.PendingBundleLink{
		BaseEntity:      m.BaseModel.ToDomain(),
		TenantID:        m.TenantID,
		ParentID:        m.ParentID,
		ChannelID:       m.ChannelID,
		ChildExternalID: m.ChildExternalID,
		ChildSKU:        m.ChildSKU,
		Quantity:        m.Quantity,
		Status:          m.Status,
		ResolvedChildID: m.ResolvedChildID,
		ResolvedAt:      m.ResolvedAt,
	}
}

// FromDomain populates the persistence model from a domain PendingBundleLink
func (m *PendingBundleLinkModel) FromDomain(p *integration.PendingBundleLink) {
	m.FromDomainBaseEntity(p.BaseEntity)
	m.TenantID = p.TenantID
	m.ParentID = p.ParentID
	m.ChannelID = p.ChannelID
	m.ChildExternalID = p.ChildExternalID
	m.ChildSKU = p.ChildSKU
	m.Quantity = p.Quantity
	m.Status = p.Status
	m.ResolvedChildID = p.ResolvedChildID
	m.ResolvedAt = p.ResolvedAt
}

// AllModels lists every model the schema is built from, in dependency order
func AllModels() []any {
	return []any{
		&ChannelModel{},
		&SyncEntityModel{},
		&ExternalLinkModel{},
		&SyncJobModel{},
		&SyncLogModel{},
		&BundleItemModel{},
		&PendingBundleLinkModel{},
	}
}
