package integration

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// EntityKind
// ---------------------------------------------------------------------------

// EntityKind is the type of synchronizable record
type EntityKind string

const (
	EntityKindProduct EntityKind = "PRODUCT"
	EntityKindOrder   EntityKind = "ORDER"
	EntityKindReturn  EntityKind = "RETURN"
)

// IsValid checks if the kind is a known value
func (k EntityKind) IsValid() bool {
	switch k {
	case EntityKindProduct, EntityKindOrder, EntityKindReturn:
		return true
	}
	return false
}

// DefaultPriority returns the queue priority for propagation jobs of this kind.
// Orders outrank returns, which outrank catalog changes.
func (k EntityKind) DefaultPriority() int {
	switch k {
	case EntityKindOrder:
		return 10
	case EntityKindReturn:
		return 8
	case EntityKindProduct:
		return 5
	}
	return 0
}

// SupportsStock reports whether the kind carries inventory levels
func (k EntityKind) SupportsStock() bool {
	return k == EntityKindProduct
}

// ---------------------------------------------------------------------------
// SyncStatus
// ---------------------------------------------------------------------------

// SyncStatus is the sync state of an entity or link
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "PENDING"
	SyncStatusSynced   SyncStatus = "SYNCED"
	SyncStatusConflict SyncStatus = "CONFLICT"
	SyncStatusError    SyncStatus = "ERROR"
)

// IsValid checks if the status is a known value
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSynced, SyncStatusConflict, SyncStatusError:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

// Fields is a field name → value map of synchronizable data
type Fields map[string]any

// Clone returns a shallow copy
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns the field names in sorted order
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Only returns the subset of fields whose names are listed
func (f Fields) Only(names []string) Fields {
	out := make(Fields, len(names))
	for _, n := range names {
		if v, ok := f[n]; ok {
			out[n] = v
		}
	}
	return out
}

// Except returns the fields for which drop returns false
func (f Fields) Except(drop func(field string) bool) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if !drop(k) {
			out[k] = v
		}
	}
	return out
}

// String returns a field as a string, or "" when absent
func (f Fields) String(name string) string {
	v, ok := f[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Decimal returns a numeric field as a decimal
func (f Fields) Decimal(name string) (decimal.Decimal, bool) {
	v, ok := f[name]
	if !ok || v == nil {
		return decimal.Zero, false
	}
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case int32:
		return decimal.NewFromInt32(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	}
	return decimal.Zero, false
}

// ValuesEqual compares two field values by their JSON encoding so that
// 5, 5.0 and a decoded float64(5) are the same value
func ValuesEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// ComputeChecksum returns a stable digest of the fields.
// encoding/json sorts map keys, so equal maps always hash equally.
func ComputeChecksum(fields Fields) string {
	data, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ---------------------------------------------------------------------------
// StockLevel
// ---------------------------------------------------------------------------

// StockLevel is an inventory position for one entity on one system
type StockLevel struct {
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
}

// Equal compares two levels numerically
func (s StockLevel) Equal(other StockLevel) bool {
	return s.Available.Equal(other.Available) && s.Reserved.Equal(other.Reserved)
}

// Fields returns the level as stock field values
func (s StockLevel) Fields() Fields {
	return Fields{
		FieldAvailable: json.Number(s.Available.String()),
		FieldReserved:  json.Number(s.Reserved.String()),
	}
}

// String renders the level for logs
func (s StockLevel) String() string {
	return fmt.Sprintf("available=%s reserved=%s", s.Available.String(), s.Reserved.String())
}

// ---------------------------------------------------------------------------
// SyncEntity
// ---------------------------------------------------------------------------

// SyncEntity is the canonical local copy of a product, order or return.
// UpdatedAt tracks the last content change and is not touched by status changes.
type SyncEntity struct {
	shared.TenantAggregateRoot
	Kind          EntityKind
	SKU           string
	Fields        Fields
	SyncStatus    SyncStatus
	LastUpdatedBy Origin
	Checksum      string
	Active        bool

	// ConflictFields holds the refused change while the entity is in CONFLICT
	ConflictFields Fields
	ConflictOrigin Origin
	ConflictAt     *time.Time
}

// NewSyncEntity creates a new entity from a first observed change
func NewSyncEntity(tenantID uuid.UUID, kind EntityKind, fields Fields, origin Origin, now time.Time) (*SyncEntity, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntityKind, kind)
	}
	if !origin.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrigin, origin)
	}
	if fields == nil {
		fields = Fields{}
	}

	e := &SyncEntity{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID, now),
		Kind:                kind,
		Fields:              fields.Clone(),
		SyncStatus:          SyncStatusPending,
		LastUpdatedBy:       origin,
		Active:              true,
	}
	e.SKU = e.Fields.String(FieldSKU)
	return e, nil
}

// CurrentChecksum returns the checksum of the entity's present field values
func (e *SyncEntity) CurrentChecksum() string {
	return ComputeChecksum(e.Fields)
}

// ApplyFields writes the given values and returns the names of fields that changed.
// Nothing is stamped when no value differs.
func (e *SyncEntity) ApplyFields(fields Fields, origin Origin, now time.Time) []string {
	if e.Fields == nil {
		e.Fields = Fields{}
	}
	changed := make([]string, 0, len(fields))
	for _, name := range fields.Keys() {
		incoming := fields[name]
		if existing, ok := e.Fields[name]; ok && ValuesEqual(existing, incoming) {
			continue
		}
		e.Fields[name] = incoming
		changed = append(changed, name)
	}
	if len(changed) == 0 {
		return changed
	}
	if sku := e.Fields.String(FieldSKU); sku != "" {
		e.SKU = sku
	}
	e.LastUpdatedBy = origin
	e.UpdatedAt = now
	if e.SyncStatus != SyncStatusConflict {
		e.SyncStatus = SyncStatusPending
	}
	return changed
}

// UpdatedWithin reports whether the entity content changed within window before now
func (e *SyncEntity) UpdatedWithin(window time.Duration, now time.Time) bool {
	if window <= 0 {
		return false
	}
	return now.Sub(e.UpdatedAt) < window
}

// StockLevel returns the cached inventory level when the entity carries one
func (e *SyncEntity) StockLevel() (StockLevel, bool) {
	available, ok := e.Fields.Decimal(FieldAvailable)
	if !ok {
		return StockLevel{}, false
	}
	reserved, _ := e.Fields.Decimal(FieldReserved)
	return StockLevel{Available: available, Reserved: reserved}, true
}

// MarkSynced records that every target accepted the current state
func (e *SyncEntity) MarkSynced() {
	e.SyncStatus = SyncStatusSynced
	e.Checksum = e.CurrentChecksum()
}

// MarkError records that at least one target failed
func (e *SyncEntity) MarkError() {
	if e.SyncStatus == SyncStatusConflict {
		return
	}
	e.SyncStatus = SyncStatusError
}

// MarkConflict parks a refused change and excludes the entity from propagation
func (e *SyncEntity) MarkConflict(refused Fields, origin Origin, now time.Time) {
	e.SyncStatus = SyncStatusConflict
	e.ConflictFields = refused.Clone()
	e.ConflictOrigin = origin
	e.ConflictAt = &now
}

// IsInConflict reports whether the entity awaits manual resolution
func (e *SyncEntity) IsInConflict() bool {
	return e.SyncStatus == SyncStatusConflict
}

// ClearConflict returns the entity to PENDING after manual resolution
func (e *SyncEntity) ClearConflict() {
	e.SyncStatus = SyncStatusPending
	e.ConflictFields = nil
	e.ConflictOrigin = ""
	e.ConflictAt = nil
}

// Deactivate soft-deletes the entity; links keep pointing at it
func (e *SyncEntity) Deactivate(now time.Time) {
	e.Active = false
	e.UpdatedAt = now
}

// ---------------------------------------------------------------------------
// SyncEntity Repository Interfaces
// ---------------------------------------------------------------------------

// SyncEntityReader defines read operations for entities
type SyncEntityReader interface {
	// FindByID finds an entity by ID
	FindByID(ctx context.Context, id uuid.UUID) (*SyncEntity, error)

	// FindBySKU finds an active entity by SKU within a tenant
	FindBySKU(ctx context.Context, tenantID uuid.UUID, sku string) (*SyncEntity, error)
}

// SyncEntityWriter defines write operations for entities
type SyncEntityWriter interface {
	// Create inserts a new entity
	Create(ctx context.Context, entity *SyncEntity) error

	// Update persists the entity with optimistic locking on Version.
	// It returns shared.ErrConcurrencyConflict when another writer got there first.
	Update(ctx context.Context, entity *SyncEntity) error
}

// SyncEntityRepository combines read and write operations
type SyncEntityRepository interface {
	SyncEntityReader
	SyncEntityWriter
}
