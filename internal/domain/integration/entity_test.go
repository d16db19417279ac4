package integration

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewSyncEntity(t *testing.T) {
	tenantID := uuid.New()

	t.Run("Valid entity", func(t *testing.T) {
		e, err := NewSyncEntity(tenantID, EntityKindProduct, Fields{"sku": "X-1", "name": "A"}, OriginCommerce, testNow)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, e.ID)
		assert.Equal(t, "X-1", e.SKU)
		assert.Equal(t, SyncStatusPending, e.SyncStatus)
		assert.Equal(t, OriginCommerce, e.LastUpdatedBy)
		assert.Equal(t, 1, e.Version)
		assert.True(t, e.Active)
		assert.Equal(t, testNow, e.UpdatedAt)
	})

	t.Run("Invalid tenant", func(t *testing.T) {
		_, err := NewSyncEntity(uuid.Nil, EntityKindProduct, nil, OriginCommerce, testNow)
		assert.ErrorIs(t, err, ErrInvalidTenantID)
	})

	t.Run("Invalid kind", func(t *testing.T) {
		_, err := NewSyncEntity(tenantID, EntityKind("INVOICE"), nil, OriginCommerce, testNow)
		assert.ErrorIs(t, err, ErrInvalidEntityKind)
	})

	t.Run("Invalid origin", func(t *testing.T) {
		_, err := NewSyncEntity(tenantID, EntityKindOrder, nil, Origin(""), testNow)
		assert.ErrorIs(t, err, ErrInvalidOrigin)
	})
}

func TestSyncEntity_ApplyFields(t *testing.T) {
	e, err := NewSyncEntity(uuid.New(), EntityKindProduct, Fields{"name": "A", "available": 5}, OriginOperations, testNow)
	require.NoError(t, err)
	e.MarkSynced()

	t.Run("Unchanged values stamp nothing", func(t *testing.T) {
		changed := e.ApplyFields(Fields{"name": "A", "available": float64(5)}, OriginCommerce, testNow.Add(time.Minute))
		assert.Empty(t, changed)
		assert.Equal(t, OriginOperations, e.LastUpdatedBy)
		assert.Equal(t, testNow, e.UpdatedAt)
		assert.Equal(t, SyncStatusSynced, e.SyncStatus)
	})

	t.Run("Changed values are stamped", func(t *testing.T) {
		later := testNow.Add(2 * time.Minute)
		changed := e.ApplyFields(Fields{"name": "B", "sku": "X-2"}, OriginCommerce, later)
		assert.Equal(t, []string{"name", "sku"}, changed)
		assert.Equal(t, "X-2", e.SKU)
		assert.Equal(t, OriginCommerce, e.LastUpdatedBy)
		assert.Equal(t, later, e.UpdatedAt)
		assert.Equal(t, SyncStatusPending, e.SyncStatus)
	})

	t.Run("Conflict status survives writes", func(t *testing.T) {
		e.MarkConflict(Fields{"name": "C"}, OriginCommerce, testNow)
		e.ApplyFields(Fields{"cost": 3}, OriginOperations, testNow.Add(3*time.Minute))
		assert.True(t, e.IsInConflict())
	})
}

func TestSyncEntity_Checksum(t *testing.T) {
	a, _ := NewSyncEntity(uuid.New(), EntityKindProduct, Fields{"name": "A", "sku": "S"}, OriginOperations, testNow)
	b, _ := NewSyncEntity(uuid.New(), EntityKindProduct, Fields{"sku": "S", "name": "A"}, OriginCommerce, testNow)
	assert.Equal(t, a.CurrentChecksum(), b.CurrentChecksum())

	a.MarkSynced()
	assert.Equal(t, a.CurrentChecksum(), a.Checksum)

	a.ApplyFields(Fields{"name": "B"}, OriginOperations, testNow)
	assert.NotEqual(t, a.CurrentChecksum(), a.Checksum)
}

func TestSyncEntity_StockLevel(t *testing.T) {
	e, _ := NewSyncEntity(uuid.New(), EntityKindProduct, Fields{"available": json.Number("10"), "reserved": "2"}, OriginFulfillment, testNow)
	level, ok := e.StockLevel()
	require.True(t, ok)
	assert.True(t, level.Available.Equal(decimal.NewFromInt(10)))
	assert.True(t, level.Reserved.Equal(decimal.NewFromInt(2)))

	none, _ := NewSyncEntity(uuid.New(), EntityKindOrder, Fields{"name": "A"}, OriginFulfillment, testNow)
	_, ok = none.StockLevel()
	assert.False(t, ok)
}

func TestSyncEntity_ConflictLifecycle(t *testing.T) {
	e, _ := NewSyncEntity(uuid.New(), EntityKindProduct, Fields{"name": "A"}, OriginOperations, testNow)

	e.MarkConflict(Fields{"name": "B"}, OriginCommerce, testNow)
	assert.True(t, e.IsInConflict())
	assert.Equal(t, OriginCommerce, e.ConflictOrigin)
	assert.Equal(t, "B", e.ConflictFields["name"])

	e.MarkError()
	assert.Equal(t, SyncStatusConflict, e.SyncStatus)

	e.ClearConflict()
	assert.Equal(t, SyncStatusPending, e.SyncStatus)
	assert.Nil(t, e.ConflictFields)
	assert.Nil(t, e.ConflictAt)
}

func TestSyncEntity_UpdatedWithin(t *testing.T) {
	e, _ := NewSyncEntity(uuid.New(), EntityKindProduct, nil, OriginOperations, testNow)
	assert.True(t, e.UpdatedWithin(30*time.Second, testNow.Add(29*time.Second)))
	assert.False(t, e.UpdatedWithin(30*time.Second, testNow.Add(30*time.Second)))
	assert.False(t, e.UpdatedWithin(0, testNow))
}
