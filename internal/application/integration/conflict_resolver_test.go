package integration

import (
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolverEntity(t *testing.T, fields integration.Fields, origin integration.Origin, at time.Time) *integration.SyncEntity {
	t.Helper()
	e, err := integration.NewSyncEntity(testTenant, integration.EntityKindProduct, fields, origin, at)
	require.NoError(t, err)
	return e
}

func TestConflictResolver_StockFromCommerceAlwaysRejected(t *testing.T) {
	r := NewConflictResolver(nil, DefaultConflictWindow)

	existingStates := []*integration.SyncEntity{
		nil,
		newResolverEntity(t, integration.Fields{"available": 5}, integration.OriginOperations, testNow.Add(-time.Hour)),
		newResolverEntity(t, integration.Fields{"available": 5}, integration.OriginCommerce, testNow.Add(-time.Second)),
		newResolverEntity(t, integration.Fields{"name": "A"}, integration.OriginFulfillment, testNow),
	}
	for _, stockField := range []string{"available", "reserved", "on_hand", "incoming"} {
		for _, existing := range existingStates {
			res := r.Resolve(existing, integration.Fields{stockField: 10}, integration.OriginCommerce, testNow)
			assert.NotContains(t, res.Apply, stockField)
			require.Len(t, res.Conflicts, 1)
			assert.Equal(t, integration.ConflictRejected, res.Conflicts[0].Resolution)
			assert.Equal(t, integration.ReasonStockWarehouseAuthoritative, res.Conflicts[0].Reason)
			assert.False(t, res.Refused)
		}
	}
}

func TestConflictResolver_NameAndAvailableScenario(t *testing.T) {
	r := NewConflictResolver(nil, DefaultConflictWindow)
	existing := newResolverEntity(t, integration.Fields{"name": "A", "available": 5}, integration.OriginOperations, testNow.Add(-time.Hour))

	res := r.Resolve(existing, integration.Fields{"name": "B", "available": 10}, integration.OriginCommerce, testNow)

	assert.Equal(t, integration.Fields{"name": "B"}, res.Apply)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "available", res.Conflicts[0].Field)
	assert.Equal(t, "stock is warehouse-authoritative", res.Conflicts[0].Reason)
	assert.Equal(t, 5, res.Conflicts[0].ExistingValue)
	assert.Equal(t, 10, res.Conflicts[0].IncomingValue)
	assert.True(t, res.HasRejections())
}

func TestConflictResolver_Ownership(t *testing.T) {
	r := NewConflictResolver(nil, DefaultConflictWindow)

	tests := []struct {
		name     string
		origin   integration.Origin
		field    string
		accepted bool
	}{
		{"commerce writes commerce field", integration.OriginCommerce, "description", true},
		{"fulfillment cannot write commerce field", integration.OriginFulfillment, "description", false},
		{"operations cannot write commerce field", integration.OriginOperations, "price", false},
		{"commerce cannot write operations field", integration.OriginCommerce, "cost", false},
		{"fulfillment writes operations field", integration.OriginFulfillment, "tracking_number", true},
		{"fulfillment writes stock", integration.OriginFulfillment, "available", true},
		{"operations writes stock", integration.OriginOperations, "on_hand", true},
		{"unknown field is operations owned", integration.OriginCommerce, "internal_flag", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(nil, integration.Fields{tt.field: "x"}, tt.origin, testNow)
			if tt.accepted {
				assert.Contains(t, res.Apply, tt.field)
				assert.Empty(t, res.Conflicts)
				return
			}
			assert.NotContains(t, res.Apply, tt.field)
			require.Len(t, res.Conflicts, 1)
			assert.Equal(t, integration.ConflictRejected, res.Conflicts[0].Resolution)
		})
	}
}

func TestConflictResolver_SharedFieldWithinWindow(t *testing.T) {
	r := NewConflictResolver(nil, 5*time.Minute)

	t.Run("flagged when another origin wrote recently", func(t *testing.T) {
		existing := newResolverEntity(t, integration.Fields{"name": "A"}, integration.OriginOperations, testNow.Add(-time.Minute))
		res := r.Resolve(existing, integration.Fields{"name": "B"}, integration.OriginCommerce, testNow)
		assert.Equal(t, "B", res.Apply["name"])
		require.Len(t, res.Conflicts, 1)
		assert.Equal(t, integration.ConflictAccepted, res.Conflicts[0].Resolution)
		assert.Equal(t, integration.OriginOperations, res.Conflicts[0].ExistingOrigin)
		assert.False(t, res.HasRejections())
	})

	t.Run("not flagged outside the window", func(t *testing.T) {
		existing := newResolverEntity(t, integration.Fields{"name": "A"}, integration.OriginOperations, testNow.Add(-10*time.Minute))
		res := r.Resolve(existing, integration.Fields{"name": "B"}, integration.OriginCommerce, testNow)
		assert.Equal(t, "B", res.Apply["name"])
		assert.Empty(t, res.Conflicts)
	})

	t.Run("not flagged for the same origin", func(t *testing.T) {
		existing := newResolverEntity(t, integration.Fields{"name": "A"}, integration.OriginCommerce, testNow.Add(-time.Minute))
		res := r.Resolve(existing, integration.Fields{"name": "B"}, integration.OriginCommerce, testNow)
		assert.Empty(t, res.Conflicts)
	})

	t.Run("flagged when another origin rewrites the same value", func(t *testing.T) {
		existing := newResolverEntity(t, integration.Fields{"name": "A"}, integration.OriginOperations, testNow.Add(-time.Minute))
		res := r.Resolve(existing, integration.Fields{"name": "A"}, integration.OriginCommerce, testNow)
		require.Len(t, res.Conflicts, 1)
		assert.Equal(t, integration.ConflictAccepted, res.Conflicts[0].Resolution)
		assert.Equal(t, integration.ReasonConcurrentWrite, res.Conflicts[0].Reason)
		assert.Equal(t, "A", res.Apply["name"])
	})
}

func TestConflictResolver_ManualReview(t *testing.T) {
	r := NewConflictResolver(nil, 5*time.Minute, WithManualReviewFields("name"))
	existing := newResolverEntity(t, integration.Fields{"name": "A"}, integration.OriginOperations, testNow.Add(-time.Minute))

	res := r.Resolve(existing, integration.Fields{"name": "B", "description": "d"}, integration.OriginCommerce, testNow)
	assert.True(t, res.Refused)
	assert.Empty(t, res.Apply)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, integration.ConflictManual, res.Conflicts[0].Resolution)

	same := r.Resolve(existing, integration.Fields{"name": "A"}, integration.OriginCommerce, testNow)
	assert.False(t, same.Refused)
	require.Len(t, same.Conflicts, 1)
	assert.Equal(t, integration.ConflictAccepted, same.Conflicts[0].Resolution)

	approved := r.ResolveApproved(existing, integration.Fields{"name": "B", "description": "d"}, integration.OriginCommerce, testNow)
	assert.False(t, approved.Refused)
	assert.Equal(t, integration.Fields{"name": "B", "description": "d"}, approved.Apply)
}
