package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldOwnershipRegistry_OwnerOf(t *testing.T) {
	r := DefaultFieldOwnershipRegistry()

	assert.Equal(t, FieldClassShared, r.OwnerOf("name"))
	assert.Equal(t, FieldClassShared, r.OwnerOf(" SKU "))
	assert.Equal(t, FieldClassCommerce, r.OwnerOf("price"))
	assert.Equal(t, FieldClassStock, r.OwnerOf("available"))
	assert.Equal(t, FieldClassStock, r.OwnerOf("reserved"))
	assert.Equal(t, FieldClassOperations, r.OwnerOf("tracking_number"))

	t.Run("Unregistered fields belong to operations", func(t *testing.T) {
		assert.Equal(t, FieldClassOperations, r.OwnerOf("warehouse_bin"))
	})
}

func TestFieldOwnershipRegistry_WithOverrides(t *testing.T) {
	base := DefaultFieldOwnershipRegistry()
	r := base.WithOverrides(map[string]FieldClass{
		"price":        FieldClassShared,
		"warehouse_id": FieldClassStock,
		"broken":       FieldClass("bogus"),
	})

	assert.Equal(t, FieldClassShared, r.OwnerOf("price"))
	assert.Equal(t, FieldClassStock, r.OwnerOf("warehouse_id"))
	assert.Equal(t, FieldClassOperations, r.OwnerOf("broken"))

	// base is untouched
	assert.Equal(t, FieldClassCommerce, base.OwnerOf("price"))
}

func TestFieldOwnershipRegistry_FieldsOf(t *testing.T) {
	r := DefaultFieldOwnershipRegistry()
	assert.Equal(t, []string{"available", "incoming", "on_hand", "reserved"}, r.FieldsOf(FieldClassStock))
	assert.True(t, r.IsStockField("on_hand"))
	assert.False(t, r.IsStockField("name"))
}
