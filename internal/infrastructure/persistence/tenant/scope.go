// Package tenant provides tenant scoping for GORM queries on the sync tables.
//
// Usage:
//
//	db.Scopes(tenant.Scope(tenantID)).Find(&channels)
package tenant

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Column is the tenant column shared by every tenant-owned sync table
const Column = "tenant_id"

// Scope restricts a query to one tenant
func Scope(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(Column+" = ?", tenantID)
	}
}

// Ordered sorts a cross-tenant query by tenant, then by the given columns
func Ordered(columns ...string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Order(Column + " ASC")
		for _, c := range columns {
			db = db.Order(c + " ASC")
		}
		return db
	}
}
