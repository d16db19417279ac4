// Package models holds the GORM table models of the sync schema and their
// mappers to and from internal/domain/integration. Domain types carry no ORM
// tags; repositories only ever read and write these models.
//
//   - base.go: BaseModel and TenantAggregateModel (id, tenant, version, timestamps)
//   - integration.go: entities, external links, channels, jobs, logs and bundle edges
package models
