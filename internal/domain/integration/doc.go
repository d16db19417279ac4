// Package integration contains the Sync bounded context.
// It models how product, order and return state stays consistent between the
// commerce front end, the fulfillment backend and the operational hub.
//
// Key concepts:
//   - Origin: closed set of systems that may author a change
//   - FieldOwnershipRegistry: which field classes each origin may write
//   - SyncEntity: canonical local record with sync status and checksum
//   - ExternalLink: per-channel identity of an entity
//   - SyncJob: durable unit of outbound propagation work
//   - SyncLogEntry: append-only audit trail
//   - BundleItem / PendingBundleLink: composite products and deferred edges
//   - ChannelAdapter: port implemented once per external system
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
