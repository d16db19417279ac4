package integration

import (
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
)

// DefaultConflictWindow is how long a write by one origin shields shared fields
// from silent overwrites by another
const DefaultConflictWindow = 5 * time.Minute

// Resolution is the outcome of resolving one incoming change
type Resolution struct {
	// Apply holds the fields to persist
	Apply integration.Fields
	// Conflicts holds every per-field decision that was not a plain apply
	Conflicts []integration.FieldConflict
	// Refused is set when a manual conflict blocks the whole update
	Refused bool
}

// HasRejections reports whether any field was refused
func (r Resolution) HasRejections() bool {
	for _, c := range r.Conflicts {
		if c.Resolution == integration.ConflictRejected {
			return true
		}
	}
	return false
}

// ConflictResolverOption configures a ConflictResolver
type ConflictResolverOption func(*ConflictResolver)

// WithManualReviewFields makes in-window conflicts on the given shared fields
// refuse the whole update instead of applying it
func WithManualReviewFields(fields ...string) ConflictResolverOption {
	return func(r *ConflictResolver) {
		for _, f := range fields {
			r.manualFields[f] = struct{}{}
		}
	}
}

// ConflictResolver decides per field whether an incoming value is applied,
// flagged or rejected. It is pure: the same inputs always yield the same result.
type ConflictResolver struct {
	registry     *integration.FieldOwnershipRegistry
	window       time.Duration
	manualFields map[string]struct{}
}

// NewConflictResolver creates a resolver. A non-positive window uses DefaultConflictWindow.
func NewConflictResolver(registry *integration.FieldOwnershipRegistry, window time.Duration, opts ...ConflictResolverOption) *ConflictResolver {
	if registry == nil {
		registry = integration.DefaultFieldOwnershipRegistry()
	}
	if window <= 0 {
		window = DefaultConflictWindow
	}
	r := &ConflictResolver{
		registry:     registry,
		window:       window,
		manualFields: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the ownership registry the resolver consults
func (r *ConflictResolver) Registry() *integration.FieldOwnershipRegistry {
	return r.registry
}

// Resolve evaluates incoming against the existing entity, which may be nil
func (r *ConflictResolver) Resolve(existing *integration.SyncEntity, incoming integration.Fields, origin integration.Origin, now time.Time) Resolution {
	return r.resolve(existing, incoming, origin, now, true)
}

// ResolveApproved evaluates a change an operator already approved: ownership
// still applies but nothing is escalated to manual review
func (r *ConflictResolver) ResolveApproved(existing *integration.SyncEntity, incoming integration.Fields, origin integration.Origin, now time.Time) Resolution {
	return r.resolve(existing, incoming, origin, now, false)
}

func (r *ConflictResolver) resolve(existing *integration.SyncEntity, incoming integration.Fields, origin integration.Origin, now time.Time, review bool) Resolution {
	res := Resolution{Apply: integration.Fields{}}

	for _, field := range incoming.Keys() {
		value := incoming[field]
		class := r.registry.OwnerOf(field)

		switch class {
		case integration.FieldClassStock:
			if origin.IsCommerceClass() {
				res.Conflicts = append(res.Conflicts, r.reject(existing, field, class, origin, value, integration.ReasonStockWarehouseAuthoritative))
				continue
			}
			res.Apply[field] = value

		case integration.FieldClassCommerce, integration.FieldClassOperations:
			if !origin.CanWrite(class) {
				res.Conflicts = append(res.Conflicts, r.reject(existing, field, class, origin, value, integration.ReasonUnauthorizedOrigin))
				continue
			}
			res.Apply[field] = value

		case integration.FieldClassShared:
			if c, ok := r.concurrentWrite(existing, field, value, origin, now, review); ok {
				res.Conflicts = append(res.Conflicts, c)
			}
			res.Apply[field] = value

		default:
			res.Conflicts = append(res.Conflicts, r.reject(existing, field, class, origin, value, integration.ReasonUnauthorizedOrigin))
		}
	}

	for _, c := range res.Conflicts {
		if c.Resolution == integration.ConflictManual {
			res.Refused = true
			res.Apply = integration.Fields{}
			break
		}
	}
	return res
}

// concurrentWrite flags a shared field overwritten within the conflict window
// by an origin other than the one that last wrote the entity. Rewriting the
// stored value is flagged too but never escalates to manual review.
func (r *ConflictResolver) concurrentWrite(existing *integration.SyncEntity, field string, value any, origin integration.Origin, now time.Time, review bool) (integration.FieldConflict, bool) {
	if existing == nil || existing.LastUpdatedBy == origin || !existing.UpdatedWithin(r.window, now) {
		return integration.FieldConflict{}, false
	}
	current, ok := existing.Fields[field]
	if !ok {
		return integration.FieldConflict{}, false
	}

	c := integration.FieldConflict{
		Field:          field,
		Class:          integration.FieldClassShared,
		Origin:         origin,
		ExistingOrigin: existing.LastUpdatedBy,
		Resolution:     integration.ConflictAccepted,
		Reason:         integration.ReasonConcurrentWrite,
		ExistingValue:  current,
		IncomingValue:  value,
	}
	if _, manual := r.manualFields[field]; manual && review && !integration.ValuesEqual(current, value) {
		c.Resolution = integration.ConflictManual
		c.Reason = integration.ReasonManualReviewRequired
	}
	return c, true
}

func (r *ConflictResolver) reject(existing *integration.SyncEntity, field string, class integration.FieldClass, origin integration.Origin, value any, reason string) integration.FieldConflict {
	c := integration.FieldConflict{
		Field:         field,
		Class:         class,
		Origin:        origin,
		Resolution:    integration.ConflictRejected,
		Reason:        reason,
		IncomingValue: value,
	}
	if existing != nil {
		c.ExistingOrigin = existing.LastUpdatedBy
		c.ExistingValue = existing.Fields[field]
	}
	return c
}
