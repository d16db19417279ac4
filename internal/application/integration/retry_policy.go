package integration

import (
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/google/uuid"
)

// TenantRetryPolicies resolves retry policies with per-tenant overrides
type TenantRetryPolicies struct {
	fallback  integration.RetryPolicy
	overrides map[uuid.UUID]integration.RetryPolicy
}

var _ integration.RetryPolicyProvider = (*TenantRetryPolicies)(nil)

// NewTenantRetryPolicies creates a provider. Invalid policies fall back to the default.
func NewTenantRetryPolicies(fallback integration.RetryPolicy, overrides map[uuid.UUID]integration.RetryPolicy) *TenantRetryPolicies {
	if fallback.Validate() != nil {
		fallback = integration.DefaultRetryPolicy()
	}
	p := &TenantRetryPolicies{
		fallback:  fallback,
		overrides: make(map[uuid.UUID]integration.RetryPolicy, len(overrides)),
	}
	for tenantID, policy := range overrides {
		if policy.Validate() == nil {
			p.overrides[tenantID] = policy
		}
	}
	return p
}

// PolicyFor returns the tenant's policy
func (p *TenantRetryPolicies) PolicyFor(tenantID uuid.UUID) integration.RetryPolicy {
	if policy, ok := p.overrides[tenantID]; ok {
		return policy
	}
	return p.fallback
}
