package integration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

// DefaultPollInterval is used when a polling channel has no interval configured
const DefaultPollInterval = 5 * time.Minute

// Channel is an external system a tenant synchronizes with
type Channel struct {
	shared.BaseEntity
	TenantID       uuid.UUID
	Code           string
	Name           string
	Origin         Origin
	Provider       string
	BaseURL        string
	APIKey         string
	APISecret      string
	Enabled        bool
	PollingEnabled bool
	PollInterval   time.Duration
	LastPolledAt   *time.Time
	DisabledReason string
}

// NewChannel creates an enabled channel for an external origin
func NewChannel(tenantID uuid.UUID, code, name string, origin Origin, provider, baseURL string, now time.Time) (*Channel, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	code = strings.TrimSpace(code)
	if code == "" || len(code) > 50 {
		return nil, ErrChannelInvalidCode
	}
	if !origin.IsExternal() {
		return nil, fmt.Errorf("%w: %q", ErrChannelInvalidOrigin, origin)
	}
	return &Channel{
		BaseEntity:   shared.NewBaseEntityAt(now),
		TenantID:     tenantID,
		Code:         code,
		Name:         name,
		Origin:       origin,
		Provider:     provider,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Enabled:      true,
		PollInterval: DefaultPollInterval,
	}, nil
}

// ReceivesStock reports whether inventory levels are pushed to this channel.
// The warehouse is authoritative, so only commerce channels receive stock.
func (c *Channel) ReceivesStock() bool {
	switch c.Origin {
	case OriginCommerce:
		return true
	case OriginFulfillment, OriginOperations:
		return false
	}
	return false
}

// IsPollDue reports whether a polling channel should be polled now
func (c *Channel) IsPollDue(now time.Time) bool {
	if !c.Enabled || !c.PollingEnabled {
		return false
	}
	if c.LastPolledAt == nil {
		return true
	}
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return !now.Before(c.LastPolledAt.Add(interval))
}

// RecordPoll stamps a completed poll
func (c *Channel) RecordPoll(now time.Time) {
	c.LastPolledAt = &now
	c.UpdatedAt = now
}

// DisablePolling stops polling until credentials are refreshed out of band
func (c *Channel) DisablePolling(reason string, now time.Time) {
	c.PollingEnabled = false
	c.DisabledReason = reason
	c.UpdatedAt = now
}

// Disable stops all pushes and polls for the channel
func (c *Channel) Disable(reason string, now time.Time) {
	c.Enabled = false
	c.PollingEnabled = false
	c.DisabledReason = reason
	c.UpdatedAt = now
}

// ---------------------------------------------------------------------------
// Channel Repository Interface
// ---------------------------------------------------------------------------

// ChannelRepository defines persistence for channels
type ChannelRepository interface {
	// FindByID finds a channel by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Channel, error)

	// FindEnabledByTenant returns the enabled channels of a tenant
	FindEnabledByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Channel, error)

	// FindPollable returns enabled channels with polling switched on, across tenants
	FindPollable(ctx context.Context) ([]*Channel, error)

	// Save inserts or updates a channel
	Save(ctx context.Context, channel *Channel) error
}
