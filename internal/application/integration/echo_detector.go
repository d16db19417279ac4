package integration

import (
	"context"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Echo window defaults. Both are heuristics: a channel that echoes slower than
// PushWindow is processed as a fresh change, and two operators editing the same
// entity within RecentWriteWindow can see the second edit suppressed.
const (
	DefaultEchoPushWindow        = 60 * time.Second
	DefaultEchoRecentWriteWindow = 30 * time.Second
)

// Echo reasons
const (
	EchoReasonRecentPush  = "matches a push to this channel within the echo window"
	EchoReasonRecentWrite = "entity was written by another origin within the echo window"
)

// EchoWindows tunes echo detection. A zero window disables its rule.
type EchoWindows struct {
	PushWindow        time.Duration
	RecentWriteWindow time.Duration
}

// DefaultEchoWindows returns the default windows
func DefaultEchoWindows() EchoWindows {
	return EchoWindows{
		PushWindow:        DefaultEchoPushWindow,
		RecentWriteWindow: DefaultEchoRecentWriteWindow,
	}
}

// EchoVerdict is the outcome of an echo check
type EchoVerdict struct {
	Echo     bool
	Reason   string
	EntityID uuid.UUID
}

// EchoDetector recognises inbound notifications caused by the engine's own pushes
type EchoDetector struct {
	entities integration.SyncEntityReader
	links    integration.ExternalLinkReader
	logs     integration.SyncLogRepository
	windows  EchoWindows
	logger   *zap.Logger
}

// NewEchoDetector creates a new EchoDetector
func NewEchoDetector(repos Repositories, windows EchoWindows, logger *zap.Logger) *EchoDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EchoDetector{
		entities: repos.Entities,
		links:    repos.Links,
		logs:     repos.Logs,
		windows:  windows,
		logger:   logger,
	}
}

// IsEcho reports whether a notification from origin about externalID on the channel
// should be suppressed
func (d *EchoDetector) IsEcho(ctx context.Context, origin integration.Origin, channelID uuid.UUID, externalID string, now time.Time) (EchoVerdict, error) {
	link, err := d.links.FindByChannelAndExternalID(ctx, channelID, externalID)
	if err != nil {
		if isNotFound(err) {
			return EchoVerdict{}, nil
		}
		return EchoVerdict{}, err
	}
	verdict := EchoVerdict{EntityID: link.EntityID}

	if d.windows.PushWindow > 0 {
		entries, err := d.logs.FindRecentByEntity(ctx, link.EntityID, integration.SyncActionPush, now.Add(-d.windows.PushWindow))
		if err != nil {
			return verdict, err
		}
		for _, e := range entries {
			if now.Sub(e.CreatedAt) < d.windows.PushWindow && e.PushedTo(channelID, externalID) {
				verdict.Echo = true
				verdict.Reason = EchoReasonRecentPush
				return verdict, nil
			}
		}
	}

	if d.windows.RecentWriteWindow > 0 {
		entity, err := d.entities.FindByID(ctx, link.EntityID)
		if err != nil {
			if isNotFound(err) {
				return verdict, nil
			}
			return verdict, err
		}
		if entity.LastUpdatedBy != origin && entity.UpdatedWithin(d.windows.RecentWriteWindow, now) {
			verdict.Echo = true
			verdict.Reason = EchoReasonRecentWrite
			return verdict, nil
		}
	}

	return verdict, nil
}
