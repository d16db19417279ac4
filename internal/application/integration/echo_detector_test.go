package integration

import (
	"context"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func recordPush(t *testing.T, store *memStore, entity *integration.SyncEntity, channel *integration.Channel, externalID string, at time.Time) {
	t.Helper()
	entry := integration.NewSyncLogEntry(entity.TenantID, entity.ID, integration.SyncActionPush, integration.OriginOperations, at)
	entry.Targets = []integration.TargetOutcome{{ChannelID: channel.ID, ExternalID: externalID, Success: true}}
	require.NoError(t, memLogs{store}.Append(context.Background(), entry))
}

func TestEchoDetector_PushWindowBoundaries(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	shop := store.addChannel("shop", integration.OriginCommerce)
	entity := store.addEntity(integration.Fields{"name": "A"}, integration.OriginOperations, testNow.Add(-time.Hour))
	store.addLink(entity, shop, "E")
	recordPush(t, store, entity, shop, "E", testNow)

	detector := NewEchoDetector(store.repos(), DefaultEchoWindows(), zap.NewNop())

	tests := []struct {
		name  string
		after time.Duration
		echo  bool
	}{
		{"immediately after push", 0, true},
		{"within window", 30 * time.Second, true},
		{"just before window end", 59*time.Second + 999*time.Millisecond, true},
		{"exactly at window end", 60 * time.Second, false},
		{"after window", 61 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := detector.IsEcho(ctx, integration.OriginCommerce, shop.ID, "E", testNow.Add(tt.after))
			require.NoError(t, err)
			assert.Equal(t, tt.echo, verdict.Echo)
			assert.Equal(t, entity.ID, verdict.EntityID)
			if tt.echo {
				assert.Equal(t, EchoReasonRecentPush, verdict.Reason)
			}
		})
	}
}

func TestEchoDetector_PushToOtherTargetIsNotEcho(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	shop := store.addChannel("shop", integration.OriginCommerce)
	wms := store.addChannel("wms", integration.OriginFulfillment)
	entity := store.addEntity(integration.Fields{"name": "A"}, integration.OriginOperations, testNow.Add(-time.Hour))
	store.addLink(entity, shop, "E")
	store.addLink(entity, wms, "W")
	recordPush(t, store, entity, wms, "W", testNow)

	detector := NewEchoDetector(store.repos(), DefaultEchoWindows(), zap.NewNop())
	verdict, err := detector.IsEcho(ctx, integration.OriginCommerce, shop.ID, "E", testNow.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, verdict.Echo)
}

func TestEchoDetector_RecentWriteByOtherOrigin(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	shop := store.addChannel("shop", integration.OriginCommerce)
	entity := store.addEntity(integration.Fields{"name": "A"}, integration.OriginOperations, testNow)
	store.addLink(entity, shop, "E")

	detector := NewEchoDetector(store.repos(), DefaultEchoWindows(), zap.NewNop())

	verdict, err := detector.IsEcho(ctx, integration.OriginCommerce, shop.ID, "E", testNow.Add(29*time.Second))
	require.NoError(t, err)
	assert.True(t, verdict.Echo)
	assert.Equal(t, EchoReasonRecentWrite, verdict.Reason)

	verdict, err = detector.IsEcho(ctx, integration.OriginCommerce, shop.ID, "E", testNow.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, verdict.Echo)

	// the origin's own recent write is not an echo of itself
	verdict, err = detector.IsEcho(ctx, integration.OriginOperations, shop.ID, "E", testNow.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, verdict.Echo)
}

func TestEchoDetector_DisabledWindowsAndUnknownLinks(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	shop := store.addChannel("shop", integration.OriginCommerce)
	entity := store.addEntity(integration.Fields{"name": "A"}, integration.OriginOperations, testNow)
	store.addLink(entity, shop, "E")
	recordPush(t, store, entity, shop, "E", testNow)

	detector := NewEchoDetector(store.repos(), EchoWindows{}, zap.NewNop())
	verdict, err := detector.IsEcho(ctx, integration.OriginCommerce, shop.ID, "E", testNow.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, verdict.Echo)

	verdict, err = NewEchoDetector(store.repos(), DefaultEchoWindows(), nil).
		IsEcho(ctx, integration.OriginCommerce, shop.ID, "unknown", testNow)
	require.NoError(t, err)
	assert.False(t, verdict.Echo)
}
