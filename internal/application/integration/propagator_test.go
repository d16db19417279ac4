package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type propagatorFixture struct {
	store      *memStore
	shop       *integration.Channel
	wms        *integration.Channel
	adapter    *mockAdapter
	clock      *testClock
	propagator *OutboundPropagator
}

func newPropagatorFixture(t *testing.T) *propagatorFixture {
	t.Helper()
	f := &propagatorFixture{
		store:   newMemStore(),
		adapter: new(mockAdapter),
		clock:   newTestClock(),
	}
	f.shop = f.store.addChannel("shop", integration.OriginCommerce)
	f.wms = f.store.addChannel("wms", integration.OriginFulfillment)

	repos := f.store.repos()
	adapters := staticAdapters{fallback: f.adapter}
	stock := NewStockReconciler(repos, adapters, nil, nil, nil, StockReconcilerConfig{}, zap.NewNop(), f.clock.Now)
	f.propagator = NewOutboundPropagator(OutboundPropagatorDeps{
		Repos:    repos,
		Adapters: adapters,
		Stock:    stock,
		Bundles:  NewBundleLinkResolver(repos, zap.NewNop(), f.clock.Now),
		Logger:   zap.NewNop(),
		Clock:    f.clock.Now,
	}, PropagatorConfig{AdapterTimeout: time.Second})
	return f
}

func matchLevel(expected integration.StockLevel) interface{} {
	return mock.MatchedBy(func(l integration.StockLevel) bool { return l.Equal(expected) })
}

func payloadFor(create bool) interface{} {
	return mock.MatchedBy(func(p integration.EntityPayload) bool { return p.IsCreate() == create })
}

func TestPropagate_CreatesRemoteOnceAndStaysIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newPropagatorFixture(t)
	entity := f.store.addEntity(integration.Fields{"sku": "P-1", "name": "A", "available": 5}, integration.OriginOperations, testNow)
	f.store.addLink(entity, f.shop, "")

	f.adapter.On("UpsertEntity", mock.Anything, mock.Anything, mock.MatchedBy(func(p integration.EntityPayload) bool {
		_, hasStock := p.Fields["available"]
		return p.IsCreate() && p.SKU == "P-1" && !hasStock
	})).Return("ext-1", nil).Once()
	f.adapter.On("SetInventoryLevel", mock.Anything, mock.Anything, "ext-1", matchLevel(level(5, 0))).Return(nil)
	f.adapter.On("GetInventoryLevel", mock.Anything, mock.Anything, "ext-1").Return(level(5, 0), nil)

	result, err := f.propagator.Propagate(ctx, entity.ID, integration.OriginOperations, PropagateOptions{})
	require.NoError(t, err)
	require.Len(t, result.Targets, 1)
	assert.True(t, result.Targets[0].Success)
	assert.True(t, result.Targets[0].Created)
	assert.Equal(t, "ext-1", result.Targets[0].ExternalID)

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		result, err = f.propagator.Propagate(ctx, entity.ID, integration.OriginOperations, PropagateOptions{})
		require.NoError(t, err)
		require.Len(t, result.Targets, 1)
		assert.True(t, result.Targets[0].Skipped)
	}

	f.adapter.AssertNumberOfCalls(t, "UpsertEntity", 1)
	links := f.store.linksOf(entity.ID)
	require.Len(t, links, 1)
	assert.Equal(t, "ext-1", links[0].ExternalID)
	assert.Equal(t, integration.SyncStatusSynced, links[0].SyncStatus)

	stored := f.store.entity(entity.ID)
	assert.Equal(t, integration.SyncStatusSynced, stored.SyncStatus)
	assert.Equal(t, stored.CurrentChecksum(), stored.Checksum)
	assert.Len(t, f.store.logsWith(integration.SyncActionPush), 4)
}

func TestPropagate_UpdatesAfterContentChange(t *testing.T) {
	ctx := context.Background()
	f := newPropagatorFixture(t)
	entity := f.store.addEntity(integration.Fields{"sku": "P-1", "name": "A"}, integration.OriginOperations, testNow)
	f.store.addLink(entity, f.wms, "")

	f.adapter.On("UpsertEntity", mock.Anything, mock.Anything, payloadFor(true)).Return("W-1", nil).Once()
	f.adapter.On("UpsertEntity", mock.Anything, mock.Anything, mock.MatchedBy(func(p integration.EntityPayload) bool {
		return p.ExternalID == "W-1" && p.Fields["name"] == "B"
	})).Return("W-1", nil).Once()

	_, err := f.propagator.Propagate(ctx, entity.ID, integration.OriginOperations, PropagateOptions{})
	require.NoError(t, err)

	stored := f.store.entity(entity.ID)
	stored.ApplyFields(integration.Fields{"name": "B"}, integration.OriginOperations, testNow)
	require.NoError(t, memEntities{f.store}.Update(ctx, stored))

	result, err := f.propagator.Propagate(ctx, entity.ID, integration.OriginOperations, PropagateOptions{})
	require.NoError(t, err)
	assert.False(t, result.Targets[0].Skipped)
	assert.False(t, result.Targets[0].Created)
	f.adapter.AssertExpectations(t)
	// fulfillment channels never receive stock
	f.adapter.AssertNotCalled(t, "SetInventoryLevel", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPropagate_HealsDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newPropagatorFixture(t)
	entity := f.store.addEntity(integration.Fields{"sku": "P-1", "name": "A"}, integration.OriginOperations, testNow)
	f.store.addLink(entity, f.shop, "")

	f.adapter.On("UpsertEntity", mock.Anything, mock.Anything, payloadFor(true)).
		Return("", integration.NewDuplicateEntityError(f.shop.ID, "ext-9", "sku already taken")).Once()

	result, err := f.propagator.Propagate(ctx, entity.ID, integration.OriginOperations, PropagateOptions{})
	require.NoError(t, err)
	require.Len(t, result.Targets, 1)
	assert.True(t, result.Targets[0].Healed)
	assert.True(t, result.Targets[0].Success)

	link := f.store.linkFor(entity.ID, f.shop.ID)
	require.NotNil(t, link)
	assert.Equal(t, "ext-9", link.ExternalID)
	assert.Equal(t, integration.SyncStatusSynced, link.SyncStatus)

	logs := f.store.logsWith(integration.SyncActionPush)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Targets[0].Healed)
}

func TestPropagate_DuplicateClaimedByAnotherEntity(t *testing.T) {
	ctx := context.Background()
	f := newPropagatorFixture(t)
	other := f.store.addEntity(integration.Fields{"sku": "P-0"}, integration.OriginOperations, testNow)
	f.store.addLink(other, f.shop, "ext-9")
	entity := f.store.addEntity(integration.Fields{"sku": "P-1"}, integration.OriginOperations, testNow)
	f.store.addLink(entity, f.shop, "")

	f.adapter.On("UpsertEntity", mock.Anything, mock.Anything, payloadFor(true)).
		Return("", integration.NewDuplicateEntityError(f.shop.ID, "ext-9", "")).Once()

	_, err := f.propagator.Propagate(ctx, entity.ID, integration.OriginOperations, PropagateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrChannelRequestRejected)
	assert.False(t, integration.IsRetryable(err))

	link := f.store.linkFor(entity.ID, f.shop.ID)
	assert.Equal(t, "", link.ExternalID)
	assert.Equal(t, integration.SyncStatusError, link.SyncStatus)
	assert.Equal(t, integration.SyncStatusError, f.store.entity(entity.ID).SyncStatus)
}

func TestPropagate_AuthFailureDisablesChannel(t *testing.T) {
	ctx := context.Background()
	f := newPropagatorFixture(t)
	entity := f.store.addEntity(integration.Fields{"sku": "P-1"}, integration.OriginOperations, testNow)
	f.store.addLink(entity, f.shop, "ext-1")
	f.store.addLink(entity, f.wms, "W-1")

	f.adapter.On("UpsertEntity", mock.Anything, mock.MatchedBy(func(ch *integration.Channel) bool { return ch.Code == "shop" }), mock.Anything).
		Return("", fmt.Errorf("%w: token revoked", integration.ErrChannelAuthFailed))
	f.adapter.On("UpsertEntity", mock.Anything, mock.MatchedBy(func(ch *integration.Channel) bool { return ch.Code == "wms" }), mock.Anything).
		Return("W-1", nil)

	result, err := f.propagator.Propagate(ctx, entity.ID, integration.OriginOperations, PropagateOptions{})
	require.Error(t, err)
	assert.True(t, integration.IsAuthError(err))
	require.Len(t, result.Targets, 2)
	assert.Len(t, result.Failed(), 1)

	shop, err := memChannels{f.store}.FindByID(ctx, f.shop.ID)
	require.NoError(t, err)
	assert.False(t, shop.Enabled)
	assert.NotEmpty(t, shop.DisabledReason)

	// the failing target does not stop the others
	assert.Equal(t, integration.SyncStatusSynced, f.store.linkFor(entity.ID, f.wms.ID).SyncStatus)

	// a disabled channel is skipped on the next run
	result, err = f.propagator.Propagate(ctx, entity.ID, integration.OriginOperations, PropagateOptions{OnlyTargets: []uuid.UUID{f.shop.ID}})
	require.NoError(t, err)
	assert.True(t, result.Targets[0].Skipped)
}

func TestPropagate_StockVerificationFailure(t *testing.T) {
	ctx := context.Background()
	f := newPropagatorFixture(t)
	entity := f.store.addEntity(integration.Fields{"sku": "P-1", "available": 7}, integration.OriginFulfillment, testNow)
	f.store.addLink(entity, f.shop, "ext-1")

	f.adapter.On("SetInventoryLevel", mock.Anything, mock.Anything, "ext-1", matchLevel(level(7, 0))).Return(nil)
	f.adapter.On("GetInventoryLevel", mock.Anything, mock.Anything, "ext-1").Return(level(3, 0), nil)

	_, err := f.propagator.Propagate(ctx, entity.ID, integration.OriginFulfillment, PropagateOptions{StockOnly: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrStockVerificationFailed)
	assert.True(t, integration.IsRetryable(err))
	f.adapter.AssertNotCalled(t, "UpsertEntity", mock.Anything, mock.Anything, mock.Anything)

	link := f.store.linkFor(entity.ID, f.shop.ID)
	assert.Equal(t, integration.SyncStatusError, link.SyncStatus)
	assert.Contains(t, link.LastError, "read-back")
}

func TestPropagate_ExcludesConflictAndInactiveEntities(t *testing.T) {
	ctx := context.Background()
	f := newPropagatorFixture(t)

	conflicted := f.store.addEntity(integration.Fields{"sku": "P-1"}, integration.OriginOperations, testNow)
	stored := f.store.entity(conflicted.ID)
	stored.MarkConflict(integration.Fields{"name": "X"}, integration.OriginCommerce, testNow)
	require.NoError(t, memEntities{f.store}.Update(ctx, stored))

	_, err := f.propagator.Propagate(ctx, conflicted.ID, integration.OriginOperations, PropagateOptions{})
	assert.True(t, errors.Is(err, integration.ErrEntityInConflict))

	inactive := f.store.addEntity(integration.Fields{"sku": "P-2"}, integration.OriginOperations, testNow)
	stored = f.store.entity(inactive.ID)
	stored.Deactivate(testNow)
	require.NoError(t, memEntities{f.store}.Update(ctx, stored))

	_, err = f.propagator.Propagate(ctx, inactive.ID, integration.OriginOperations, PropagateOptions{})
	assert.True(t, errors.Is(err, integration.ErrEntityInactive))
	f.adapter.AssertNotCalled(t, "UpsertEntity", mock.Anything, mock.Anything, mock.Anything)
}

func TestPropagate_TargetBusy(t *testing.T) {
	ctx := context.Background()
	f := newPropagatorFixture(t)
	locker := newMemLocker()
	f.propagator.locker = locker

	entity := f.store.addEntity(integration.Fields{"sku": "P-1"}, integration.OriginOperations, testNow)
	f.store.addLink(entity, f.wms, "W-1")
	_, ok, err := locker.TryLock(ctx, targetLockKey(entity.ID, f.wms.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.propagator.Propagate(ctx, entity.ID, integration.OriginOperations, PropagateOptions{})
	assert.ErrorIs(t, err, integration.ErrTargetBusy)
	assert.True(t, integration.IsRetryable(err))
	f.adapter.AssertNotCalled(t, "UpsertEntity", mock.Anything, mock.Anything, mock.Anything)
}
