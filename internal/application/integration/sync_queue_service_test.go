package integration

import (
	"context"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTenantRetryPolicies(t *testing.T) {
	custom := integration.RetryPolicy{MaxRetries: 3, BaseDelay: time.Minute, BackoffMultiplier: 2}
	other := uuid.New()
	policies := NewTenantRetryPolicies(integration.RetryPolicy{}, map[uuid.UUID]integration.RetryPolicy{
		testTenant: custom,
		other:      {MaxRetries: 0},
	})

	assert.Equal(t, custom, policies.PolicyFor(testTenant))
	assert.Equal(t, integration.DefaultRetryPolicy(), policies.PolicyFor(other))
	assert.Equal(t, integration.DefaultRetryPolicy(), policies.PolicyFor(uuid.New()))
}

func TestSyncQueueService_Enqueue(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	clock := newTestClock()
	policies := NewTenantRetryPolicies(integration.DefaultRetryPolicy(), map[uuid.UUID]integration.RetryPolicy{
		testTenant: {MaxRetries: 3, BaseDelay: time.Minute, BackoffMultiplier: 2},
	})
	queue := NewSyncQueueService(store.repos(), policies, zap.NewNop(), clock.Now)
	shop := store.addChannel("shop", integration.OriginCommerce)
	entityID := uuid.New()
	channelID := shop.ID

	req := EnqueueJobRequest{
		TenantID:      testTenant,
		EntityID:      entityID,
		Operation:     integration.JobOperationPushChannel,
		TriggerOrigin: integration.OriginOperations,
		ChannelID:     &channelID,
		Priority:      10,
	}
	job, created, err := queue.Enqueue(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, integration.JobStatusPending, job.Status)
	assert.Equal(t, testNow, job.ScheduledFor)

	t.Run("identical pending job is coalesced", func(t *testing.T) {
		clock.Advance(time.Second)
		req.Priority = 50
		again, created, err := queue.Enqueue(ctx, req)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, job.ID, again.ID)
		assert.Equal(t, 50, again.Priority)
		assert.Len(t, store.allJobs(), 1)
	})

	t.Run("different operation gets its own job", func(t *testing.T) {
		stockReq := req
		stockReq.Operation = integration.JobOperationPushStock
		_, created, err := queue.Enqueue(ctx, stockReq)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Len(t, store.allJobs(), 2)
	})

	t.Run("invalid requests are never enqueued", func(t *testing.T) {
		noChannel := req
		noChannel.ChannelID = nil
		_, _, err := queue.Enqueue(ctx, noChannel)
		assert.ErrorIs(t, err, integration.ErrJobChannelRequired)

		badOp := req
		badOp.Operation = "delete_everything"
		_, _, err = queue.Enqueue(ctx, badOp)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)

		badPriority := req
		badPriority.Priority = 500
		_, _, err = queue.Enqueue(ctx, badPriority)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)

		assert.Len(t, store.allJobs(), 2)
	})
}

func TestSyncQueueService_FanOut(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	queue := NewSyncQueueService(store.repos(), nil, zap.NewNop(), newTestClock().Now)
	shop := store.addChannel("shop", integration.OriginCommerce)
	market := store.addChannel("market", integration.OriginCommerce)
	wms := store.addChannel("wms", integration.OriginFulfillment)
	entity := store.addEntity(integration.Fields{"sku": "P-1"}, integration.OriginOperations, testNow)
	store.addLink(entity, shop, "S-1")
	store.addLink(entity, market, "M-1")
	store.addLink(entity, wms, "W-1")

	jobs, err := queue.FanOut(ctx, entity, integration.OriginFulfillment, integration.JobOperationPushStock, wms.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.NotEqual(t, wms.ID, *j.ChannelID)
		assert.Equal(t, integration.EntityKindProduct.DefaultPriority(), j.Priority)
	}

	// fulfillment channels never receive stock, even when not skipped
	jobs, err = queue.FanOut(ctx, entity, integration.OriginOperations, integration.JobOperationPushStock)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	mkt, err := memChannels{store}.FindByID(ctx, market.ID)
	require.NoError(t, err)
	mkt.Disable("paused", testNow)
	require.NoError(t, memChannels{store}.Save(ctx, mkt))

	jobs, err = queue.FanOut(ctx, entity, integration.OriginCommerce, integration.JobOperationPushChannel, shop.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, wms.ID, *jobs[0].ChannelID)

	_, err = queue.FanOut(ctx, entity, integration.OriginOperations, integration.JobOperationPushEntity)
	assert.ErrorIs(t, err, integration.ErrInvalidJobOperation)
}

// jobsClaimedAfterRead lets a worker claim every due job right after FindPending
// returns, so the caller holds a stale pending copy.
type jobsClaimedAfterRead struct {
	memJobs
	now time.Time
}

func (r jobsClaimedAfterRead) FindPending(ctx context.Context, entityID uuid.UUID, channelID *uuid.UUID, op integration.JobOperation) (*integration.SyncJob, error) {
	job, err := r.memJobs.FindPending(ctx, entityID, channelID, op)
	if err == nil {
		if _, claimErr := r.memJobs.ClaimDue(ctx, r.now, 10); claimErr != nil {
			return nil, claimErr
		}
	}
	return job, err
}

func TestSyncQueueService_EnqueueAfterConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	clock := newTestClock()
	entityID := uuid.New()
	req := EnqueueJobRequest{
		TenantID:      testTenant,
		EntityID:      entityID,
		Operation:     integration.JobOperationPushEntity,
		TriggerOrigin: integration.OriginOperations,
		Priority:      1,
	}

	first, created, err := NewSyncQueueService(store.repos(), nil, zap.NewNop(), clock.Now).Enqueue(ctx, req)
	require.NoError(t, err)
	require.True(t, created)

	repos := store.repos()
	repos.Jobs = jobsClaimedAfterRead{memJobs: memJobs{store}, now: clock.Now()}
	racing := NewSyncQueueService(repos, nil, zap.NewNop(), clock.Now)

	req.Priority = 9
	second, created, err := racing.Enqueue(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)

	claimed, err := memJobs{store}.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.JobStatusProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	assert.Equal(t, 1, claimed.Priority)

	fresh, err := memJobs{store}.FindByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.JobStatusPending, fresh.Status)
	assert.Equal(t, 9, fresh.Priority)
}
