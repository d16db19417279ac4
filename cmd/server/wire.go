package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/cache"
	"github.com/erp/syncengine/internal/infrastructure/channel"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/infrastructure/persistence"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
)

// syncEngine holds the wired application services
type syncEngine struct {
	Inbound  *appintegration.InboundChangeService
	Admin    *appintegration.SyncAdminService
	Queue    *appintegration.SyncQueueService
	Executor *appintegration.JobExecutor
	Stock    *appintegration.StockReconciler
	Adapters *channel.Registry
}

// buildEngine wires every sync service on the given storage and coordination stores
func buildEngine(
	cfg *config.EngineConfig,
	repos *persistence.Repositories,
	coord *cache.Coordination,
	metrics *telemetry.SyncMetrics,
	log *zap.Logger,
) (*syncEngine, error) {
	policies, err := retryPolicies(cfg)
	if err != nil {
		return nil, err
	}

	registry := integration.DefaultFieldOwnershipRegistry().WithOverrides(ownershipOverrides(cfg.Ownership))

	adapters := channel.NewRegistry()
	adapters.Register(channel.ProviderHTTP, channel.NewHTTPAdapter(
		channel.WithTimeout(cfg.Adapter.Timeout),
		channel.WithRateLimit(cfg.Adapter.RateLimit, cfg.Adapter.RateBurst),
		channel.WithLogger(log.Named("channel")),
	))

	appRepos := appintegration.Repositories{
		Entities:     repos.Entities,
		Links:        repos.Links,
		Channels:     repos.Channels,
		Jobs:         repos.Jobs,
		Logs:         repos.Logs,
		BundleItems:  repos.BundleItems,
		PendingLinks: repos.PendingLinks,
	}

	clock := appintegration.Clock(func() time.Time { return time.Now().UTC() })
	resolver := appintegration.NewConflictResolver(registry, cfg.Conflict.Window,
		appintegration.WithManualReviewFields(cfg.Conflict.ManualFields...))
	echo := appintegration.NewEchoDetector(appRepos, appintegration.EchoWindows{
		PushWindow:        cfg.Echo.PushWindow,
		RecentWriteWindow: cfg.Echo.RecentWriteWindow,
	}, log.Named("echo"))
	queue := appintegration.NewSyncQueueService(appRepos, policies, log.Named("queue"), clock)
	bundles := appintegration.NewBundleLinkResolver(appRepos, log.Named("bundles"), clock)

	stock := appintegration.NewStockReconciler(appRepos, adapters, queue, coord.Locker, metrics,
		appintegration.StockReconcilerConfig{
			AdapterTimeout: cfg.Adapter.Timeout,
			LockTTL:        cfg.Lock.TTL,
			LockWait:       cfg.Lock.Wait,
		}, log.Named("stock"), clock)

	propagator := appintegration.NewOutboundPropagator(appintegration.OutboundPropagatorDeps{
		Repos:    appRepos,
		Adapters: adapters,
		Registry: registry,
		Stock:    stock,
		Bundles:  bundles,
		Locker:   coord.Locker,
		Metrics:  metrics,
		Logger:   log.Named("propagator"),
		Clock:    clock,
	}, appintegration.PropagatorConfig{
		AdapterTimeout: cfg.Adapter.Timeout,
		LockTTL:        cfg.Lock.TTL,
	})

	executor := appintegration.NewJobExecutor(appRepos, propagator, policies, metrics, log.Named("executor"), clock)

	inbound := appintegration.NewInboundChangeService(appintegration.InboundChangeServiceDeps{
		Repos:       appRepos,
		Resolver:    resolver,
		Echo:        echo,
		Queue:       queue,
		Bundles:     bundles,
		Idempotency: coord.Idempotency,
		Locker:      coord.Locker,
		Metrics:     metrics,
		Logger:      log.Named("inbound"),
		Clock:       clock,
	}, appintegration.InboundConfig{
		LockTTL:  cfg.Lock.TTL,
		LockWait: cfg.Lock.Wait,
		Idempotency: shared.IdempotencyConfig{
			TTL:     cfg.Idempotency.TTL,
			Enabled: cfg.Idempotency.Enabled,
		},
	})

	admin := appintegration.NewSyncAdminService(appintegration.SyncAdminServiceDeps{
		Repos:    appRepos,
		Queue:    queue,
		Resolver: resolver,
		Policies: policies,
		Locker:   coord.Locker,
		Logger:   log.Named("admin"),
		Clock:    clock,
	})

	return &syncEngine{
		Inbound:  inbound,
		Admin:    admin,
		Queue:    queue,
		Executor: executor,
		Stock:    stock,
		Adapters: adapters,
	}, nil
}

func retryPolicyFrom(rc config.RetryConfig) integration.RetryPolicy {
	return integration.RetryPolicy{
		MaxRetries:        rc.MaxRetries,
		BaseDelay:         rc.BaseDelay,
		BackoffMultiplier: rc.BackoffMultiplier,
		MaxDelay:          rc.MaxDelay,
	}
}

// retryPolicies builds the global policy and the per-tenant overrides
func retryPolicies(cfg *config.EngineConfig) (*appintegration.TenantRetryPolicies, error) {
	overrides := make(map[uuid.UUID]integration.RetryPolicy, len(cfg.TenantRetry))
	for key, rc := range cfg.TenantRetry {
		tenantID, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("engine.tenant_retry: invalid tenant id %q: %w", key, err)
		}
		policy := retryPolicyFrom(rc)
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("engine.tenant_retry.%s: %w", key, err)
		}
		overrides[tenantID] = policy
	}

	fallback := retryPolicyFrom(cfg.Retry)
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("engine.retry: %w", err)
	}
	return appintegration.NewTenantRetryPolicies(fallback, overrides), nil
}

func ownershipOverrides(classes map[string]string) map[string]integration.FieldClass {
	overrides := make(map[string]integration.FieldClass, len(classes))
	for field, class := range classes {
		overrides[field] = integration.FieldClass(class)
	}
	return overrides
}
