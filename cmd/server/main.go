package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/infrastructure/cache"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/migration"
	"github.com/erp/syncengine/internal/infrastructure/persistence"
	"github.com/erp/syncengine/internal/infrastructure/scheduler"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

// stoppable is a background component with a graceful stop
type stoppable interface {
	Stop(ctx context.Context) error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	rootCtx := context.Background()

	// Telemetry first so the exported log pipeline can be attached to the logger
	providers, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:               cfg.Telemetry.Enabled,
		CollectorEndpoint:     cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:         cfg.Telemetry.SamplingRatio,
		ServiceName:           cfg.Telemetry.ServiceName,
		ServiceVersion:        version,
		Insecure:              cfg.Telemetry.Insecure,
		MetricsEnabled:        cfg.Telemetry.MetricsEnabled,
		MetricsExportInterval: cfg.Telemetry.MetricsExportInterval,
		LogsEnabled:           cfg.Telemetry.LogsEnabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	if providers.LogsEnabled() {
		log, err = logger.New(logCfg, providers.ZapCore(logger.ParseLevel(cfg.Log.Level)))
		if err != nil {
			panic("Failed to initialize logger: " + err.Error())
		}
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting sync engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
	)

	profiler, err := telemetry.StartProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilingServerAddress,
		ApplicationName: cfg.Telemetry.ServiceName,
		Tags:            map[string]string{"env": cfg.App.Env, "version": version},
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if cfg.Telemetry.ProfilingEnabled {
		providers.EnableSpanProfiles()
	}

	if cfg.Database.AutoMigrate {
		if err := runMigrations(&cfg.Database, log); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	// Create GORM logger backed by zap
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))

	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        "postgresql",
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	meter := providers.Meter("syncengine")
	var poolMetrics metric.Registration
	if sqlDB, err := db.DB.DB(); err == nil {
		poolMetrics, err = telemetry.RegisterDBPoolMetrics(meter, sqlDB)
		if err != nil {
			log.Warn("Failed to register database pool metrics", zap.Error(err))
		}
	}

	coord, err := cache.NewCoordinationFactory(cfg.Redis,
		cache.WithLogger(log.Named("cache")),
		cache.WithKeyPrefix(cfg.Engine.Idempotency.KeyPrefix),
	).Create()
	if err != nil {
		log.Fatal("Failed to initialize coordination stores", zap.Error(err))
	}

	repos := persistence.NewRepositories(db.DB)

	syncMetrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:         meter,
		Logger:        log.Named("metrics"),
		QueueProvider: repos.Jobs,
	})
	if err != nil {
		log.Fatal("Failed to initialize sync metrics", zap.Error(err))
	}
	if providers.MetricsEnabled() {
		syncMetrics.StartPeriodicCollection(rootCtx, time.Minute)
	}

	engine, err := buildEngine(&cfg.Engine, repos, coord, syncMetrics, log)
	if err != nil {
		log.Fatal("Failed to build sync engine", zap.Error(err))
	}
	log.Info("Sync engine ready",
		zap.Strings("providers", engine.Adapters.Providers()),
		zap.Bool("distributed_coordination", coord.Distributed),
	)

	components, err := startBackground(rootCtx, &cfg.Engine, repos, engine, log)
	if err != nil {
		log.Fatal("Failed to start background components", zap.Error(err))
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Shutting down sync engine...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop in reverse start order
	for i := len(components) - 1; i >= 0; i-- {
		if err := components[i].Stop(ctx); err != nil {
			log.Error("Error stopping component", zap.Error(err))
		}
	}

	syncMetrics.Stop()
	if poolMetrics != nil {
		if err := poolMetrics.Unregister(); err != nil {
			log.Warn("Error unregistering pool metrics", zap.Error(err))
		}
	}
	if err := coord.Close(); err != nil {
		log.Error("Error closing coordination stores", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Warn("Error stopping profiler", zap.Error(err))
	}
	if err := providers.Shutdown(ctx); err != nil {
		log.Error("Error shutting down telemetry", zap.Error(err))
	}

	log.Info("Sync engine exited gracefully")
}

// startBackground starts the job poller, the stock poll trigger and the maintenance
// scheduler as configured. Components are returned in start order.
func startBackground(
	ctx context.Context,
	cfg *config.EngineConfig,
	repos *persistence.Repositories,
	engine *syncEngine,
	log *zap.Logger,
) ([]stoppable, error) {
	var started []stoppable

	if cfg.Maintenance.Enabled {
		maintenance, err := scheduler.NewMaintenanceScheduler(scheduler.MaintenanceConfig{
			CleanupSchedule:  cfg.Maintenance.CleanupSchedule,
			CleanupRetention: cfg.Maintenance.CleanupRetention,
			RequeueSchedule:  cfg.Maintenance.RequeueSchedule,
			StaleAfter:       cfg.Maintenance.StaleAfter,
		}, engine.Executor, log.Named("maintenance"))
		if err != nil {
			return nil, err
		}
		if err := maintenance.Start(ctx); err != nil {
			return nil, err
		}
		started = append(started, maintenance)
	}

	if cfg.StockPoll.Enabled {
		trigger, err := scheduler.NewStockPollTrigger(scheduler.StockPollTriggerConfig{
			CheckInterval: cfg.StockPoll.CheckInterval,
		}, repos.Channels, engine.Stock, log.Named("stock_poll"))
		if err != nil {
			return started, err
		}
		if err := trigger.Start(ctx); err != nil {
			return started, err
		}
		started = append(started, trigger)
	}

	if cfg.Worker.Enabled {
		poller, err := scheduler.NewJobPoller(scheduler.JobPollerConfig{
			PollInterval: cfg.Worker.PollInterval,
			BatchSize:    cfg.Worker.BatchSize,
			Concurrency:  cfg.Worker.Concurrency,
		}, engine.Executor, log.Named("job_poller"))
		if err != nil {
			return started, err
		}
		if err := poller.Start(ctx); err != nil {
			return started, err
		}
		started = append(started, poller)
	} else {
		log.Warn("Job worker disabled; queued jobs will not be executed by this process")
	}

	return started, nil
}

// runMigrations applies pending migrations on a dedicated connection, since the
// migrator closes the connection it is given
func runMigrations(cfg *config.DatabaseConfig, log *zap.Logger) error {
	sqlDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, log.Named("migrate"))
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer m.Close()
	return m.Up()
}
