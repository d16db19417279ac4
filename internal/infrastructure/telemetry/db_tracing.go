package telemetry

import (
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds database tracing configuration.
type DBTracingConfig struct {
	Enabled         bool
	LogFullSQL      bool // include query variables in spans; never in production
	SlowQueryThresh time.Duration
	DBSystem        string
}

const queryStartKey = "telemetry:query_start"

// RegisterDBTracing installs the otelgorm plugin and a slow query detector on db.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	if err := registerSlowQueryCallbacks(db, cfg.SlowQueryThresh, logger.Named("db")); err != nil {
		return err
	}

	logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThresh),
		zap.String("db_system", cfg.DBSystem),
	)
	return nil
}

func registerSlowQueryCallbacks(db *gorm.DB, threshold time.Duration, logger *zap.Logger) error {
	before := func(tx *gorm.DB) {
		tx.InstanceSet(queryStartKey, time.Now())
	}
	after := func(tx *gorm.DB) {
		v, ok := tx.InstanceGet(queryStartKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}
		elapsed := time.Since(start)
		if elapsed <= threshold {
			return
		}

		logger.Warn("Slow query",
			zap.String("table", tx.Statement.Table),
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows", tx.Statement.RowsAffected),
		)
		if tx.Statement.Context == nil {
			return
		}
		span := trace.SpanFromContext(tx.Statement.Context)
		if !span.IsRecording() {
			return
		}
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			RecordError(span, tx.Error)
		}
	}

	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register("telemetry:before_create", before),
		cb.Query().Before("gorm:query").Register("telemetry:before_query", before),
		cb.Update().Before("gorm:update").Register("telemetry:before_update", before),
		cb.Delete().Before("gorm:delete").Register("telemetry:before_delete", before),
		cb.Row().Before("gorm:row").Register("telemetry:before_row", before),
		cb.Raw().Before("gorm:raw").Register("telemetry:before_raw", before),
		cb.Create().After("gorm:create").Register("telemetry:after_create", after),
		cb.Query().After("gorm:query").Register("telemetry:after_query", after),
		cb.Update().After("gorm:update").Register("telemetry:after_update", after),
		cb.Delete().After("gorm:delete").Register("telemetry:after_delete", after),
		cb.Row().After("gorm:row").Register("telemetry:after_row", after),
		cb.Raw().After("gorm:raw").Register("telemetry:after_raw", after),
	)
}
