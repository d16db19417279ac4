package telemetry

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// RegisterDBPoolMetrics publishes database/sql connection pool statistics as
// observable instruments sampled on every collection.
func RegisterDBPoolMetrics(meter metric.Meter, db *sql.DB) (metric.Registration, error) {
	connections, err := meter.Int64ObservableGauge("db_pool_connections",
		metric.WithDescription("Database connections by state"),
		metric.WithUnit("{connections}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge db_pool_connections: %w", err)
	}
	maxOpen, err := meter.Int64ObservableGauge("db_pool_connections_max",
		metric.WithDescription("Maximum number of open database connections"),
		metric.WithUnit("{connections}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge db_pool_connections_max: %w", err)
	}
	waits, err := meter.Int64ObservableCounter("db_pool_wait_total",
		metric.WithDescription("Total number of connections waited for"),
		metric.WithUnit("{waits}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter db_pool_wait_total: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := db.Stats()
		o.ObserveInt64(connections, int64(s.InUse), metric.WithAttributes(AttrDBState.String("in_use")))
		o.ObserveInt64(connections, int64(s.Idle), metric.WithAttributes(AttrDBState.String("idle")))
		o.ObserveInt64(maxOpen, int64(s.MaxOpenConnections))
		o.ObserveInt64(waits, s.WaitCount)
		return nil
	}, connections, maxOpen, waits)
}
