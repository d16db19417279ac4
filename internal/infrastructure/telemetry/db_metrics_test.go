package telemetry

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRegisterDBPoolMetrics(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(7)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	reg, err := RegisterDBPoolMetrics(mp.Meter("test"), db)
	require.NoError(t, err)
	defer reg.Unregister()

	metrics := collectNames(t, reader)
	require.Contains(t, metrics, "db_pool_connections")
	require.Contains(t, metrics, "db_pool_wait_total")

	maxGauge, ok := metrics["db_pool_connections_max"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, maxGauge.DataPoints, 1)
	assert.Equal(t, int64(7), maxGauge.DataPoints[0].Value)

	conns, ok := metrics["db_pool_connections"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Len(t, conns.DataPoints, 2)
}
