package telemetry

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel/metric"
)

// StatsSource is satisfied by *sql.DB
type StatsSource interface {
	Stats() sql.DBStats
}

// RegisterDBPoolMetrics exposes connection pool statistics as observable gauges that
// are read on every collection. The returned registration must be unregistered on shutdown.
func RegisterDBPoolMetrics(meter metric.Meter, src StatsSource) (metric.Registration, error) {
	if meter == nil || src == nil {
		return nil, errors.New("RegisterDBPoolMetrics: meter and stats source are required")
	}

	conns, err := meter.Int64ObservableGauge("db_pool_connections",
		metric.WithDescription("Connections in the pool by state"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return nil, err
	}
	maxConns, err := meter.Int64ObservableGauge("db_pool_connections_max",
		metric.WithDescription("Maximum open connections"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return nil, err
	}
	waits, err := meter.Int64ObservableCounter("db_pool_wait_total",
		metric.WithDescription("Connections waited for"),
		metric.WithUnit("{wait}"))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := src.Stats()
		o.ObserveInt64(conns, int64(s.InUse), metric.WithAttributes(AttrDBPoolStat.String("in_use")))
		o.ObserveInt64(conns, int64(s.Idle), metric.WithAttributes(AttrDBPoolStat.String("idle")))
		o.ObserveInt64(maxConns, int64(s.MaxOpenConnections))
		o.ObserveInt64(waits, s.WaitCount)
		return nil
	}, conns, maxConns, waits)
}
