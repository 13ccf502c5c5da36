package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// AllocationMetrics holds the reservation instruments. A nil *AllocationMetrics is
// valid and records nothing.
type AllocationMetrics struct {
	requests  *Counter
	units     *Counter
	shortfall *Counter
	conflicts *Counter
	duration  *Histogram
}

// NewAllocationMetrics registers the reservation instruments on meter
func NewAllocationMetrics(meter metric.Meter) (*AllocationMetrics, error) {
	if meter == nil {
		return nil, errors.New("NewAllocationMetrics: meter cannot be nil")
	}

	m := &AllocationMetrics{}
	var err error
	if m.requests, err = NewCounter(meter, "allocation_requests_total",
		"Reservation runs by trigger", "{request}"); err != nil {
		return nil, err
	}
	if m.units, err = NewCounter(meter, "allocation_units_total",
		"Units deducted from batches by reservations", "{unit}"); err != nil {
		return nil, err
	}
	if m.shortfall, err = NewCounter(meter, "allocation_shortfall_units_total",
		"Requested units that could not be covered by active stock", "{unit}"); err != nil {
		return nil, err
	}
	if m.conflicts, err = NewCounter(meter, "allocation_conflicts_total",
		"Lost compare-and-set races on batch quantity", "{conflict}"); err != nil {
		return nil, err
	}
	if m.duration, err = NewHistogram(meter, HistogramOpts{
		Name:        "allocation_duration_seconds",
		Description: "Latency of a reservation run",
		Unit:        "s",
		Boundaries:  AllocationDurationBuckets,
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRequest counts one reservation run
func (m *AllocationMetrics) RecordRequest(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	m.requests.Inc(ctx, AttrTrigger.String(trigger))
}

// RecordAllocated counts units applied for a line outcome
func (m *AllocationMetrics) RecordAllocated(ctx context.Context, outcome string, units int64) {
	if m == nil || units <= 0 {
		return
	}
	m.units.Add(ctx, units, AttrOutcome.String(outcome))
}

// RecordShortfall counts uncovered units; kind is "product" or "variant"
func (m *AllocationMetrics) RecordShortfall(ctx context.Context, kind string, units int64) {
	if m == nil || units <= 0 {
		return
	}
	m.shortfall.Add(ctx, units, AttrStockKind.String(kind))
}

// RecordConflict counts one lost CAS race
func (m *AllocationMetrics) RecordConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.conflicts.Inc(ctx)
}

// RecordDuration records the latency of a reservation run
func (m *AllocationMetrics) RecordDuration(ctx context.Context, trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.RecordDuration(ctx, d, AttrTrigger.String(trigger))
}
