package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records execution metrics for dispatched storage operations.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordOp records one dispatched operation with its duration,
	// downstream attempt count, and error status.
	RecordOp(ctx context.Context, meta OpMeta, duration time.Duration, attempts int, err error)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	attemptCount metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates a Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	totalCount, err := meter.Int64Counter(
		"storage.op.total",
		metric.WithDescription("Total number of dispatched storage operations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"storage.op.errors",
		metric.WithDescription("Total number of failed storage operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	attemptCount, err := meter.Int64Counter(
		"storage.op.attempts",
		metric.WithDescription("Total number of downstream HTTP attempts, retries included"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"storage.op.duration_ms",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		totalCount:   totalCount,
		errorCount:   errorCount,
		attemptCount: attemptCount,
		durationHist: durationHist,
	}, nil
}

// RecordOp records metrics for one dispatched operation.
func (m *metricsImpl) RecordOp(ctx context.Context, meta OpMeta, duration time.Duration, attempts int, err error) {
	opt := metric.WithAttributes(
		attribute.String("op.category", meta.Category),
	)

	m.totalCount.Add(ctx, 1, opt)

	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}

	if attempts > 0 {
		m.attemptCount.Add(ctx, int64(attempts), opt)
	}

	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// nopMetrics is a metrics implementation that does nothing.
type nopMetrics struct{}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }

func (nopMetrics) RecordOp(context.Context, OpMeta, time.Duration, int, error) {}
