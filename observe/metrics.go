package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records execution metrics for core operations.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordExecution records one operation's duration and error status.
	RecordExecution(ctx context.Context, meta OperationMeta, duration time.Duration, err error)

	// RecordGauge records an instantaneous value, e.g. pool worker counts,
	// DLQ depth, or circuit-breaker consecutive-failure counts.
	RecordGauge(ctx context.Context, name string, value float64, meta OperationMeta)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	gauges       metric.Float64Gauge
}

// newMetrics creates a new Metrics instance with the given meter.
func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"mahavishnu.op.total",
		metric.WithDescription("Total number of core operations executed"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"mahavishnu.op.errors",
		metric.WithDescription("Total number of core operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"mahavishnu.op.duration_ms",
		metric.WithDescription("Core operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	gauges, err := meter.Float64Gauge(
		"mahavishnu.op.gauge",
		metric.WithDescription("Point-in-time values: pool worker counts, DLQ depth, breaker failure counts"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
		gauges:       gauges,
	}, nil
}

func attrsFor(meta OperationMeta) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("component", meta.Component),
		attribute.String("operation", meta.Operation),
	}
	if meta.Engine != "" {
		attrs = append(attrs, attribute.String("engine", meta.Engine))
	}
	return attrs
}

// RecordExecution records metrics for one operation.
func (m *metricsImpl) RecordExecution(ctx context.Context, meta OperationMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(attrsFor(meta)...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// RecordGauge records a point-in-time value under the given metric name.
func (m *metricsImpl) RecordGauge(ctx context.Context, name string, value float64, meta OperationMeta) {
	attrs := append(attrsFor(meta), attribute.String("gauge", name))
	m.gauges.Record(ctx, value, metric.WithAttributes(attrs...))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordExecution(ctx context.Context, meta OperationMeta, duration time.Duration, err error) {
}

func (m *noopMetrics) RecordGauge(ctx context.Context, name string, value float64, meta OperationMeta) {
}
