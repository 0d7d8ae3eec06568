package observe

import (
	"context"
	"testing"
	"time"
)

func TestObserverContract_Noops(t *testing.T) {
	cfg := Config{
		ServiceName: "observe-test",
		Tracing: TracingConfig{
			Enabled:  false,
			Exporter: "none",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Exporter: "none",
		},
		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
		},
	}

	obs, err := NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}

	if obs.Tracer() == nil {
		t.Fatalf("expected non-nil tracer")
	}
	if obs.Meter() == nil {
		t.Fatalf("expected non-nil meter")
	}
	if obs.Logger() == nil {
		t.Fatalf("expected non-nil logger")
	}
}

func TestLoggerContract_WithOperation(t *testing.T) {
	logger := &noopLogger{}
	if logger.WithOperation(OperationMeta{Component: "engine", Operation: "noop"}) == nil {
		t.Fatalf("WithOperation should return non-nil logger")
	}
}

func TestMetricsContract_NoPanic(t *testing.T) {
	metrics := &noopMetrics{}
	meta := OperationMeta{Component: "engine", Operation: "noop"}
	metrics.RecordExecution(context.Background(), meta, 10*time.Millisecond, nil)
	metrics.RecordGauge(context.Background(), "depth", 3, meta)
}

func TestTracerContract_NoPanic(t *testing.T) {
	tracer := newNoopTracer()
	ctx := context.Background()
	meta := OperationMeta{Component: "engine", Operation: "noop"}
	_, span := tracer.StartSpan(ctx, meta)
	tracer.EndSpan(span, nil)
}
