package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the OTel meter and tracer name used across warden.
const InstrumentationName = "github.com/platinummonkey/warden"

// OTelMetrics holds OpenTelemetry metric instruments
type OTelMetrics struct {
	decisionsTotal   metric.Int64Counter
	decisionDuration metric.Float64Histogram
	storageErrors    metric.Int64Counter
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	assignments      metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider. Call it
// after InitOTel so the instruments export through the configured collector.
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter(InstrumentationName))
}

// NewOTelMetricsWithMeter creates instruments on the given meter.
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.decisionsTotal, err = meter.Int64Counter(
		"warden.decisions",
		metric.WithDescription("Total number of authorization decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	m.decisionDuration, err = meter.Float64Histogram(
		"warden.decision.duration",
		metric.WithDescription("Authorization decision latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision duration histogram: %w", err)
	}

	m.storageErrors, err = meter.Int64Counter(
		"warden.storage.errors",
		metric.WithDescription("Total number of assignment store failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage errors counter: %w", err)
	}

	m.cacheHits, err = meter.Int64Counter(
		"warden.cache.hits",
		metric.WithDescription("Total number of permission cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.cacheMisses, err = meter.Int64Counter(
		"warden.cache.misses",
		metric.WithDescription("Total number of permission cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	m.assignments, err = meter.Int64Counter(
		"warden.assignments",
		metric.WithDescription("Total number of role assignment writes by outcome"),
		metric.WithUnit("{assignment}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create assignments counter: %w", err)
	}

	return m, nil
}

// RecordDecision records an authorization decision
func (m *OTelMetrics) RecordDecision(ctx context.Context, rule string, allowed bool, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("warden.rule", rule),
		attribute.Bool("warden.allowed", allowed),
	)
	m.decisionsTotal.Add(ctx, 1, attrs)
	m.decisionDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordStorageError records a store failure
func (m *OTelMetrics) RecordStorageError(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.storageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("db.operation", operation)))
}

// RecordCacheLookup records a cache hit or miss
func (m *OTelMetrics) RecordCacheLookup(ctx context.Context, backend string, hit bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("cache.type", backend))
	if hit {
		m.cacheHits.Add(ctx, 1, attrs)
		return
	}
	m.cacheMisses.Add(ctx, 1, attrs)
}

// RecordAssignment records a role assignment write
func (m *OTelMetrics) RecordAssignment(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.assignments.Add(ctx, 1, metric.WithAttributes(attribute.String("warden.outcome", outcome)))
}
