package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	require.NotNil(t, m)
	assert.NotNil(t, m.DecisionsTotal)
	assert.NotNil(t, m.DecisionDuration)
	assert.NotNil(t, m.StorageErrorsTotal)
	assert.NotNil(t, m.CacheHitsTotal)
	assert.NotNil(t, m.CacheMissesTotal)
	assert.NotNil(t, m.AssignmentsTotal)

	t.Run("double registration panics", func(t *testing.T) {
		assert.Panics(t, func() { NewMetrics(registry) })
	})
}

func TestMetrics_Record(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDecision(ctx, "entity", true, time.Millisecond)
	m.RecordDecision(ctx, "entity", true, time.Millisecond)
	m.RecordDecision(ctx, "deny", false, time.Millisecond)
	m.RecordStorageError(ctx, "active_assignments")
	m.RecordCacheLookup(ctx, "memory", true)
	m.RecordCacheLookup(ctx, "memory", false)
	m.RecordCacheLookup(ctx, "memory", false)
	m.RecordAssignment(ctx, "created")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("entity", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("deny", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageErrorsTotal.WithLabelValues("active_assignments")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("memory")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("memory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AssignmentsTotal.WithLabelValues("created")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.DecisionDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordDecision(ctx, "deny", false, time.Second)
		m.RecordStorageError(ctx, "op")
		m.RecordCacheLookup(ctx, "redis", true)
		m.RecordAssignment(ctx, "updated")
	})
}

func TestMultiRecorder(t *testing.T) {
	ctx := context.Background()
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	r := MultiRecorder(a, nil, b)
	r.RecordDecision(ctx, "superuser", true, time.Microsecond)
	r.RecordAssignment(ctx, "revoked")

	for _, m := range []*Metrics{a, b} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("superuser", "true")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.AssignmentsTotal.WithLabelValues("revoked")))
	}

	t.Run("empty falls back to nop", func(t *testing.T) {
		assert.Equal(t, NopRecorder(), MultiRecorder())
	})
}

func TestOTelMetrics_Record(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()

	m, err := NewOTelMetricsWithMeter(provider.Meter(InstrumentationName))
	require.NoError(t, err)

	m.RecordDecision(ctx, "ownership", true, time.Millisecond)
	m.RecordStorageError(ctx, "upsert_assignment")
	m.RecordCacheLookup(ctx, "redis", true)
	m.RecordCacheLookup(ctx, "redis", false)
	m.RecordAssignment(ctx, "created")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := make(map[string]bool)
	for _, md := range rm.ScopeMetrics[0].Metrics {
		names[md.Name] = true
	}
	for _, want := range []string{
		"warden.decisions",
		"warden.decision.duration",
		"warden.storage.errors",
		"warden.cache.hits",
		"warden.cache.misses",
		"warden.assignments",
	} {
		assert.True(t, names[want], "missing instrument %s", want)
	}
}

func TestOTelMetrics_NilSafe(t *testing.T) {
	var m *OTelMetrics
	assert.NotPanics(t, func() {
		m.RecordDecision(context.Background(), "deny", false, 0)
		m.RecordCacheLookup(context.Background(), "memory", false)
	})
}
