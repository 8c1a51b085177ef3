package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives authorization telemetry. Metrics and OTelMetrics both
// implement it; MultiRecorder fans out to several.
type Recorder interface {
	RecordDecision(ctx context.Context, rule string, allowed bool, duration time.Duration)
	RecordStorageError(ctx context.Context, operation string)
	RecordCacheLookup(ctx context.Context, backend string, hit bool)
	RecordAssignment(ctx context.Context, outcome string)
}

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Decision metrics
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec

	// Storage metrics
	StorageErrorsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Administration metrics
	AssignmentsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"rule", "allowed"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_decision_duration_seconds",
				Help:    "Authorization decision latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
			[]string{"rule"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_storage_errors_total",
				Help: "Total number of assignment store failures",
			},
			[]string{"operation"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
			[]string{"backend"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
			[]string{"backend"},
		),
		AssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_assignments_total",
				Help: "Total number of role assignment writes by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.DecisionsTotal,
		m.DecisionDuration,
		m.StorageErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.AssignmentsTotal,
	)

	return m
}

// RecordDecision counts one authorization decision and its latency.
func (m *Metrics) RecordDecision(_ context.Context, rule string, allowed bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(rule, strconv.FormatBool(allowed)).Inc()
	m.DecisionDuration.WithLabelValues(rule).Observe(duration.Seconds())
}

// RecordStorageError counts a failed store operation.
func (m *Metrics) RecordStorageError(_ context.Context, operation string) {
	if m == nil {
		return
	}
	m.StorageErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordCacheLookup counts a permission cache hit or miss.
func (m *Metrics) RecordCacheLookup(_ context.Context, backend string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(backend).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(backend).Inc()
}

// RecordAssignment counts a role assignment write ("created", "updated", "revoked", "rejected").
func (m *Metrics) RecordAssignment(_ context.Context, outcome string) {
	if m == nil {
		return
	}
	m.AssignmentsTotal.WithLabelValues(outcome).Inc()
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(context.Context, string, bool, time.Duration) {}
func (nopRecorder) RecordStorageError(context.Context, string)                  {}
func (nopRecorder) RecordCacheLookup(context.Context, string, bool)             {}
func (nopRecorder) RecordAssignment(context.Context, string)                    {}

// NopRecorder returns a Recorder that drops everything.
func NopRecorder() Recorder {
	return nopRecorder{}
}

type multiRecorder []Recorder

// MultiRecorder returns a Recorder that forwards to every non-nil recorder.
func MultiRecorder(recorders ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return NopRecorder()
	}
	return out
}

func (m multiRecorder) RecordDecision(ctx context.Context, rule string, allowed bool, duration time.Duration) {
	for _, r := range m {
		r.RecordDecision(ctx, rule, allowed, duration)
	}
}

func (m multiRecorder) RecordStorageError(ctx context.Context, operation string) {
	for _, r := range m {
		r.RecordStorageError(ctx, operation)
	}
}

func (m multiRecorder) RecordCacheLookup(ctx context.Context, backend string, hit bool) {
	for _, r := range m {
		r.RecordCacheLookup(ctx, backend, hit)
	}
}

func (m multiRecorder) RecordAssignment(ctx context.Context, outcome string) {
	for _, r := range m {
		r.RecordAssignment(ctx, outcome)
	}
}
