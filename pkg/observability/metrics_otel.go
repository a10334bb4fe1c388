package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

// OTelMetrics mirrors the engine measurements as OpenTelemetry instruments so
// they can be exported over OTLP alongside traces.
type OTelMetrics struct {
	decisions       metric.Int64Counter
	mutations       metric.Int64Counter
	cacheLookups    metric.Int64Counter
	storageDuration metric.Float64Histogram
}

var _ rbac.MetricsRecorder = (*OTelMetrics)(nil)

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/backstage")

	m := &OTelMetrics{}
	var err error

	m.decisions, err = meter.Int64Counter(
		"rbac.decisions",
		metric.WithDescription("Permission decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rbac.decisions counter: %w", err)
	}

	m.mutations, err = meter.Int64Counter(
		"rbac.mutations",
		metric.WithDescription("Role and grant mutations by outcome"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rbac.mutations counter: %w", err)
	}

	m.cacheLookups, err = meter.Int64Counter(
		"cache.lookups",
		metric.WithDescription("Cache lookups by cache and result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.lookups counter: %w", err)
	}

	m.storageDuration, err = meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	return m, nil
}

// RecordDecision counts one resolver decision
func (m *OTelMetrics) RecordDecision(action rbac.Capability, allowed, bypass bool) {
	m.decisions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.Bool("allowed", allowed),
		attribute.Bool("bypass", bypass),
	))
}

// RecordCacheLookup counts a cache hit or miss
func (m *OTelMetrics) RecordCacheLookup(cache string, hit bool) {
	m.cacheLookups.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.Bool("hit", hit),
	))
}

// RecordMutation counts a mutation; an empty kind means success
func (m *OTelMetrics) RecordMutation(op string, kind rbac.Kind) {
	result := "ok"
	if kind != "" {
		result = string(kind)
	}
	m.mutations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", result),
	))
}

// RecordStorageOperation records the duration of one backend call
func (m *OTelMetrics) RecordStorageOperation(operation, backend string, duration time.Duration, err error) {
	m.storageDuration.Record(context.Background(), duration.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("backend", backend),
		attribute.Bool("error", err != nil),
	))
}
