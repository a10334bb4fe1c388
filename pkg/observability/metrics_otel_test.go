package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

// setupTestMeterProvider creates a test meter provider with a manual reader
func setupTestMeterProvider(t *testing.T) *metric.ManualReader {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader
}

func collectSums(t *testing.T, reader *metric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	return sums
}

func TestOTelMetrics_RecordsEngineEvents(t *testing.T) {
	reader := setupTestMeterProvider(t)

	m, err := NewOTelMetrics()
	require.NoError(t, err)

	m.RecordDecision(rbac.CapabilityView, true, false)
	m.RecordDecision(rbac.CapabilityEdit, false, false)
	m.RecordMutation("rbac.DeleteRole", rbac.KindRoleInUse)
	m.RecordCacheLookup("decision", true)
	m.RecordStorageOperation("get_grant", "sqlite", time.Millisecond, nil)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(2), sums["rbac.decisions"])
	assert.Equal(t, int64(1), sums["rbac.mutations"])
	assert.Equal(t, int64(1), sums["cache.lookups"])
}
