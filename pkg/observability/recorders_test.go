package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

func TestRecorders_FanOut(t *testing.T) {
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())
	rs := Recorders{a, b}

	rs.RecordDecision(rbac.CapabilityView, true, false)
	rs.RecordMutation("rbac.CreateRole", "")
	rs.RecordCacheLookup("lru", true)
	rs.RecordStorageOperation("GetRole", "postgres", time.Millisecond, nil)

	for _, m := range []*Metrics{a, b} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("view", "true", "false")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("lru")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageOperationsTotal.WithLabelValues("GetRole", "postgres", "success")))
	}
}

func TestRecorders_Empty(t *testing.T) {
	assert.NotPanics(t, func() {
		Recorders(nil).RecordDecision(rbac.CapabilityEdit, false, false)
	})
}
