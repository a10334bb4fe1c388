package observability

import (
	"time"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

// Recorders fans engine and storage measurements out to several backends,
// typically Prometheus and OTLP
type Recorders []interface {
	rbac.MetricsRecorder
	RecordStorageOperation(operation, backend string, duration time.Duration, err error)
}

var _ rbac.MetricsRecorder = Recorders(nil)

func (rs Recorders) RecordDecision(action rbac.Capability, allowed, bypass bool) {
	for _, r := range rs {
		r.RecordDecision(action, allowed, bypass)
	}
}

func (rs Recorders) RecordCacheLookup(cache string, hit bool) {
	for _, r := range rs {
		r.RecordCacheLookup(cache, hit)
	}
}

func (rs Recorders) RecordMutation(op string, kind rbac.Kind) {
	for _, r := range rs {
		r.RecordMutation(op, kind)
	}
}

func (rs Recorders) RecordStorageOperation(operation, backend string, duration time.Duration, err error) {
	for _, r := range rs {
		r.RecordStorageOperation(operation, backend, duration, err)
	}
}
