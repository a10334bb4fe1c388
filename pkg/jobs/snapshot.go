package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/backstage/pkg/export"
	"github.com/platinummonkey/backstage/pkg/observability"
	"github.com/platinummonkey/backstage/pkg/rbac"
)

var tracer = otel.Tracer("backstage/jobs")

// Exporter stores one snapshot and returns where it went
type Exporter interface {
	Export(ctx context.Context, s export.Snapshot) (string, error)
}

// PresetSource lists and evaluates presets. *rbac.Aggregator implements it.
type PresetSource interface {
	ListPresets(ctx context.Context, owner string) ([]rbac.Preset, error)
	ApplyPreset(ctx context.Context, id string) (*rbac.AuthorityMatrix, error)
}

// SnapshotRecorder counts exports. observability.Metrics implements it.
type SnapshotRecorder interface {
	RecordSnapshot(err error)
}

type noopRecorder struct{}

func (noopRecorder) RecordSnapshot(error) {}

// Report summarizes one run
type Report struct {
	Exported []string
	Failed   map[string]error
	Duration time.Duration
}

// SnapshotJob exports the authority matrix of every preset
type SnapshotJob struct {
	presets  PresetSource
	exporter Exporter
	metrics  SnapshotRecorder
	logger   logrus.FieldLogger
	tenantID string
}

// NewSnapshotJob creates the job. A nil recorder disables metrics.
func NewSnapshotJob(presets PresetSource, exporter Exporter, metrics SnapshotRecorder, logger logrus.FieldLogger, tenantID string) *SnapshotJob {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SnapshotJob{
		presets:  presets,
		exporter: exporter,
		metrics:  metrics,
		logger:   logger.WithField("job", "snapshot"),
		tenantID: tenantID,
	}
}

// Name identifies the job in logs
func (j *SnapshotJob) Name() string {
	return "snapshot"
}

// Run exports every preset. A failing preset does not stop the others; the
// returned error is non-nil when listing fails or any preset failed.
func (j *SnapshotJob) Run(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "jobs.SnapshotJob.Run")
	defer span.End()

	logger := observability.LoggerWithTraceContext(ctx, j.logger)
	start := time.Now()
	presets, err := j.presets.ListPresets(ctx, "")
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}

	report := &Report{Failed: make(map[string]error)}
	for _, p := range presets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		key, err := j.exportOne(ctx, p)
		j.metrics.RecordSnapshot(err)
		if err != nil {
			report.Failed[p.ID] = err
			logger.WithError(err).WithField("preset_id", p.ID).Warn("Snapshot export failed")
			continue
		}
		report.Exported = append(report.Exported, key)
	}
	report.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("snapshots.exported", len(report.Exported)),
		attribute.Int("snapshots.failed", len(report.Failed)),
	)
	logger.WithFields(logrus.Fields{
		"exported": len(report.Exported),
		"failed":   len(report.Failed),
		"duration": report.Duration,
	}).Info("Snapshot run completed")

	if len(report.Failed) > 0 {
		return report, fmt.Errorf("%d of %d snapshots failed", len(report.Failed), len(presets))
	}
	return report, nil
}

func (j *SnapshotJob) exportOne(ctx context.Context, p rbac.Preset) (string, error) {
	matrix, err := j.presets.ApplyPreset(ctx, p.ID)
	if err != nil {
		return "", fmt.Errorf("failed to apply preset: %w", err)
	}
	return j.exporter.Export(ctx, export.NewSnapshot(j.tenantID, p, matrix))
}
