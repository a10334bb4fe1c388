package observability

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitOTel_Disabled(t *testing.T) {
	logger, _ := test.NewNullLogger()

	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, logger)

	assert.NoError(t, err)
	assert.Nil(t, providers)
}

// OTLP exporters connect lazily, so creation succeeds without a collector
func TestInitOTel_UnreachableEndpoint(t *testing.T) {
	logger, _ := test.NewNullLogger()

	providers, err := InitOTel(context.Background(), OTelConfig{
		Enabled:        true,
		Endpoint:       "127.0.0.1:1",
		ServiceName:    "backstage-test",
		ServiceVersion: "test",
		Insecure:       true,
		SampleRatio:    0.5,
	}, logger)
	require.NoError(t, err)
	require.NotNil(t, providers)
	assert.NotNil(t, providers.TracerProvider)
	assert.NotNil(t, providers.MeterProvider)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = ShutdownOTel(ctx, providers, logger)
}

func TestResourceAttributes(t *testing.T) {
	attrs := resourceAttributes(OTelConfig{ServiceName: "backstage", ServiceVersion: "1.2.3"})
	assert.Len(t, attrs, 2)

	attrs = resourceAttributes(OTelConfig{ServiceName: "backstage", TenantID: "acme"})
	require.Len(t, attrs, 3)
	assert.Equal(t, "backstage.tenant_id", string(attrs[2].Key))
	assert.Equal(t, "acme", attrs[2].Value.AsString())
}

func TestShutdownOTel_Nil(t *testing.T) {
	logger, _ := test.NewNullLogger()
	assert.NoError(t, ShutdownOTel(context.Background(), nil, logger))
}

func TestSamplerFor(t *testing.T) {
	assert.Contains(t, samplerFor(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, samplerFor(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased")
}

func TestLoggerWithTraceContext(t *testing.T) {
	logger, hook := test.NewNullLogger()

	// no active span leaves the logger untouched
	LoggerWithTraceContext(context.Background(), logger).Info("plain")
	_, hasTrace := hook.LastEntry().Data["trace_id"]
	assert.False(t, hasTrace)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	LoggerWithTraceContext(ctx, logger).Info("traced")
	entry := hook.LastEntry()
	assert.Equal(t, span.SpanContext().TraceID().String(), entry.Data["trace_id"])
	assert.Equal(t, logrus.InfoLevel, entry.Level)
}
