//go:build integration

package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupMinIO(t *testing.T) *S3Exporter {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start MinIO container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: Failed to terminate MinIO container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	e, err := NewS3Exporter(ctx, Config{
		Bucket:         "snapshots",
		Prefix:         "backstage",
		Region:         "us-east-1",
		Endpoint:       "http://" + host + ":" + port.Port(),
		AccessKey:      "minioadmin",
		SecretKey:      "minioadmin",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	require.NoError(t, e.EnsureBucket(ctx))
	return e
}

func TestExport_Integration(t *testing.T) {
	e := setupMinIO(t)
	ctx := context.Background()

	require.NoError(t, e.HealthCheck(ctx))
	key, err := e.Export(ctx, testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, "backstage/acme/preset-1/2026-03-01T12:00:00Z.json", key)
}
