package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

type storedObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

type fakeS3 struct {
	mu           sync.Mutex
	objects      map[string]storedObject
	bucketExists bool
	created      int
	putErr       error
	headErr      error
	createErr    error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]storedObject), bucketExists: true}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = storedObject{
		body:        body,
		contentType: aws.ToString(in.ContentType),
		metadata:    in.Metadata,
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if !f.bucketExists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.bucketExists = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) object(key string) (storedObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[key]
	return o, ok
}

func testSnapshot() Snapshot {
	preset := rbac.Preset{
		ID:      "preset-1",
		Owner:   "user-1",
		Name:    "Finance view",
		RoleIDs: []rbac.RoleID{"r1", "r2"},
		Modules: []string{"finance"},
	}
	matrix := &rbac.AuthorityMatrix{
		Modules:     map[string]map[string]int{"finance": {"Planner": 2, "Director": 4}},
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	return NewSnapshot("acme", preset, matrix)
}

func TestExport(t *testing.T) {
	client := newFakeS3()
	e := NewS3ExporterWithClient(client, "bucket", "/snapshots/")

	key, err := e.Export(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, "snapshots/acme/preset-1/2026-03-01T12:00:00Z.json", key)

	obj, ok := client.object(key)
	require.True(t, ok)
	assert.Equal(t, "application/json", obj.contentType)

	sum := sha256.Sum256(obj.body)
	assert.Equal(t, hex.EncodeToString(sum[:]), obj.metadata["checksum-sha256"])
	assert.Equal(t, "preset-1", obj.metadata["preset-id"])

	var got Snapshot
	require.NoError(t, json.Unmarshal(obj.body, &got))
	assert.Equal(t, "Finance view", got.PresetName)
	assert.Equal(t, 4, got.Matrix.Modules["finance"]["Director"])
}

func TestExportWithoutPrefix(t *testing.T) {
	e := NewS3ExporterWithClient(newFakeS3(), "bucket", "")
	assert.Equal(t, "acme/preset-1/2026-03-01T12:00:00Z.json", e.Key(testSnapshot()))
}

func TestExportErrors(t *testing.T) {
	t.Run("missing matrix", func(t *testing.T) {
		e := NewS3ExporterWithClient(newFakeS3(), "bucket", "")
		s := testSnapshot()
		s.Matrix = nil
		_, err := e.Export(context.Background(), s)
		require.Error(t, err)
	})

	t.Run("upload failure", func(t *testing.T) {
		client := newFakeS3()
		client.putErr = errors.New("connection reset")
		e := NewS3ExporterWithClient(client, "bucket", "")
		_, err := e.Export(context.Background(), testSnapshot())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to upload to s3")
	})
}

func TestEnsureBucket(t *testing.T) {
	tests := []struct {
		name        string
		exists      bool
		createErr   error
		wantCreated int
		wantErr     bool
	}{
		{name: "exists", exists: true},
		{name: "created", wantCreated: 1},
		{name: "already owned", createErr: &types.BucketAlreadyOwnedByYou{}, wantCreated: 1},
		{name: "already exists", createErr: &types.BucketAlreadyExists{}, wantCreated: 1},
		{name: "create fails", createErr: errors.New("access denied"), wantCreated: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeS3()
			client.bucketExists = tt.exists
			client.createErr = tt.createErr
			e := NewS3ExporterWithClient(client, "bucket", "")

			err := e.EnsureBucket(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCreated, client.created)
		})
	}
}

func TestHealthCheck(t *testing.T) {
	client := newFakeS3()
	e := NewS3ExporterWithClient(client, "bucket", "")
	assert.NoError(t, e.HealthCheck(context.Background()))

	client.headErr = errors.New("timeout")
	assert.Error(t, e.HealthCheck(context.Background()))
}
