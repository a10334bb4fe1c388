package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

var tracer = otel.Tracer("backstage/export")

// ObjectAPI is the subset of the S3 client the exporter calls
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Config locates the bucket
type Config struct {
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// Snapshot is one exported authority view
type Snapshot struct {
	TenantID   string                `json:"tenant_id"`
	PresetID   string                `json:"preset_id"`
	PresetName string                `json:"preset_name"`
	Owner      string                `json:"owner"`
	RoleIDs    []rbac.RoleID         `json:"role_ids"`
	Modules    []string              `json:"modules,omitempty"`
	Matrix     *rbac.AuthorityMatrix `json:"matrix"`
}

// NewSnapshot pairs a preset with the matrix computed from it
func NewSnapshot(tenantID string, preset rbac.Preset, matrix *rbac.AuthorityMatrix) Snapshot {
	return Snapshot{
		TenantID:   tenantID,
		PresetID:   preset.ID,
		PresetName: preset.Name,
		Owner:      preset.Owner,
		RoleIDs:    preset.RoleIDs,
		Modules:    preset.Modules,
		Matrix:     matrix,
	}
}

// S3Exporter uploads snapshots
type S3Exporter struct {
	client ObjectAPI
	bucket string
	prefix string
}

// NewS3Exporter builds an AWS client from cfg. Static credentials are used when
// both keys are set; otherwise the default credential chain applies.
func NewS3Exporter(ctx context.Context, cfg Config) (*S3Exporter, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewS3ExporterWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3ExporterWithClient wraps an existing client
func NewS3ExporterWithClient(client ObjectAPI, bucket, prefix string) *S3Exporter {
	return &S3Exporter{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// EnsureBucket creates the bucket when it does not exist (local MinIO)
func (e *S3Exporter) EnsureBucket(ctx context.Context) error {
	if _, err := e.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(e.bucket)}); err == nil {
		return nil
	}

	_, err := e.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(e.bucket)})
	if err != nil && !isBucketAlreadyExistsError(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable
func (e *S3Exporter) HealthCheck(ctx context.Context) error {
	if _, err := e.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(e.bucket)}); err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

// Key returns the object key of a snapshot
func (e *S3Exporter) Key(s Snapshot) string {
	ts := time.Time{}
	if s.Matrix != nil {
		ts = s.Matrix.GeneratedAt
	}
	name := ts.UTC().Format(time.RFC3339) + ".json"
	return path.Join(e.prefix, s.TenantID, s.PresetID, name)
}

// Export uploads s and returns its key
func (e *S3Exporter) Export(ctx context.Context, s Snapshot) (string, error) {
	key := e.Key(s)
	ctx, span := tracer.Start(ctx, "export.S3Exporter.Export",
		trace.WithAttributes(
			attribute.String("s3.bucket", e.bucket),
			attribute.String("s3.key", key),
			attribute.String("preset_id", s.PresetID),
		),
	)
	defer span.End()

	if s.Matrix == nil {
		err := errors.New("snapshot has no matrix")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	data, err := json.Marshal(s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode snapshot")
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	span.SetAttributes(attribute.Int("content.size", len(data)))

	hash := sha256.Sum256(data)
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(hash[:]),
			"preset-id":       s.PresetID,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return "", fmt.Errorf("failed to upload to s3: %w", err)
	}

	span.SetStatus(codes.Ok, "snapshot uploaded")
	return key, nil
}

func isBucketAlreadyExistsError(err error) bool {
	var exists *types.BucketAlreadyExists
	var owned *types.BucketAlreadyOwnedByYou
	return errors.As(err, &exists) || errors.As(err, &owned)
}
