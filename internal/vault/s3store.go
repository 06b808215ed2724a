package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

// S3SecretStore implements SecretStore on an S3-compatible object store.
// Wrapped key blobs are a few hundred bytes, so single-shot Put/Get is all
// the surface needed.
type S3SecretStore struct {
	client *s3.Client
	bucket string
}

// S3Config holds the configuration for connecting to the object store.
// S3-compatible providers (MinIO, R2) are supported via the Endpoint field.
type S3Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// NewS3SecretStore creates an S3SecretStore from the given configuration.
func NewS3SecretStore(ctx context.Context, cfg S3Config) (*S3SecretStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("vault: s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("vault: s3 region is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("vault: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3SecretStore{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Health performs a HeadBucket call to verify connectivity and permissions.
func (s *S3SecretStore) Health(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("vault: health check failed for bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put stores a wrapped key blob under the given name, overwriting any
// existing object.
func (s *S3SecretStore) Put(ctx context.Context, name string, blob []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("vault: put secret %s: %w", name, err)
	}
	return nil
}

// Get fetches a wrapped key blob by name. Returns domain.ErrSecretMissing
// when no object exists.
func (s *S3SecretStore) Get(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, domain.ErrSecretMissing
		}
		return nil, fmt.Errorf("vault: get secret %s: %w", name, err)
	}
	defer out.Body.Close()

	blob, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("vault: read secret %s: %w", name, err)
	}
	return blob, nil
}

// normaliseEndpoint ensures the endpoint has a scheme, defaulting to https.
func normaliseEndpoint(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	return "https://" + endpoint
}

// Compile-time interface check.
var _ SecretStore = (*S3SecretStore)(nil)
