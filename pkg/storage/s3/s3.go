// Package s3 implements the storage.ObjectStore capability against Amazon
// S3 or any S3-compatible store (MinIO, R2).
//
// The store issues presigned PUT/GET URLs and performs HEAD/DELETE itself;
// it never reads or writes object bytes.
package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sharesync/sharesync/pkg/storage"
)

// Config contains S3 connection settings.
type Config struct {
	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	// Empty means AWS S3 proper.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	Region          string `mapstructure:"region" yaml:"region" validate:"required"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket" validate:"required"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`

	// ForcePathStyle uses path-style addressing, required by MinIO.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// KeyPrefix is an optional prefix for all object keys.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// ObjectStore implements storage.ObjectStore on the AWS SDK v2 client.
type ObjectStore struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	keyPrefix string
}

// NewClient creates an S3 client from configuration parameters.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return client, nil
}

// New creates an ObjectStore bound to the configured bucket. The bucket
// must already exist; this does not create it.
func New(ctx context.Context, cfg Config) (*ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg.Bucket, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing S3 client. Useful for tests.
func NewWithClient(client *s3.Client, bucket, keyPrefix string) *ObjectStore {
	return &ObjectStore{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    bucket,
		keyPrefix: keyPrefix,
	}
}

func (s *ObjectStore) fullKey(key string) string {
	if s.keyPrefix == "" {
		return key
	}
	return strings.TrimSuffix(s.keyPrefix, "/") + "/" + key
}

func (s *ObjectStore) PresignPut(ctx context.Context, key string, size int64, contentType string, ttl time.Duration) (*storage.PresignedURL, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.fullKey(key)),
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	// Content-Length and Content-Type become signed headers, so the PUT
	// is valid only for an object of exactly this size and type.
	req, err := s.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("presign put for %q: %w", key, err)
	}

	headers := map[string]string{
		"Content-Length": fmt.Sprintf("%d", size),
	}
	if contentType != "" {
		headers["Content-Type"] = contentType
	}

	return &storage.PresignedURL{
		URL:       req.URL,
		Method:    req.Method,
		Headers:   headers,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (s *ObjectStore) PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (*storage.PresignedURL, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	}
	if filename != "" {
		disposition := fmt.Sprintf("attachment; filename=%q", filename)
		input.ResponseContentDisposition = aws.String(disposition)
	}

	req, err := s.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("presign get for %q: %w", key, err)
	}

	return &storage.PresignedURL{
		URL:       req.URL,
		Method:    req.Method,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (s *ObjectStore) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("head %q: %w", key, err)
	}

	info := &storage.ObjectInfo{Key: key}
	if out.ContentLength != nil {
		info.SizeBytes = *out.ContentLength
	}
	return info, nil
}

func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	// S3 DeleteObject on a missing key succeeds, which matches the
	// idempotence the sweeper relies on.
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}
