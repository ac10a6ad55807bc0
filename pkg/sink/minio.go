package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// ContentType of written objects.
const ContentType = "application/geo+json"

// MinioConfig holds S3-compatible object storage settings.
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`

	// Prefix is prepended to every object key.
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
	UseSSL bool   `mapstructure:"use_ssl"`
}

// MinioSink writes collections as objects in a bucket.
type MinioSink struct {
	client *minio.Client
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewMinioSink connects to the object store and creates the bucket when it
// does not exist yet.
func NewMinioSink(ctx context.Context, cfg MinioConfig, logger zerolog.Logger) (*MinioSink, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info().Str("bucket", cfg.Bucket).Msg("Bucket created")
	}

	return &MinioSink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

// Key returns the object key for target.
func (s *MinioSink) Key(target Target) string {
	if s.prefix == "" {
		return target.Path()
	}
	return path.Join(s.prefix, target.Path())
}

// Write uploads fc and returns its minio://bucket/key location.
func (s *MinioSink) Write(ctx context.Context, target Target, fc arcgis.FeatureCollection) (string, error) {
	key := s.Key(target)
	n, err := s.put(ctx, key, fc)
	record("minio", n, err)
	if err != nil {
		return "", err
	}

	location := fmt.Sprintf("minio://%s/%s", s.bucket, key)
	s.logger.Info().
		Str("location", location).
		Int("features", len(fc.Features)).
		Int("bytes", n).
		Msg("Collection uploaded")
	return location, nil
}

func (s *MinioSink) put(ctx context.Context, key string, fc arcgis.FeatureCollection) (int, error) {
	data, err := encode(fc)
	if err != nil {
		return 0, err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: ContentType,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return len(data), nil
}
