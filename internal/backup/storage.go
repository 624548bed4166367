// Package backup archives the three databases into a tar.gz with per-file
// checksums and ships it to S3-compatible object storage (AWS S3 or
// Cloudflare R2), with age-based rotation.
package backup

import (
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/config"
)

// Object is one stored backup archive.
type Object struct {
	Key       string
	SizeBytes int64
}

// Storage is the S3-compatible object store the archives land in.
type Storage struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// NewStorage builds a storage handle from the backup configuration. An empty
// endpoint targets AWS S3; otherwise the endpoint is used as-is (R2 and
// other S3-compatible stores).
func NewStorage(ctx context.Context, cfg *config.BackupConfig, log zerolog.Logger) (*Storage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
	})

	return &Storage{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		log:      log.With().Str("component", "backup_storage").Logger(),
	}, nil
}

// Upload streams one archive to the bucket.
func (s *Storage) Upload(ctx context.Context, key string, body io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// List returns objects under the prefix.
func (s *Storage) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			o := Object{Key: *obj.Key}
			if obj.Size != nil {
				o.SizeBytes = *obj.Size
			}
			out = append(out, o)
		}
	}
	return out, nil
}

// Delete removes one object.
func (s *Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
