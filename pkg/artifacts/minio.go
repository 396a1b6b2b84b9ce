package artifacts

import (
	"context"
	"fmt"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures an S3-compatible artifact store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// MinioFetcher fetches artifacts from an S3-compatible bucket.
type MinioFetcher struct {
	client *miniogo.Client
	bucket string
}

// NewMinioFetcher creates a fetcher. Empty keys fall back to the standard
// AWS environment credential chain.
func NewMinioFetcher(cfg MinioConfig) (*MinioFetcher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("artifacts: bucket required")
	}

	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	if cfg.AccessKey == "" {
		creds = credentials.NewEnvAWS()
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioFetcher{client: client, bucket: cfg.Bucket}, nil
}

// Fetch downloads key into dest.
func (f *MinioFetcher) Fetch(ctx context.Context, key, dest string) error {
	if err := f.client.FGetObject(ctx, f.bucket, key, dest, miniogo.GetObjectOptions{}); err != nil {
		return fmt.Errorf("get %s/%s: %w", f.bucket, key, err)
	}
	return nil
}
