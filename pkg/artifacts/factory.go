package artifacts

import (
	"context"
	"fmt"
)

type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// Options selects and configures a backend. An empty Type means fs.
type Options struct {
	Type StoreType
	Dir  string

	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string

	GCSBucket string
	GCSPrefix string
}

func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Type {
	case "", StoreTypeFS:
		dir := opts.Dir
		if dir == "" {
			dir = "artifacts"
		}
		return NewFileStore(dir)
	case StoreTypeS3:
		if opts.S3Bucket == "" {
			return nil, fmt.Errorf("ARTIFACT_S3_BUCKET is required for S3 storage")
		}
		region := opts.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   opts.S3Bucket,
			Region:   region,
			Endpoint: opts.S3Endpoint,
			Prefix:   opts.S3Prefix,
		})
	case StoreTypeGCS:
		return openGCS(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", opts.Type)
	}
}
