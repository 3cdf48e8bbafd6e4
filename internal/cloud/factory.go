package cloud

import (
	"context"
	"fmt"
	"os"

	"mdsync/internal/config"
	"mdsync/internal/mdsync"
)

// Environment variables holding static S3 credentials. When unset the AWS
// default credential chain is used.
const (
	EnvS3AccessKeyID     = "MDSYNC_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "MDSYNC_S3_SECRET_ACCESS_KEY"
)

// NewBackendFromConfig creates a CloudBackend based on the cloud config type.
// token supplies the OAuth access token for the drive backend.
func NewBackendFromConfig(ctx context.Context, cfg config.CloudConfig, token TokenFunc, clock mdsync.Clock) (mdsync.CloudBackend, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryBackend(clock), nil
	case "drive", "":
		if token == nil {
			return nil, fmt.Errorf("drive backend requires a token source")
		}
		return NewDrive(cfg.APIBaseURL, token), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 backend requires s3_bucket to be set")
		}
		return NewS3(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     os.Getenv(EnvS3AccessKeyID),
			SecretAccessKey: os.Getenv(EnvS3SecretAccessKey),
		})
	default:
		return nil, fmt.Errorf("unknown cloud type: %s", cfg.Type)
	}
}
