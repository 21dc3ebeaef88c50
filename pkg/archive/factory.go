package archive

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend selects the snapshot storage implementation.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// GCSConfig holds configuration for the GCS backend.
type GCSConfig struct {
	Bucket string
	Prefix string // optional key prefix
}

// Config selects and configures a snapshot store backend.
type Config struct {
	Backend Backend
	Dir     string // fs backend; default data/snapshots
	S3      S3Config
	GCS     GCSConfig
}

// NewStore builds the configured backend. An empty backend means the
// filesystem store. The gcs backend requires a build with the gcp tag.
func NewStore(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch cfg.Backend {
	case BackendFS, "":
		dir := cfg.Dir
		if dir == "" {
			dir = filepath.Join("data", "snapshots")
		}
		return NewFSStore(dir)
	case BackendS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("archive: s3 backend requires a bucket")
		}
		return NewS3Store(ctx, cfg.S3)
	case BackendGCS:
		if cfg.GCS.Bucket == "" {
			return nil, fmt.Errorf("archive: gcs backend requires a bucket")
		}
		return newGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("archive: unsupported backend %q", cfg.Backend)
	}
}
