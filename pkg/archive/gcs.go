//go:build gcp

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/tillerlabs/tiller/pkg/canonicalize"
)

// GCSStore keeps snapshot blobs in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a GCS-backed snapshot store. Credentials come from
// Application Default Credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(raw string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + raw + ".json")
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	raw := canonicalize.HashBytes(data)
	address := "sha256:" + raw

	obj := s.object(raw)
	if _, err := obj.Attrs(ctx); err == nil {
		return address, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive: gcs close: %w", err)
	}
	return address, nil
}

func (s *GCSStore) Get(ctx context.Context, address string) ([]byte, error) {
	raw, err := rawAddress(address)
	if err != nil {
		return nil, err
	}

	reader, err := s.object(raw).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: gcs get %s: %w", address, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("archive: gcs read %s: %w", address, err)
	}
	return data, nil
}

func (s *GCSStore) Exists(ctx context.Context, address string) (bool, error) {
	raw, err := rawAddress(address)
	if err != nil {
		return false, err
	}

	_, err = s.object(raw).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("archive: gcs attrs: %w", err)
	}
	return true, nil
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func newGCSStore(ctx context.Context, cfg GCSConfig) (ObjectStore, error) {
	return NewGCSStore(ctx, cfg)
}
