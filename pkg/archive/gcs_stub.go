//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

func newGCSStore(_ context.Context, _ GCSConfig) (ObjectStore, error) {
	return nil, fmt.Errorf("archive: gcs backend is not enabled in this build (use -tags gcp)")
}
