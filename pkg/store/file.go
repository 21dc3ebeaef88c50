package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tillerlabs/tiller/pkg/governance"
	"github.com/tillerlabs/tiller/pkg/maintenance"
)

// fileDocument is the on-disk layout.
type fileDocument struct {
	Version uint64               `json:"version"`
	State   governance.State     `json:"state"`
	Reports []maintenance.Report `json:"reports,omitempty"`
}

// FileStore persists kernel state to a single local JSON file. Suited to
// single-node deployments; the mutex serializes writers in-process.
type FileStore struct {
	path string
	mu   sync.Mutex
	doc  fileDocument
}

// NewFileStore opens or creates a file-backed store at path.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read %s: %w", f.path, err)
	}
	if err := json.Unmarshal(raw, &f.doc); err != nil {
		return fmt.Errorf("store: parse %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) save() error {
	raw, err := json.MarshalIndent(f.doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, raw, 0600)
}

func (f *FileStore) LoadState(ctx context.Context) (governance.State, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneState(f.doc.State), f.doc.Version, nil
}

func (f *FileStore) SaveState(ctx context.Context, next governance.State, expectedVersion uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.doc.Version != expectedVersion {
		return 0, ErrVersionConflict
	}
	if uint64(len(next.Decisions)) < f.doc.Version {
		return 0, ErrStateTruncated
	}

	f.doc.State = cloneState(next)
	f.doc.Version = uint64(len(next.Decisions))
	if err := f.save(); err != nil {
		return 0, fmt.Errorf("store: write %s: %w", f.path, err)
	}
	return f.doc.Version, nil
}

func (f *FileStore) LoadReports(ctx context.Context) ([]maintenance.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]maintenance.Report(nil), f.doc.Reports...), nil
}

func (f *FileStore) SaveReports(ctx context.Context, reports []maintenance.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.doc.Reports = append([]maintenance.Report(nil), reports...)
	if err := f.save(); err != nil {
		return fmt.Errorf("store: write %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
