package archive

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tillerlabs/tiller/pkg/canonicalize"
)

// FSStore keeps snapshot blobs in a directory, one file per address.
type FSStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFSStore creates the directory if needed and returns a store over it.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: ensure snapshot dir: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := canonicalize.HashBytes(data)
	address := "sha256:" + raw
	path := filepath.Join(s.dir, raw+".json")

	if _, err := os.Stat(path); err == nil {
		return address, nil
	}

	// Write to temp, then rename.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("archive: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("archive: commit snapshot: %w", err)
	}
	return address, nil
}

func (s *FSStore) Get(_ context.Context, address string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := rawAddress(address)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, raw+".json"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("archive: snapshot not found: %s", address)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: read snapshot: %w", err)
	}
	return data, nil
}

func (s *FSStore) Exists(_ context.Context, address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := rawAddress(address)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.dir, raw+".json"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("archive: stat snapshot: %w", err)
}

// rawAddress strips the hash prefix and validates the hex so an address can
// never escape the store directory.
func rawAddress(address string) (string, error) {
	if !strings.HasPrefix(address, "sha256:") {
		return "", fmt.Errorf("archive: invalid address format: %s", address)
	}
	raw := strings.TrimPrefix(address, "sha256:")
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("archive: invalid address hex: %w", err)
	}
	return raw, nil
}
