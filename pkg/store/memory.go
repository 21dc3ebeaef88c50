package store

import (
	"context"
	"sync"

	"github.com/tillerlabs/tiller/pkg/governance"
	"github.com/tillerlabs/tiller/pkg/maintenance"
)

// MemoryStore keeps everything in process memory. Default for tests and
// single-process development.
type MemoryStore struct {
	mu      sync.RWMutex
	state   governance.State
	version uint64
	reports []maintenance.Report
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) LoadState(ctx context.Context) (governance.State, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneState(m.state), m.version, nil
}

func (m *MemoryStore) SaveState(ctx context.Context, next governance.State, expectedVersion uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.version != expectedVersion {
		return 0, ErrVersionConflict
	}
	if uint64(len(next.Decisions)) < m.version {
		return 0, ErrStateTruncated
	}

	m.state = cloneState(next)
	m.version = uint64(len(next.Decisions))
	return m.version, nil
}

func (m *MemoryStore) LoadReports(ctx context.Context) ([]maintenance.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]maintenance.Report(nil), m.reports...), nil
}

func (m *MemoryStore) SaveReports(ctx context.Context, reports []maintenance.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append([]maintenance.Report(nil), reports...)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneState(s governance.State) governance.State {
	return governance.State{Decisions: append([]governance.Decision(nil), s.Decisions...)}
}
