// Package archive exports governance ledger snapshots to content-addressed
// object storage. A snapshot is the canonical encoding of the decision
// sequence plus the chain head and constitution version, addressed by its
// SHA-256 digest. The address derives from the content alone, so
// re-exporting an unchanged ledger lands on the same object and an auditor
// can re-derive the address from the bytes.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tillerlabs/tiller/pkg/canonicalize"
	"github.com/tillerlabs/tiller/pkg/constitution"
	"github.com/tillerlabs/tiller/pkg/governance"
	"github.com/tillerlabs/tiller/pkg/maintenance"
)

// Snapshot is one exported view of the governance ledger.
type Snapshot struct {
	ConstitutionVersion string                `json:"constitution_version"`
	Head                string                `json:"head"`
	Decisions           []governance.Decision `json:"decisions"`
	Reports             []maintenance.Report  `json:"reports,omitempty"`
}

// Receipt identifies a stored snapshot.
type Receipt struct {
	Address       string    `json:"address"`
	Head          string    `json:"head"`
	DecisionCount int       `json:"decision_count"`
	ExportedAt    time.Time `json:"exported_at"`
}

// ObjectStore is content-addressed, write-once storage for snapshot blobs.
// Addresses are "sha256:<hex>". There is no delete; an archive only grows.
type ObjectStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, address string) ([]byte, error)
	Exists(ctx context.Context, address string) (bool, error)
}

// Exporter builds snapshots and moves them in and out of an ObjectStore.
type Exporter struct {
	store ObjectStore
	clock func() time.Time
}

// NewExporter wraps an object store.
func NewExporter(store ObjectStore) *Exporter {
	return &Exporter{store: store, clock: time.Now}
}

// WithClock overrides the receipt clock.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// Export verifies the ledger chain, encodes the snapshot canonically, and
// writes it to the object store. A ledger that fails verification is never
// exported.
func (e *Exporter) Export(ctx context.Context, state governance.State, reports []maintenance.Report) (Receipt, error) {
	if err := governance.VerifyChain(state.Decisions); err != nil {
		return Receipt{}, fmt.Errorf("archive: refusing to export: %w", err)
	}

	snap := Snapshot{
		ConstitutionVersion: constitution.Version,
		Head:                state.Head(),
		Decisions:           state.Decisions,
		Reports:             reports,
	}
	data, err := canonicalize.JCS(snap)
	if err != nil {
		return Receipt{}, fmt.Errorf("archive: encode snapshot: %w", err)
	}

	address, err := e.store.Put(ctx, data)
	if err != nil {
		return Receipt{}, fmt.Errorf("archive: store snapshot: %w", err)
	}
	return Receipt{
		Address:       address,
		Head:          snap.Head,
		DecisionCount: len(snap.Decisions),
		ExportedAt:    e.clock().UTC(),
	}, nil
}

// Fetch loads a snapshot by address, checks the bytes against the address,
// and verifies the embedded chain before returning it.
func (e *Exporter) Fetch(ctx context.Context, address string) (Snapshot, error) {
	data, err := e.store.Get(ctx, address)
	if err != nil {
		return Snapshot{}, fmt.Errorf("archive: fetch %s: %w", address, err)
	}
	if got := "sha256:" + canonicalize.HashBytes(data); got != address {
		return Snapshot{}, fmt.Errorf("archive: snapshot %s content does not match its address", address)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("archive: decode snapshot: %w", err)
	}
	if err := governance.VerifyChain(snap.Decisions); err != nil {
		return Snapshot{}, fmt.Errorf("archive: snapshot %s: %w", address, err)
	}
	return snap, nil
}
