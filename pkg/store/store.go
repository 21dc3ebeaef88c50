// Package store persists governance state and maintenance history between
// kernel invocations. The kernel itself is pure; stores provide the
// durability and the optimistic concurrency the caller is responsible for.
// Saves are compare-and-swap on a version number so two writers cannot
// silently drop each other's appended decisions.
package store

import (
	"context"
	"errors"

	"github.com/tillerlabs/tiller/pkg/governance"
	"github.com/tillerlabs/tiller/pkg/maintenance"
)

var (
	// ErrVersionConflict means the stored state moved since it was loaded.
	// The caller reloads, reapplies its append, and saves again.
	ErrVersionConflict = errors.New("store: version conflict")

	// ErrStateTruncated rejects a save whose decision sequence is shorter
	// than what is already stored. History only grows.
	ErrStateTruncated = errors.New("store: state shorter than stored history")
)

// Store is the durable interface for kernel state.
type Store interface {
	// LoadState returns the governance state and its version. An empty
	// store yields an empty state at version 0.
	LoadState(ctx context.Context) (governance.State, uint64, error)

	// SaveState persists next if the stored version still equals
	// expectedVersion, returning the new version. The version equals the
	// number of stored decisions.
	SaveState(ctx context.Context, next governance.State, expectedVersion uint64) (uint64, error)

	// LoadReports returns the maintenance report history, oldest first.
	LoadReports(ctx context.Context) ([]maintenance.Report, error)

	// SaveReports replaces the maintenance report history.
	SaveReports(ctx context.Context, reports []maintenance.Report) error

	Close() error
}
