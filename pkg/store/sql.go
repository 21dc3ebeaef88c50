package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tillerlabs/tiller/pkg/governance"
	"github.com/tillerlabs/tiller/pkg/maintenance"
)

// SQLStore persists kernel state through database/sql. The statements stick
// to $1 placeholders and ON CONFLICT upserts, which both Postgres (lib/pq)
// and SQLite (modernc.org/sqlite) accept, so one implementation serves both.
//
// Decisions are stored one row per entry with the sequence as primary key:
// the ledger is an append-only log and the row layout says so. The version
// is the stored decision count.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an opened database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenSQLite opens a SQLite-backed store at path and runs migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	s := NewSQLStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres opens a Postgres-backed store and runs migrations.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	s := NewSQLStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS governance_decisions (
	sequence BIGINT PRIMARY KEY,
	decision_id TEXT NOT NULL,
	record TEXT NOT NULL,
	recorded_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS maintenance_history (
	id INTEGER PRIMARY KEY,
	reports TEXT NOT NULL,
	updated_at TIMESTAMP
);
`

// Init creates the schema if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadState(ctx context.Context) (governance.State, uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM governance_decisions ORDER BY sequence`)
	if err != nil {
		return governance.State{}, 0, fmt.Errorf("store: load decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var state governance.State
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return governance.State{}, 0, err
		}
		var d governance.Decision
		if err := json.Unmarshal([]byte(record), &d); err != nil {
			return governance.State{}, 0, fmt.Errorf("store: decode decision: %w", err)
		}
		state.Decisions = append(state.Decisions, d)
	}
	if err := rows.Err(); err != nil {
		return governance.State{}, 0, err
	}
	return state, uint64(len(state.Decisions)), nil
}

func (s *SQLStore) SaveState(ctx context.Context, next governance.State, expectedVersion uint64) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count uint64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM governance_decisions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count decisions: %w", err)
	}
	if count != expectedVersion {
		return 0, ErrVersionConflict
	}
	if uint64(len(next.Decisions)) < count {
		return 0, ErrStateTruncated
	}

	for _, d := range next.Decisions[count:] {
		record, err := json.Marshal(d)
		if err != nil {
			return 0, fmt.Errorf("store: encode decision %s: %w", d.DecisionID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO governance_decisions (sequence, decision_id, record, recorded_at) VALUES ($1, $2, $3, $4)`,
			d.Sequence, d.DecisionID, string(record), d.RecordedAt.UTC(),
		)
		if err != nil {
			return 0, fmt.Errorf("store: insert decision %d: %w", d.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return uint64(len(next.Decisions)), nil
}

func (s *SQLStore) LoadReports(ctx context.Context) ([]maintenance.Report, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT reports FROM maintenance_history WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load reports: %w", err)
	}

	var reports []maintenance.Report
	if err := json.Unmarshal([]byte(raw), &reports); err != nil {
		return nil, fmt.Errorf("store: decode reports: %w", err)
	}
	return reports, nil
}

func (s *SQLStore) SaveReports(ctx context.Context, reports []maintenance.Report) error {
	raw, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("store: encode reports: %w", err)
	}

	query := `
		INSERT INTO maintenance_history (id, reports, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			reports = EXCLUDED.reports,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, string(raw), time.Now().UTC()); err != nil {
		return fmt.Errorf("store: save reports: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
