package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillerlabs/tiller/pkg/governance"
	"github.com/tillerlabs/tiller/pkg/maintenance"
)

func mockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db), mock
}

func sampleDecision(t *testing.T, seq uint64) governance.Decision {
	t.Helper()
	state := governance.NewState()
	var d governance.Decision
	for i := uint64(0); i < seq; i++ {
		var err error
		state, d, err = governance.Append(state, governance.DecisionInput{
			Scope:      governance.ScopeLocalPod,
			Initiator:  governance.InitiatorPod,
			IntentID:   "intent",
			PodID:      "pod-alpha",
			RecordedAt: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}
	return d
}

func TestSQLStoreLoadState(t *testing.T) {
	s, mock := mockStore(t)

	d := sampleDecision(t, 1)
	record, err := json.Marshal(d)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT record FROM governance_decisions ORDER BY sequence")).
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(string(record)))

	state, version, err := s.LoadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	require.Len(t, state.Decisions, 1)
	assert.Equal(t, d.DecisionID, state.Decisions[0].DecisionID)
}

func TestSQLStoreSaveStateAppends(t *testing.T) {
	s, mock := mockStore(t)

	state := governance.NewState()
	state, _, err := governance.Append(state, governance.DecisionInput{
		Scope:     governance.ScopeLocalPod,
		Initiator: governance.InitiatorPod,
		IntentID:  "intent-1",
		PodID:     "pod-alpha",
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM governance_decisions")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO governance_decisions")).
		WithArgs(state.Decisions[0].Sequence, state.Decisions[0].DecisionID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	version, err := s.SaveState(context.Background(), state, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreSaveStateVersionConflict(t *testing.T) {
	s, mock := mockStore(t)

	state := governance.NewState()
	state, _, err := governance.Append(state, governance.DecisionInput{
		Scope:     governance.ScopeLocalPod,
		Initiator: governance.InitiatorPod,
		IntentID:  "intent-1",
		PodID:     "pod-alpha",
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM governance_decisions")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	_, err = s.SaveState(context.Background(), state, 0)
	assert.True(t, errors.Is(err, ErrVersionConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreSaveStateOnlyInsertsNewRows(t *testing.T) {
	s, mock := mockStore(t)

	state := governance.NewState()
	var err error
	for _, intent := range []string{"intent-1", "intent-2"} {
		state, _, err = governance.Append(state, governance.DecisionInput{
			Scope:     governance.ScopeLocalPod,
			Initiator: governance.InitiatorPod,
			IntentID:  intent,
			PodID:     "pod-alpha",
		})
		require.NoError(t, err)
	}

	// One row already stored: only the second decision is inserted.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM governance_decisions")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO governance_decisions")).
		WithArgs(uint64(2), state.Decisions[1].DecisionID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	version, err := s.SaveState(context.Background(), state, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreReportsRoundTrip(t *testing.T) {
	s, mock := mockStore(t)

	in := maintenance.Input{FeatureName: "f", Timestamp: "2026-04-01T10:00:00Z", IntentsPresent: true, AppendOnlyPreserved: true}
	reports := []maintenance.Report{maintenance.BuildReport(in)}
	raw, err := json.Marshal(reports)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO maintenance_history")).
		WithArgs(string(raw), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.SaveReports(context.Background(), reports))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT reports FROM maintenance_history WHERE id = 1")).
		WillReturnRows(sqlmock.NewRows([]string{"reports"}).AddRow(string(raw)))

	loaded, err := s.LoadReports(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "f", loaded[0].FeatureName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreLoadReportsEmpty(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT reports FROM maintenance_history WHERE id = 1")).
		WillReturnRows(sqlmock.NewRows([]string{"reports"}))

	reports, err := s.LoadReports(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reports)
}
