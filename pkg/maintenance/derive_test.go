package maintenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillerlabs/tiller/pkg/governance"
)

func ledgerWith(t *testing.T, intentIDs ...string) []governance.Decision {
	t.Helper()
	state := governance.NewState()
	for i, id := range intentIDs {
		var err error
		state, _, err = governance.Append(state, governance.DecisionInput{
			Scope:         governance.ScopeLocalPod,
			Initiator:     governance.InitiatorPod,
			Justification: "derive counters fixture",
			IntentID:      id,
			PodID:         "pod-a",
			RecordedAt:    time.Date(2026, 4, 2, 9, i, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}
	return state.Decisions
}

func TestDeriveCountersCleanHistory(t *testing.T) {
	decisions := ledgerWith(t, "intent-1", "intent-2")
	reports := []Report{BuildReport(cleanInput())}

	c := DeriveCounters(decisions, reports)
	assert.Equal(t, Counters{}, c)
}

func TestDeriveCountersMissingIntentInLedger(t *testing.T) {
	decisions := ledgerWith(t, "intent-1", "", "")

	c := DeriveCounters(decisions, nil)
	assert.Equal(t, 2, c.MissingIntent)
	assert.Zero(t, c.AppendOnlyBreaches)
}

func TestDeriveCountersBrokenChain(t *testing.T) {
	decisions := ledgerWith(t, "intent-1", "intent-2")
	decisions[0].Justification = "rewritten after the fact"

	c := DeriveCounters(decisions, nil)
	assert.Equal(t, 1, c.AppendOnlyBreaches)
}

func TestDeriveCountersFromFailedReports(t *testing.T) {
	bad := cleanInput()
	bad.DeclaredOptimizationTargets = []string{"maximize engagement"}
	bad.IntentsPresent = false
	bad.AppendOnlyPreserved = false
	bad.RiskClass = ClassR3
	bad.HumanApproved = false

	report := BuildReport(bad)
	require.Equal(t, StatusFail, report.Status)

	c := DeriveCounters(nil, []Report{report})
	assert.Equal(t, 1, c.InvariantViolations)
	assert.Equal(t, 1, c.ProhibitedTargetHits)
	assert.Equal(t, 1, c.MissingIntent)
	assert.Equal(t, 1, c.AppendOnlyBreaches)
	assert.Equal(t, 1, c.MissingApprovals)
}

func TestDeriveCountersSkipsPassingReports(t *testing.T) {
	mock := cleanInput()
	mock.IntentsPresent = false
	mock.MockMode = true

	report := BuildReport(mock)
	require.Equal(t, StatusPass, report.Status)

	c := DeriveCounters(nil, []Report{report})
	assert.Equal(t, Counters{}, c)
}
