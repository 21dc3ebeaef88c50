package governance

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAppend(t *testing.T, s State, in DecisionInput) (State, Decision) {
	t.Helper()
	next, d, err := Append(s, in)
	require.NoError(t, err)
	return next, d
}

func TestAppendReturnsNewState(t *testing.T) {
	s0 := NewState()
	s1, d1 := mustAppend(t, s0, DecisionInput{
		Scope:         ScopeLocalPod,
		Initiator:     InitiatorPod,
		Justification: "rotate cache keys",
		IntentID:      "intent-1",
		PodID:         "pod-alpha",
	})

	assert.Len(t, s0.Decisions, 0, "input state must stay untouched")
	require.Len(t, s1.Decisions, 1)
	assert.Equal(t, uint64(1), d1.Sequence)
	assert.NotEmpty(t, d1.DecisionID)

	s2, d2 := mustAppend(t, s1, DecisionInput{
		Scope:         ScopeLocalPod,
		Initiator:     InitiatorPod,
		Justification: "expand cache",
		IntentID:      "intent-2",
		PodID:         "pod-alpha",
	})
	assert.Len(t, s1.Decisions, 1)
	assert.Len(t, s2.Decisions, 2)
	assert.Equal(t, uint64(2), d2.Sequence)
	assert.Equal(t, d1.ContentHash, d2.PrevHash)
}

func TestAppendCrossPodRequiresHuman(t *testing.T) {
	s := NewState()

	_, _, err := Append(s, DecisionInput{
		Scope:     ScopeCrossPod,
		Initiator: InitiatorPod,
		IntentID:  "intent-1",
		PodID:     "pod-alpha",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHumanApprovalRequired))

	// The approval flag alone is not enough without a human initiator.
	_, _, err = Append(s, DecisionInput{
		Scope:                 ScopeCrossPod,
		Initiator:             InitiatorPod,
		RequiresHumanApproval: true,
		IntentID:              "intent-1",
		PodID:                 "pod-alpha",
	})
	assert.True(t, errors.Is(err, ErrHumanApprovalRequired))

	_, _, err = Append(s, DecisionInput{
		Scope:     ScopeCrossPod,
		Initiator: InitiatorHuman,
		IntentID:  "intent-1",
		PodID:     "pod-alpha",
	})
	assert.True(t, errors.Is(err, ErrHumanApprovalRequired))

	next, d, err := Append(s, DecisionInput{
		Scope:                 ScopeCrossPod,
		Initiator:             InitiatorHuman,
		RequiresHumanApproval: true,
		IntentID:              "intent-1",
		PodID:                 "pod-alpha",
		TargetPodIDs:          []string{"pod-beta"},
	})
	require.NoError(t, err)
	assert.Len(t, next.Decisions, 1)
	assert.Equal(t, ScopeCrossPod, d.Scope)
}

func TestAppendForbiddenTargetAlwaysFails(t *testing.T) {
	s := NewState()

	// Even a fully approved human decision cannot declare a forbidden
	// optimization target.
	_, _, err := Append(s, DecisionInput{
		Scope:                       ScopeCrossPod,
		Initiator:                   InitiatorHuman,
		RequiresHumanApproval:       true,
		IntentID:                    "intent-1",
		PodID:                       "pod-alpha",
		DeclaredOptimizationTargets: []string{"maximize engagement"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariantViolation))

	_, _, err = Append(s, DecisionInput{
		Scope:                       ScopeLocalPod,
		Initiator:                   InitiatorPod,
		IntentID:                    "intent-2",
		PodID:                       "pod-alpha",
		DeclaredOptimizationTargets: []string{"reduce latency", "Centralize Power over pods"},
	})
	assert.True(t, errors.Is(err, ErrInvariantViolation))

	next, _, err := Append(s, DecisionInput{
		Scope:                       ScopeLocalPod,
		Initiator:                   InitiatorPod,
		IntentID:                    "intent-3",
		PodID:                       "pod-alpha",
		DeclaredOptimizationTargets: []string{"reduce latency"},
	})
	require.NoError(t, err)
	assert.Len(t, next.Decisions, 1)
}

func TestAppendRecordedAtOverride(t *testing.T) {
	at := time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC)
	_, d := mustAppend(t, NewState(), DecisionInput{
		Scope:      ScopeLocalPod,
		Initiator:  InitiatorPod,
		IntentID:   "intent-1",
		PodID:      "pod-alpha",
		RecordedAt: at,
	})
	assert.Equal(t, at, d.RecordedAt)

	_, live := mustAppend(t, NewState(), DecisionInput{
		Scope:     ScopeLocalPod,
		Initiator: InitiatorPod,
		IntentID:  "intent-2",
		PodID:     "pod-alpha",
	})
	assert.False(t, live.RecordedAt.IsZero())
}

func TestAppendDoesNotAliasInputSlices(t *testing.T) {
	targets := []string{"reduce latency"}
	s, d := mustAppend(t, NewState(), DecisionInput{
		Scope:                       ScopeLocalPod,
		Initiator:                   InitiatorPod,
		IntentID:                    "intent-1",
		PodID:                       "pod-alpha",
		DeclaredOptimizationTargets: targets,
	})

	targets[0] = "mutated"
	assert.Equal(t, "reduce latency", s.Decisions[0].DeclaredOptimizationTargets[0])
	assert.Equal(t, "reduce latency", d.DeclaredOptimizationTargets[0])
}

func TestCanExecutePodScoped(t *testing.T) {
	d := Decision{PodID: "pod-alpha"}

	check := CanExecute(d, Executor{Initiator: InitiatorPod, PodID: "pod-beta"})
	assert.False(t, check.OK)
	assert.Equal(t, "pod_mismatch", check.Reason)

	check = CanExecute(d, Executor{Initiator: InitiatorPod, PodID: "pod-alpha"})
	assert.True(t, check.OK)

	check = CanExecute(d, Executor{Initiator: InitiatorHuman})
	assert.True(t, check.OK)
}

func TestEvaluateSafeHold(t *testing.T) {
	mk := func(scope Scope, key string) Decision {
		return Decision{Scope: scope, DecisionKey: key}
	}

	ev := Evaluate([]Decision{mk(ScopeLocalPod, "policy:conflict")})
	assert.Equal(t, ModeNormal, ev.Mode)

	ev = Evaluate([]Decision{
		mk(ScopeLocalPod, "policy:conflict"),
		mk(ScopeLocalPod, "policy:other"),
		mk(ScopeLocalPod, "policy:conflict"),
	})
	assert.Equal(t, ModeSafeHold, ev.Mode)
	assert.Equal(t, "policy:conflict", ev.ConflictKey)

	// Empty keys never conflict.
	ev = Evaluate([]Decision{mk(ScopeLocalPod, ""), mk(ScopeLocalPod, "")})
	assert.Equal(t, ModeNormal, ev.Mode)

	// Only LOCAL_POD decisions participate in conflict detection.
	ev = Evaluate([]Decision{
		mk(ScopeCrossPod, "policy:conflict"),
		mk(ScopeCrossPod, "policy:conflict"),
	})
	assert.Equal(t, ModeNormal, ev.Mode)
}

func TestStateMode(t *testing.T) {
	s := NewState()
	assert.Equal(t, ModeNormal, s.Mode())

	s, _ = mustAppend(t, s, DecisionInput{
		Scope: ScopeLocalPod, Initiator: InitiatorPod,
		IntentID: "i1", PodID: "pod-alpha", DecisionKey: "policy:conflict",
	})
	s, _ = mustAppend(t, s, DecisionInput{
		Scope: ScopeLocalPod, Initiator: InitiatorPod,
		IntentID: "i2", PodID: "pod-beta", DecisionKey: "policy:conflict",
	})
	assert.Equal(t, ModeSafeHold, s.Mode())
}
