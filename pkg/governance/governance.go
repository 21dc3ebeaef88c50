// Package governance records platform decisions in an append-only,
// hash-chained ledger. State is a plain value: every transition returns a
// new State and leaves its input untouched, so persistence and concurrency
// control stay with the caller. Appends are fail-hard; a rejected decision
// never enters the ledger.
package governance

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tillerlabs/tiller/pkg/constitution"
)

// Scope bounds a decision's blast radius.
type Scope string

const (
	ScopeLocalPod Scope = "LOCAL_POD"
	ScopeCrossPod Scope = "CROSS_POD"
)

// Initiator identifies who proposed a decision.
type Initiator string

const (
	InitiatorPod   Initiator = "POD"
	InitiatorHuman Initiator = "HUMAN"
)

// Mode is the system-wide governance mode, derived from the decision
// sequence and never stored.
type Mode string

const (
	ModeNormal   Mode = "NORMAL"
	ModeSafeHold Mode = "SAFE_HOLD"
)

// Hard governance rules. Append wraps these so callers can errors.Is them.
var (
	ErrInvariantViolation    = errors.New("governance: invariant violation")
	ErrHumanApprovalRequired = errors.New("governance: cross-pod decision requires human approval")
)

// DecisionInput is the caller-supplied body of a decision.
type DecisionInput struct {
	Scope                       Scope     `json:"scope"`
	Initiator                   Initiator `json:"initiator"`
	Justification               string    `json:"justification"`
	AffectedInvariants          []string  `json:"affected_invariants,omitempty"`
	RequiresHumanApproval       bool      `json:"requires_human_approval"`
	IntentID                    string    `json:"intent_id"`
	PodID                       string    `json:"pod_id"`
	TargetPodIDs                []string  `json:"target_pod_ids,omitempty"`
	DecisionKey                 string    `json:"decision_key,omitempty"`
	DeclaredOptimizationTargets []string  `json:"declared_optimization_targets,omitempty"`

	// RecordedAt overrides the ledger clock when set. Replays and tests
	// use it; live callers leave it zero.
	RecordedAt time.Time `json:"recorded_at,omitempty"`
}

// Decision is an immutable appended ledger entry.
type Decision struct {
	DecisionID                  string    `json:"decision_id"`
	Sequence                    uint64    `json:"sequence"`
	Scope                       Scope     `json:"scope"`
	Initiator                   Initiator `json:"initiator"`
	Justification               string    `json:"justification"`
	AffectedInvariants          []string  `json:"affected_invariants,omitempty"`
	RequiresHumanApproval       bool      `json:"requires_human_approval"`
	IntentID                    string    `json:"intent_id"`
	PodID                       string    `json:"pod_id"`
	TargetPodIDs                []string  `json:"target_pod_ids,omitempty"`
	DecisionKey                 string    `json:"decision_key,omitempty"`
	DeclaredOptimizationTargets []string  `json:"declared_optimization_targets,omitempty"`
	RecordedAt                  time.Time `json:"recorded_at"`
	ContentHash                 string    `json:"content_hash"`
	PrevHash                    string    `json:"prev_hash"`
}

// State is the governance ledger as a value.
type State struct {
	Decisions []Decision `json:"decisions"`
}

// NewState returns an empty ledger.
func NewState() State {
	return State{}
}

// Head returns the hash the next append will chain from.
func (s State) Head() string {
	if len(s.Decisions) == 0 {
		return genesisHash
	}
	return s.Decisions[len(s.Decisions)-1].ContentHash
}

// Mode derives the current governance mode.
func (s State) Mode() Mode {
	return Evaluate(s.Decisions).Mode
}

// Append validates the input against the hard governance rules and returns
// a new state with the decision appended. The input state is unchanged.
//
// Two rules are absolute. Invariant supremacy: a declared optimization
// target matching the forbidden vocabulary rejects the append no matter who
// approved it. Cross-pod approval: CROSS_POD decisions append only when a
// HUMAN initiator carries requires_human_approval.
func Append(s State, in DecisionInput) (State, Decision, error) {
	for _, target := range in.DeclaredOptimizationTargets {
		if phrase, hit := constitution.MatchesForbiddenTarget(target); hit {
			return s, Decision{}, fmt.Errorf("%w: declared target %q matches forbidden vocabulary %q",
				ErrInvariantViolation, target, phrase)
		}
	}

	if in.Scope == ScopeCrossPod {
		if !in.RequiresHumanApproval || in.Initiator != InitiatorHuman {
			return s, Decision{}, fmt.Errorf("%w: scope %s initiated by %s", ErrHumanApprovalRequired, in.Scope, in.Initiator)
		}
	}

	recordedAt := in.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	d := Decision{
		DecisionID:                  uuid.New().String(),
		Sequence:                    uint64(len(s.Decisions)) + 1,
		Scope:                       in.Scope,
		Initiator:                   in.Initiator,
		Justification:               in.Justification,
		AffectedInvariants:          cloneStrings(in.AffectedInvariants),
		RequiresHumanApproval:       in.RequiresHumanApproval,
		IntentID:                    in.IntentID,
		PodID:                       in.PodID,
		TargetPodIDs:                cloneStrings(in.TargetPodIDs),
		DecisionKey:                 in.DecisionKey,
		DeclaredOptimizationTargets: cloneStrings(in.DeclaredOptimizationTargets),
		RecordedAt:                  recordedAt,
		PrevHash:                    s.Head(),
	}

	hash, err := hashDecision(d)
	if err != nil {
		return s, Decision{}, fmt.Errorf("governance: hash decision: %w", err)
	}
	d.ContentHash = hash

	next := State{Decisions: make([]Decision, 0, len(s.Decisions)+1)}
	next.Decisions = append(next.Decisions, s.Decisions...)
	next.Decisions = append(next.Decisions, d)
	return next, d, nil
}

// Executor is the identity attempting to execute a decision.
type Executor struct {
	Initiator Initiator `json:"initiator"`
	PodID     string    `json:"pod_id"`
}

// ExecCheck is the execution-permission verdict.
type ExecCheck struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// CanExecute decides whether an executor may act on a decision. POD
// executors are scoped to their own pod; HUMAN executors are not pod-scoped.
func CanExecute(d Decision, e Executor) ExecCheck {
	if e.Initiator == InitiatorPod && e.PodID != d.PodID {
		return ExecCheck{OK: false, Reason: "pod_mismatch"}
	}
	return ExecCheck{OK: true}
}

// Evaluation is the derived governance mode plus what triggered it.
type Evaluation struct {
	Mode        Mode   `json:"mode"`
	ConflictKey string `json:"conflict_key,omitempty"`
}

// Evaluate derives the governance mode from a decision sequence. Two or
// more LOCAL_POD decisions sharing a non-empty decision key cannot both
// stand, so the system holds safe until a human resolves them.
func Evaluate(decisions []Decision) Evaluation {
	seen := make(map[string]int)
	for _, d := range decisions {
		if d.Scope != ScopeLocalPod || d.DecisionKey == "" {
			continue
		}
		seen[d.DecisionKey]++
		if seen[d.DecisionKey] >= 2 {
			return Evaluation{Mode: ModeSafeHold, ConflictKey: d.DecisionKey}
		}
	}
	return Evaluation{Mode: ModeNormal}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
