// Package maintenance measures how far recent platform behavior has drifted
// from the invariants and gates proposed changes with a preflight check.
// Everything here is fail-soft: these paths feed dashboards and release
// tooling, where a degraded answer beats a crash.
package maintenance

import (
	"fmt"

	"github.com/tillerlabs/tiller/pkg/constitution"
)

// Class is the change risk class. R3 changes touch invariant-adjacent
// surfaces and never ship without a human sign-off.
type Class string

const (
	ClassR0 Class = "R0"
	ClassR1 Class = "R1"
	ClassR2 Class = "R2"
	ClassR3 Class = "R3"
)

// Status is a preflight verdict.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// Counters aggregates violation tallies over the observation window.
type Counters struct {
	InvariantViolations  int `json:"invariant_violations_count"`
	ProhibitedTargetHits int `json:"prohibited_target_hits_count"`
	MissingIntent        int `json:"missing_intent_count"`
	AppendOnlyBreaches   int `json:"append_only_breach_count"`
	MissingApprovals     int `json:"missing_approval_count"`
}

// Drift is a 0-100 alignment score with a human-readable breakdown.
type Drift struct {
	Score int      `json:"score"`
	Lines []string `json:"lines"`
}

// driftPenalty is charged once per non-zero category, not per occurrence.
// A category either drifted or it did not; magnitude belongs in the counter
// itself.
const driftPenalty = 20

// ComputeDriftScore scores the counters: start at 100, subtract a fixed
// penalty per non-zero category, floor at 0.
func ComputeDriftScore(c Counters) Drift {
	categories := []struct {
		label string
		count int
	}{
		{"invariant violations", c.InvariantViolations},
		{"prohibited optimization target hits", c.ProhibitedTargetHits},
		{"actions missing a declared intent", c.MissingIntent},
		{"append-only breaches", c.AppendOnlyBreaches},
		{"missing approvals", c.MissingApprovals},
	}

	score := 100
	lines := make([]string, 0, len(categories))
	for _, cat := range categories {
		if cat.count == 0 {
			continue
		}
		score -= driftPenalty
		lines = append(lines, fmt.Sprintf("-%d %s (%d)", driftPenalty, cat.label, cat.count))
	}
	if score < 0 {
		score = 0
	}
	return Drift{Score: score, Lines: lines}
}

// Flags are boolean invariant signals observed over the window.
type Flags struct {
	CentralControlDetected     bool `json:"central_control_detected"`
	AppendOnlyPreserved        bool `json:"append_only_preserved"`
	IntentsPresent             bool `json:"intents_present"`
	RequiresHumanApprovalForR3 bool `json:"requires_human_approval_for_r3"`
}

// Violation ties an observed signal to the invariant it breaks.
type Violation struct {
	InvariantID string `json:"invariant_id"`
	Signal      string `json:"signal"`
}

// EvaluateInvariantViolations maps raised signals to violation records with
// stable invariant IDs. A signal that did not fire yields no record.
func EvaluateInvariantViolations(f Flags) []Violation {
	var out []Violation
	if f.CentralControlDetected {
		out = append(out, Violation{InvariantID: constitution.InvariantNoCentralControl, Signal: "central_control_detected"})
	}
	if !f.AppendOnlyPreserved {
		out = append(out, Violation{InvariantID: constitution.InvariantAppendOnlyHistory, Signal: "append_only_breached"})
	}
	if !f.IntentsPresent {
		out = append(out, Violation{InvariantID: constitution.InvariantIntentRequired, Signal: "missing_intent"})
	}
	if !f.RequiresHumanApprovalForR3 {
		out = append(out, Violation{InvariantID: constitution.InvariantHumanApprovalR3, Signal: "r3_without_human_approval"})
	}
	return out
}

// Input describes a proposed change presented to the preflight gate.
type Input struct {
	FeatureName                 string   `json:"feature_name"`
	Timestamp                   string   `json:"timestamp"`
	DeclaredOptimizationTargets []string `json:"declared_optimization_targets,omitempty"`
	IntentsPresent              bool     `json:"intents_present"`
	AppendOnlyPreserved         bool     `json:"append_only_preserved"`
	RiskClass                   Class    `json:"risk_class"`
	HumanApproved               bool     `json:"human_approved"`
	MockMode                    bool     `json:"mock_mode,omitempty"`
}

// Preflight is the gate verdict plus why.
type Preflight struct {
	Status  Status   `json:"status"`
	Reasons []string `json:"reasons,omitempty"`
}

// EvaluatePreflight gates a proposed change. Any single failed condition
// fails the whole preflight; reasons list every condition that failed, not
// just the first.
func EvaluatePreflight(in Input) Preflight {
	var reasons []string

	for _, target := range in.DeclaredOptimizationTargets {
		if phrase, hit := constitution.MatchesForbiddenTarget(target); hit {
			reasons = append(reasons, fmt.Sprintf("declared target %q matches forbidden vocabulary %q", target, phrase))
		}
	}
	if !in.IntentsPresent && !in.MockMode {
		reasons = append(reasons, "intents are not present")
	}
	if !in.AppendOnlyPreserved {
		reasons = append(reasons, "append-only history is not preserved")
	}
	if in.RiskClass == ClassR3 && !in.HumanApproved {
		reasons = append(reasons, "R3 change lacks human approval")
	}

	if len(reasons) > 0 {
		return Preflight{Status: StatusFail, Reasons: reasons}
	}
	return Preflight{Status: StatusPass}
}

// Report is a preflight evaluation frozen for history. The timestamp is
// taken from the input verbatim; the builder never reads a clock.
type Report struct {
	FeatureName                 string   `json:"feature_name"`
	Timestamp                   string   `json:"timestamp"`
	Status                      Status   `json:"status"`
	Reasons                     []string `json:"reasons,omitempty"`
	DeclaredOptimizationTargets []string `json:"declared_optimization_targets,omitempty"`
	IntentsPresent              bool     `json:"intents_present"`
	AppendOnlyPreserved         bool     `json:"append_only_preserved"`
	RiskClass                   Class    `json:"risk_class"`
	HumanApproved               bool     `json:"human_approved"`
	MockMode                    bool     `json:"mock_mode,omitempty"`
}

// BuildReport runs the preflight and echoes the input into a report.
func BuildReport(in Input) Report {
	pf := EvaluatePreflight(in)
	return Report{
		FeatureName:                 in.FeatureName,
		Timestamp:                   in.Timestamp,
		Status:                      pf.Status,
		Reasons:                     pf.Reasons,
		DeclaredOptimizationTargets: append([]string(nil), in.DeclaredOptimizationTargets...),
		IntentsPresent:              in.IntentsPresent,
		AppendOnlyPreserved:         in.AppendOnlyPreserved,
		RiskClass:                   in.RiskClass,
		HumanApproved:               in.HumanApproved,
		MockMode:                    in.MockMode,
	}
}

// DefaultMaxReports caps history growth when callers have no opinion.
const DefaultMaxReports = 50

// AppendReport returns a new history with the report appended, dropping the
// oldest entries to stay within maxSize. The input history is never
// mutated. A non-positive maxSize keeps everything.
func AppendReport(history []Report, r Report, maxSize int) []Report {
	out := make([]Report, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, r)
	if maxSize > 0 && len(out) > maxSize {
		out = out[len(out)-maxSize:]
	}
	return out
}
