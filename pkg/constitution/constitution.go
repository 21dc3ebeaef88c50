// Package constitution holds the immutable constitution and invariant
// registry for the Tiller kernel. The catalog is compiled in, constructed
// once, and carries no mutation API: governance and maintenance consult it,
// nothing rewrites it.
package constitution

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/tillerlabs/tiller/pkg/canonicalize"
)

// Version is the constitution document version. Bumped only when the
// invariant set or clause text changes.
const Version = "1.0.0"

// Stable invariant IDs. Violation records and ledger rejections reference
// these verbatim, so they never change once shipped.
const (
	InvariantNoCentralControl         = "invariant::no_central_control"
	InvariantAppendOnlyHistory        = "invariant::append_only_history"
	InvariantIntentRequired           = "invariant::intent_required"
	InvariantHumanApprovalR3          = "invariant::human_approval_r3"
	InvariantNoProhibitedOptimization = "invariant::no_prohibited_optimization"
)

// Invariant is a single non-negotiable rule with its enforcement metadata.
type Invariant struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	NeverOptimizeFor []string `json:"never_optimize_for"`
	ViolationSignals []string `json:"violation_signals"`
	Enforcement      string   `json:"enforcement"`
	SafeFailure      string   `json:"safe_failure"`
}

// Constitution is the platform's governing document.
type Constitution struct {
	Version  string   `json:"version"`
	Purpose  string   `json:"purpose"`
	NonGoals []string `json:"non_goals"`
	Clauses  []string `json:"clauses"`
}

var version = semver.MustParse(Version)

// required is the ordered invariant catalog. Order is load-bearing:
// ForbiddenTargets dedupes in first-seen order.
var required = []Invariant{
	{
		ID:          InvariantNoCentralControl,
		Title:       "No central control",
		Description: "No single pod or operator may acquire unilateral control over the platform. Cross-boundary changes are federated and human-approved.",
		NeverOptimizeFor: []string{
			"centralize power",
			"single operator control",
		},
		ViolationSignals: []string{
			"central_control_detected",
			"unapproved_cross_pod_change",
		},
		Enforcement: "Cross-pod decisions append only with a human initiator and explicit human approval.",
		SafeFailure: "Refuse the decision and leave governance state unchanged.",
	},
	{
		ID:          InvariantAppendOnlyHistory,
		Title:       "Append-only history",
		Description: "Governance history is never rewritten or truncated. Every transition produces a new state with the prior sequence intact.",
		NeverOptimizeFor: []string{
			"rewrite history",
			"minimize audit trail",
		},
		ViolationSignals: []string{
			"ledger_truncated",
			"record_mutated",
			"hash_chain_broken",
		},
		Enforcement: "State transitions return new values and the stored hash chain is verified on load.",
		SafeFailure: "Reject the write and preserve the existing ledger.",
	},
	{
		ID:          InvariantIntentRequired,
		Title:       "Intent required",
		Description: "Every governed action traces back to a declared intent with a scored risk envelope.",
		NeverOptimizeFor: []string{
			"silent autonomy",
		},
		ViolationSignals: []string{
			"missing_intent",
			"anonymous_action",
		},
		Enforcement: "Actions without a declared intent are never gated and never receive a mandate.",
		SafeFailure: "Treat the action as unapproved.",
	},
	{
		ID:          InvariantHumanApprovalR3,
		Title:       "Human approval for R3 changes",
		Description: "Changes in the highest risk class ship only with recorded human approval.",
		NeverOptimizeFor: []string{
			"remove human oversight",
		},
		ViolationSignals: []string{
			"r3_without_human_approval",
		},
		Enforcement: "Maintenance preflight fails any R3 change that lacks human approval.",
		SafeFailure: "Keep the change out of the release.",
	},
	{
		ID:          InvariantNoProhibitedOptimization,
		Title:       "No prohibited optimization targets",
		Description: "The platform never optimizes for engagement, emotional manipulation, or any other target on the forbidden vocabulary.",
		NeverOptimizeFor: []string{
			"maximize engagement",
			"manipulate emotions",
			"exploit attention",
		},
		ViolationSignals: []string{
			"prohibited_target_declared",
		},
		Enforcement: "Declared optimization targets are matched against the forbidden vocabulary on every ledger append and maintenance preflight.",
		SafeFailure: "Reject the decision regardless of approvals.",
	},
}

var doc = Constitution{
	Version: Version,
	Purpose: "Govern autonomous pods so that no action outruns its mandate: risk is scored before execution, high-risk and cross-boundary actions carry signed multi-party mandates, and every decision lands in an append-only ledger.",
	NonGoals: []string{
		"maximize engagement or session time",
		"grow pod autonomy beyond granted scope",
		"replace human judgment on irreversible actions",
	},
	Clauses: []string{
		"Invariants outrank every decision, approval, and mandate.",
		"Risk is scored before execution, never after.",
		"Cross-pod effects require a human in the loop.",
		"History is append-only; corrections are new entries.",
		"When in doubt, hold safe and escalate.",
	},
}

var forbiddenTargets = buildForbiddenTargets()

func buildForbiddenTargets() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, inv := range required {
		for _, t := range inv.NeverOptimizeFor {
			key := foldTarget(t)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// foldTarget normalizes a target phrase for comparison: NFC, trimmed,
// case-folded. Matching is insensitive to case and surrounding space but
// never fuzzy beyond that.
func foldTarget(s string) string {
	return strings.ToLower(strings.TrimSpace(canonicalize.NormalizeText(s)))
}

// Get returns the constitution document.
func Get() Constitution {
	c := doc
	c.NonGoals = append([]string(nil), doc.NonGoals...)
	c.Clauses = append([]string(nil), doc.Clauses...)
	return c
}

// Required returns the ordered invariant catalog.
func Required() []Invariant {
	return append([]Invariant(nil), required...)
}

// ByID looks up a single invariant.
func ByID(id string) (Invariant, bool) {
	for _, inv := range required {
		if inv.ID == id {
			return inv, true
		}
	}
	return Invariant{}, false
}

// ForbiddenTargets returns the union of every invariant's NeverOptimizeFor
// vocabulary, deduplicated, in catalog order.
func ForbiddenTargets() []string {
	return append([]string(nil), forbiddenTargets...)
}

// MatchesForbiddenTarget reports whether a proposed optimization target hits
// the forbidden vocabulary. A hit is an exact match or a proposed target that
// begins with a vocabulary phrase ("maximize engagement metrics" hits
// "maximize engagement"). Returns the vocabulary phrase that matched.
func MatchesForbiddenTarget(target string) (string, bool) {
	folded := foldTarget(target)
	if folded == "" {
		return "", false
	}
	for _, phrase := range forbiddenTargets {
		fp := foldTarget(phrase)
		if folded == fp || strings.HasPrefix(folded, fp) {
			return phrase, true
		}
	}
	return "", false
}

// CompatibleWith checks the constitution version against a semver constraint
// such as ">= 1.0.0, < 2". Callers pin the constitution generation they were
// written against and refuse to start under an incompatible one.
func CompatibleWith(constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid constitution constraint %q: %w", constraint, err)
	}
	if !c.Check(version) {
		return fmt.Errorf("constitution %s does not satisfy constraint %q", Version, constraint)
	}
	return nil
}
