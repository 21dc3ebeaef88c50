// Package risk scores proposed intents and gates execution against a
// caller-supplied tolerance. Scoring is driven by a small ordered rule table
// so adding an intent family is a data change, not a new branch. Every
// function here is total: callers always get a decision value back.
package risk

import (
	"encoding/json"
	"strings"
	"time"
)

// Level categorizes an assessment. Levels are ordered: low < medium < high
// < critical. Unknown levels rank below low and never satisfy a minimum.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

var levelOrdinal = map[Level]int{
	LevelLow:      0,
	LevelMedium:   1,
	LevelHigh:     2,
	LevelCritical: 3,
}

// Ordinal returns the level's rank, or -1 for an unknown level.
func (l Level) Ordinal() int {
	if n, ok := levelOrdinal[l]; ok {
		return n
	}
	return -1
}

// AtLeast reports whether l ranks at or above min.
func (l Level) AtLeast(min Level) bool {
	ln, ok := levelOrdinal[l]
	if !ok {
		return false
	}
	mn, ok := levelOrdinal[min]
	if !ok {
		return false
	}
	return ln >= mn
}

// Assessment is the scored risk of a single proposed intent.
type Assessment struct {
	Score       float64 `json:"score"`
	Level       Level   `json:"level"`
	Reason      string  `json:"reason"`
	BudgetCents int     `json:"budget_cents"`
}

// Action is the gate's verdict.
type Action string

const (
	ActionAllow Action = "allow"
	ActionNoop  Action = "noop"
)

// GateResult carries the gate verdict plus the assessment it was based on.
type GateResult struct {
	Action     Action     `json:"action"`
	ReasonCode string     `json:"reason_code"`
	Assessment Assessment `json:"assessment"`
}

// Assumption is a precondition a proposed action depends on. It must have
// been validated and must not have expired at evaluation time.
type Assumption struct {
	Key         string     `json:"key"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Constraints is the caller-supplied gate policy.
type Constraints struct {
	RiskTolerance *float64     `json:"risk_tolerance,omitempty"`
	AllowHighRisk bool         `json:"allow_high_risk,omitempty"`
	Assumptions   []Assumption `json:"assumptions,omitempty"`
}

// AssumptionCheck is the outcome of evaluating a constraint's assumptions.
type AssumptionCheck struct {
	OK         bool   `json:"ok"`
	ReasonCode string `json:"reason_code"`
	Detail     string `json:"detail,omitempty"`
}

// DefaultTolerance applies when constraints carry no explicit tolerance.
const DefaultTolerance = 0.6

// Rule maps an intent-name pattern to a base score and reason.
type Rule struct {
	Pattern string
	Exact   bool
	Base    float64
	Reason  string
}

// rules is consulted in order; the first match wins. Exact rules precede
// prefix rules for the same namespace.
var rules = []Rule{
	{Pattern: "kernel.health", Exact: true, Base: 0.05, Reason: "health"},
	{Pattern: "analytics.", Base: 0.20, Reason: "analytics"},
	{Pattern: "memory.", Base: 0.35, Reason: "memory"},
}

const (
	defaultBase   = 0.15
	defaultReason = "default"
)

// Rules returns the active scoring rule table.
func Rules() []Rule {
	return append([]Rule(nil), rules...)
}

// ScoreIntent computes the risk assessment for an intent name and context.
// A numeric context "sensitivity" raises the score by sensitivity*0.4 and
// takes over the reason; the prefix-derived base is retained. The score is
// clamped to [0,1].
func ScoreIntent(intent string, context map[string]any) Assessment {
	base := defaultBase
	reason := defaultReason
	for _, r := range rules {
		if r.Exact {
			if intent == r.Pattern {
				base, reason = r.Base, r.Reason
				break
			}
			continue
		}
		if strings.HasPrefix(intent, r.Pattern) {
			base, reason = r.Base, r.Reason
			break
		}
	}

	score := base
	if s, ok := numeric(context["sensitivity"]); ok {
		score = base + s*0.4
		reason = "context_sensitivity"
	}
	score = clamp01(score)

	level := levelFor(score)
	return Assessment{
		Score:       score,
		Level:       level,
		Reason:      reason,
		BudgetCents: budgetFor(level),
	}
}

// EvaluateGate scores the intent and decides allow or noop against the
// caller's tolerance. It never fails; absence of an explicit allow is the
// caller's signal not to execute.
func EvaluateGate(intent string, context map[string]any, c Constraints) GateResult {
	assessment := ScoreIntent(intent, context)

	tolerance := DefaultTolerance
	if c.RiskTolerance != nil {
		tolerance = *c.RiskTolerance
	}

	if assessment.Score > tolerance && !c.AllowHighRisk {
		return GateResult{Action: ActionNoop, ReasonCode: "risk_threshold_exceeded", Assessment: assessment}
	}
	return GateResult{Action: ActionAllow, ReasonCode: "risk_ok", Assessment: assessment}
}

// EvaluateAssumptions checks constraint assumptions against the current
// wall clock.
func EvaluateAssumptions(c Constraints) AssumptionCheck {
	return EvaluateAssumptionsAt(c, time.Now())
}

// EvaluateAssumptionsAt checks assumptions in declaration order against the
// given instant. The first failing assumption short-circuits, so the order
// decides which key is reported.
func EvaluateAssumptionsAt(c Constraints, now time.Time) AssumptionCheck {
	if len(c.Assumptions) == 0 {
		return AssumptionCheck{OK: true, ReasonCode: "no_assumptions"}
	}
	for _, a := range c.Assumptions {
		if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			return AssumptionCheck{OK: false, ReasonCode: "assumption_expired", Detail: a.Key}
		}
		if a.ValidatedAt == nil {
			return AssumptionCheck{OK: false, ReasonCode: "assumption_unvalidated", Detail: a.Key}
		}
	}
	return AssumptionCheck{OK: true, ReasonCode: "assumptions_ok"}
}

func levelFor(score float64) Level {
	switch {
	case score >= 0.85:
		return LevelCritical
	case score >= 0.6:
		return LevelHigh
	case score >= 0.3:
		return LevelMedium
	default:
		return LevelLow
	}
}

// budgetFor is the default per-action budget in currency minor units.
func budgetFor(level Level) int {
	switch level {
	case LevelCritical:
		return 0
	case LevelHigh:
		return 500
	case LevelMedium:
		return 200
	default:
		return 50
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// numeric coerces the numeric shapes a decoded context can carry. JSON
// decoding yields float64 or json.Number; in-process callers may pass ints.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
