package maintenance

import (
	"github.com/tillerlabs/tiller/pkg/constitution"
	"github.com/tillerlabs/tiller/pkg/governance"
)

// DeriveCounters tallies drift counters from the decision ledger and the
// preflight history. Ledger side: decisions recorded without an intent and
// a broken hash chain. Report side: each failed preflight counts once as an
// invariant violation and once in every specific category its input
// tripped. Reports echo their inputs, so the conditions are re-evaluated
// structurally rather than parsed out of reason strings.
func DeriveCounters(decisions []governance.Decision, reports []Report) Counters {
	var c Counters

	for _, d := range decisions {
		if d.IntentID == "" {
			c.MissingIntent++
		}
	}
	if err := governance.VerifyChain(decisions); err != nil {
		c.AppendOnlyBreaches++
	}

	for _, r := range reports {
		if r.Status != StatusFail {
			continue
		}
		c.InvariantViolations++
		for _, target := range r.DeclaredOptimizationTargets {
			if _, hit := constitution.MatchesForbiddenTarget(target); hit {
				c.ProhibitedTargetHits++
			}
		}
		if !r.IntentsPresent && !r.MockMode {
			c.MissingIntent++
		}
		if !r.AppendOnlyPreserved {
			c.AppendOnlyBreaches++
		}
		if r.RiskClass == ClassR3 && !r.HumanApproved {
			c.MissingApprovals++
		}
	}

	return c
}
