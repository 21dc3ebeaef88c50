package governance

import (
	"fmt"

	"github.com/tillerlabs/tiller/pkg/canonicalize"
)

// genesisHash anchors the chain before the first decision.
const genesisHash = "genesis"

// hashDecision computes the content hash over the decision's canonical JSON
// form with the ContentHash field cleared. PrevHash is inside the hashed
// form, which is what chains entries together.
func hashDecision(d Decision) (string, error) {
	d.ContentHash = ""
	hash, err := canonicalize.CanonicalHash(d)
	if err != nil {
		return "", err
	}
	return "sha256:" + hash, nil
}

// VerifyChain walks the decision sequence and checks sequence numbers, the
// prev-hash linkage, and every content hash. A nil return means the history
// is intact; any tamper, reorder, or truncation-and-regrow surfaces here.
func VerifyChain(decisions []Decision) error {
	prev := genesisHash
	for i, d := range decisions {
		if d.Sequence != uint64(i)+1 {
			return fmt.Errorf("governance: chain broken at entry %d: expected sequence %d, got %d", i+1, i+1, d.Sequence)
		}
		if d.PrevHash != prev {
			return fmt.Errorf("governance: chain broken at entry %d: expected prev %s, got %s", i+1, prev, d.PrevHash)
		}
		computed, err := hashDecision(d)
		if err != nil {
			return fmt.Errorf("governance: rehash entry %d: %w", i+1, err)
		}
		if computed != d.ContentHash {
			return fmt.Errorf("governance: hash mismatch at entry %d", i+1)
		}
		prev = d.ContentHash
	}
	return nil
}
