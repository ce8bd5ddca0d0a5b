package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// RuleID derives the deterministic id for a condition set: "hx-" plus the
// first 12 hex characters of the SHA-256 over the canonically sorted
// key=value condition list. Identical condition sets always produce the
// same id, which is how the learner deduplicates.
func RuleID(conditions map[ConditionKey]ConditionValue) string {
	parts := make([]string, 0, len(conditions))
	for key, val := range conditions {
		parts = append(parts, string(key)+"="+val.Canonical())
	}
	sort.Strings(parts)

	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return "hx-" + hex.EncodeToString(sum[:])[:12]
}
