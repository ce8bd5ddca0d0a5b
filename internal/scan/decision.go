package scan

import (
	"time"

	"github.com/urlsentry/urlsentry/internal/types"
)

// FailSafeReasoning is the reasoning string of a decision produced when no
// usable evidence arrived. The engine defaults to safe rather than blocking
// on its own outage.
const FailSafeReasoning = "scan failed, defaulting to safe"

// Decision is the terminal outcome of one scan.
type Decision struct {
	ScanID      string          `json:"scan_id"`
	Fingerprint string          `json:"fingerprint"`
	URL         string          `json:"url"`
	Verdict     types.Verdict   `json:"verdict"`
	RiskLevel   types.RiskLevel `json:"risk_level"`
	Score       int             `json:"score"`
	MaxScore    int             `json:"max_score"`
	// Percentage is the rounded safety percentage over the usable phases.
	Percentage int           `json:"percentage"`
	Reasoning  string        `json:"reasoning"`
	Phases     []Phase       `json:"phases"`
	Mandate    types.Mandate `json:"mandate,omitempty"`
	Cached     bool          `json:"cached"`
	CreatedAt  time.Time     `json:"created_at"`
}

// DefaultSafe builds the fail-open decision used when every producer was
// unavailable or the poll loop exhausted its attempts.
func DefaultSafe(scanID, fingerprint, rawURL string, phases []Phase) Decision {
	return Decision{
		ScanID:      scanID,
		Fingerprint: fingerprint,
		URL:         rawURL,
		Verdict:     types.VerdictAllow,
		RiskLevel:   types.RiskSafe,
		Percentage:  100,
		Reasoning:   FailSafeReasoning,
		Phases:      phases,
		CreatedAt:   time.Now().UTC(),
	}
}
