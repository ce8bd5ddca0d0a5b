package scan

import (
	"fmt"
	"time"

	"github.com/urlsentry/urlsentry/internal/logger"
	"github.com/urlsentry/urlsentry/internal/signals"
	"github.com/urlsentry/urlsentry/internal/types"
)

// Aggregator combines phase results into a decision under a verdict policy.
type Aggregator struct {
	policy VerdictPolicy
	log    *logger.Logger
}

// NewAggregator creates an aggregator with the given policy; nil means the
// canonical safety-percentage policy.
func NewAggregator(policy VerdictPolicy) *Aggregator {
	if policy == nil {
		policy = safetyPercentagePolicy{}
	}
	return &Aggregator{policy: policy, log: logger.New("aggregate")}
}

// Decide sums the usable phases, applies the policy, then the mandate
// override. Zero usable phases produces the default-safe decision.
func (a *Aggregator) Decide(scanID, fingerprint, rawURL string, sig signals.Set, phases []Phase) Decision {
	var score, maxScore, usable int
	for _, p := range phases {
		if !p.Available {
			continue
		}
		usable++
		score += p.Score
		maxScore += p.MaxScore
	}

	if usable == 0 || maxScore == 0 {
		a.log.Warn("no usable evidence for %s, defaulting to safe", rawURL)
		return DefaultSafe(scanID, fingerprint, rawURL, phases)
	}

	percentage := (score*100 + maxScore/2) / maxScore

	verdict, risk, reasoning := a.policy.Judge(Summary{
		Score:         score,
		MaxScore:      maxScore,
		Percentage:    percentage,
		Phases:        phases,
		SuspiciousTLD: sig.SuspiciousTLD,
	})

	decision := Decision{
		ScanID:      scanID,
		Fingerprint: fingerprint,
		URL:         rawURL,
		Verdict:     verdict,
		RiskLevel:   risk,
		Score:       score,
		MaxScore:    maxScore,
		Percentage:  percentage,
		Reasoning:   reasoning,
		Phases:      phases,
		CreatedAt:   time.Now().UTC(),
	}

	// A malicious mandate from any phase is authoritative regardless of
	// how well the target scored.
	for _, p := range phases {
		if p.Mandate.IsMalicious() {
			decision.Verdict = types.VerdictBlock
			decision.RiskLevel = types.RiskCritical
			decision.Mandate = types.MandateMalicious
			decision.Reasoning = fmt.Sprintf("%s provider mandates malicious", p.Name)
			break
		}
	}

	return decision
}
