package scan

import (
	"fmt"

	"github.com/urlsentry/urlsentry/internal/types"
)

// Policy names accepted in configuration.
const (
	PolicySafetyPercentage = "safety-percentage"
	PolicyRiskFactor       = "risk-factor"
)

// Safety-percentage verdict thresholds.
const (
	allowPercentage = 80
	warnPercentage  = 50
)

// Risk-factor thresholds and component weights.
const (
	riskCritical = 75
	riskHigh     = 55
	riskMedium   = 35
	riskLow      = 15

	weightRules      = 0.5
	weightReputation = 0.4
	weightTLD        = 0.1
)

// Summary is what a verdict policy judges: the aggregate over the usable
// phases plus the signals the risk-factor policy weighs directly.
type Summary struct {
	Score         int
	MaxScore      int
	Percentage    int
	Phases        []Phase
	SuspiciousTLD bool
}

// VerdictPolicy maps an aggregate summary to a verdict, a risk level, and
// human-readable reasoning.
type VerdictPolicy interface {
	Name() string
	Judge(sum Summary) (types.Verdict, types.RiskLevel, string)
}

// PolicyByName returns the named policy, defaulting to safety-percentage
// for unknown names.
func PolicyByName(name string) VerdictPolicy {
	if name == PolicyRiskFactor {
		return riskFactorPolicy{}
	}
	return safetyPercentagePolicy{}
}

// safetyPercentagePolicy is the canonical policy: the safety percentage
// maps straight onto the verdict bands.
type safetyPercentagePolicy struct{}

func (safetyPercentagePolicy) Name() string { return PolicySafetyPercentage }

func (safetyPercentagePolicy) Judge(sum Summary) (types.Verdict, types.RiskLevel, string) {
	switch {
	case sum.Percentage >= allowPercentage:
		return types.VerdictAllow, types.RiskSafe,
			fmt.Sprintf("safety percentage %d%% meets the allow threshold", sum.Percentage)
	case sum.Percentage >= warnPercentage:
		return types.VerdictWarn, types.RiskMedium,
			fmt.Sprintf("safety percentage %d%% is in the warning band", sum.Percentage)
	default:
		return types.VerdictBlock, types.RiskCritical,
			fmt.Sprintf("safety percentage %d%% is below the warning band", sum.Percentage)
	}
}

// riskFactorPolicy converts the evidence into a weighted 0-100 risk score:
// heuristic rules carry half the weight, network reputation 40%, and the
// TLD signal the remaining 10%.
type riskFactorPolicy struct{}

func (riskFactorPolicy) Name() string { return PolicyRiskFactor }

func (riskFactorPolicy) Judge(sum Summary) (types.Verdict, types.RiskLevel, string) {
	risk := weightRules*phaseRisk(sum.Phases, "heuristics") +
		weightReputation*phaseRisk(sum.Phases, "reputation")
	if sum.SuspiciousTLD {
		risk += weightTLD * 100
	}
	score := int(risk + 0.5)

	reasoning := fmt.Sprintf("weighted risk score %d", score)
	switch {
	case score >= riskCritical:
		return types.VerdictBlock, types.RiskCritical, reasoning
	case score >= riskHigh:
		return types.VerdictBlock, types.RiskHigh, reasoning
	case score >= riskMedium:
		return types.VerdictWarn, types.RiskMedium, reasoning
	case score >= riskLow:
		return types.VerdictWarn, types.RiskLow, reasoning
	default:
		return types.VerdictAllow, types.RiskSafe, reasoning
	}
}

// phaseRisk is the named phase's lost score as a 0-100 fraction of its
// budget. An absent or unavailable phase contributes no risk.
func phaseRisk(phases []Phase, name string) float64 {
	for _, p := range phases {
		if p.Name != name || !p.Available || p.MaxScore == 0 {
			continue
		}
		return 100 * float64(p.MaxScore-p.Score) / float64(p.MaxScore)
	}
	return 0
}
