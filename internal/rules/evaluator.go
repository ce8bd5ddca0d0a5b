package rules

import (
	"github.com/urlsentry/urlsentry/internal/signals"
	"github.com/urlsentry/urlsentry/internal/types"
)

// DefaultBudget is the heuristics phase score budget.
const DefaultBudget = 25

// Thresholds mapping total suspicion to a phase status.
const (
	dangerSuspicion  = 30
	warningSuspicion = 10
)

// MatchedRule records one rule that fired during an evaluation.
type MatchedRule struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	ScoreImpact int    `json:"score_impact"`
}

// Evaluation is the outcome of running the active rules over a signal set.
type Evaluation struct {
	Score          int               `json:"score"`
	MaxScore       int               `json:"max_score"`
	Status         types.PhaseStatus `json:"status"`
	TotalSuspicion int               `json:"total_suspicion"`
	Matched        []MatchedRule     `json:"matched,omitempty"`
}

// Evaluator runs the active rule set against extracted signals. Matching is
// conjunctive: a rule fires only when every one of its conditions holds.
type Evaluator struct {
	store    *Store
	maxScore int
}

// NewEvaluator creates an evaluator over the given store. A non-positive
// budget falls back to DefaultBudget.
func NewEvaluator(store *Store, budget int) *Evaluator {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Evaluator{store: store, maxScore: budget}
}

// MaxScore returns the phase budget.
func (e *Evaluator) MaxScore() int {
	return e.maxScore
}

// Evaluate runs every active rule over sig. The phase score starts at the
// full budget and loses one point per point of accumulated suspicion,
// clamped at zero. Evaluation never writes to the store: a rule's decay
// clock restarts only when the learning pipeline confirms it against a
// malicious sample, so matching benign traffic cannot keep a stale rule
// alive.
func (e *Evaluator) Evaluate(sig signals.Set) Evaluation {
	eval := Evaluation{MaxScore: e.maxScore}

	for _, rule := range e.store.ActiveRules() {
		if !e.matches(rule, sig) {
			continue
		}
		eval.TotalSuspicion += rule.ScoreImpact
		eval.Matched = append(eval.Matched, MatchedRule{
			ID:          rule.ID,
			Description: rule.Description,
			ScoreImpact: rule.ScoreImpact,
		})
	}

	penalty := eval.TotalSuspicion
	if penalty > e.maxScore {
		penalty = e.maxScore
	}
	eval.Score = e.maxScore - penalty

	switch {
	case eval.TotalSuspicion >= dangerSuspicion:
		eval.Status = types.StatusDanger
	case eval.TotalSuspicion >= warningSuspicion:
		eval.Status = types.StatusWarning
	default:
		eval.Status = types.StatusSafe
	}
	return eval
}

// matches reports whether every condition of the rule holds for sig.
func (e *Evaluator) matches(rule Rule, sig signals.Set) bool {
	for key, val := range rule.Conditions {
		if !e.condition(rule.ID, key, val, sig) {
			return false
		}
	}
	return len(rule.Conditions) > 0
}

func (e *Evaluator) condition(ruleID string, key ConditionKey, val ConditionValue, sig signals.Set) bool {
	switch key {
	case CondURLUsesIP:
		return boolCond(val, sig.UsesIP)
	case CondTLDIn:
		for _, tld := range val.Strings {
			if tld == sig.TLD {
				return true
			}
		}
		return false
	case CondDomainAgeLtDays:
		if val.Int == nil || sig.DomainAgeDays == nil {
			return false
		}
		return *sig.DomainAgeDays < *val.Int
	case CondJSRedirect:
		return boolCond(val, sig.HasJSRedirect)
	case CondMetaRefresh:
		return boolCond(val, sig.HasMetaRefresh)
	case CondPasswordField:
		return boolCond(val, sig.HasPasswordField)
	case CondLoginForm:
		return boolCond(val, sig.HasLoginForm)
	case CondObfuscatedJS:
		return boolCond(val, sig.HasObfuscation)
	case CondIframeEmbed:
		return boolCond(val, sig.HasIframe)
	case CondPhishingKeyword:
		return boolCond(val, sig.PhishingKeywordHit)
	case CondLongRedirects:
		return boolCond(val, sig.RedirectCount >= signals.ExcessiveRedirectThreshold)
	case CondHTTPSuspicious:
		suspicious := !sig.UsesHTTPS &&
			(sig.HasLoginForm || sig.HasPasswordField || sig.HasObfuscation || sig.PhishingKeywordHit)
		return boolCond(val, suspicious)
	case CondHostGlob:
		g, ok := e.store.hostGlob(ruleID)
		if !ok {
			return false
		}
		return g.Match(sig.Host)
	case CondURLLengthGt:
		return val.Int != nil && sig.URLLength > *val.Int
	case CondSubdomainsGt:
		return val.Int != nil && sig.SubdomainCount > *val.Int
	case CondExcessiveHops:
		return boolCond(val, sig.ExcessiveRedirects)
	case CondHighAbuseScore:
		return boolCond(val, sig.HighAbuse)
	case CondAnonymityNetwork:
		return boolCond(val, sig.AnonymityNet)
	default:
		// Unknown keys never match; lint reports them.
		return false
	}
}

func boolCond(val ConditionValue, actual bool) bool {
	return val.Bool != nil && *val.Bool == actual
}
