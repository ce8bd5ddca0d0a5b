package rules

import (
	"fmt"
	"time"

	"github.com/urlsentry/urlsentry/internal/logger"
	"github.com/urlsentry/urlsentry/internal/signals"
)

// Learner defaults.
const (
	DefaultInitialConfidence = 0.85
	DefaultDecayPerDay       = 0.01
	DefaultMinConfidence     = 0.30
	DefaultFalsePositiveStep = 0.10
	DefaultMinPatterns       = 2

	// LearnedScoreImpact is the suspicion a freshly learned rule carries.
	LearnedScoreImpact = 15

	// maxEvidenceURLs caps per-rule evidence so a noisy campaign cannot
	// grow the store without bound.
	maxEvidenceURLs = 20
)

// LearnerConfig tunes the rule-learning lifecycle.
type LearnerConfig struct {
	InitialConfidence float64
	DecayPerDay       float64
	MinConfidence     float64
	FalsePositiveStep float64
	MinPatterns       int
}

// DefaultLearnerConfig returns the standard lifecycle parameters.
func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{
		InitialConfidence: DefaultInitialConfidence,
		DecayPerDay:       DefaultDecayPerDay,
		MinConfidence:     DefaultMinConfidence,
		FalsePositiveStep: DefaultFalsePositiveStep,
		MinPatterns:       DefaultMinPatterns,
	}
}

// Learner mints new heuristic rules from confirmed-malicious samples and
// demotes rules on false-positive feedback.
type Learner struct {
	store *Store
	cfg   LearnerConfig
	log   *logger.Logger
}

// NewLearner creates a learner over the store. Zero-valued config fields
// fall back to the defaults.
func NewLearner(store *Store, cfg LearnerConfig) *Learner {
	def := DefaultLearnerConfig()
	if cfg.InitialConfidence <= 0 {
		cfg.InitialConfidence = def.InitialConfidence
	}
	if cfg.DecayPerDay <= 0 {
		cfg.DecayPerDay = def.DecayPerDay
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.FalsePositiveStep <= 0 {
		cfg.FalsePositiveStep = def.FalsePositiveStep
	}
	if cfg.MinPatterns <= 0 {
		cfg.MinPatterns = def.MinPatterns
	}
	return &Learner{store: store, cfg: cfg, log: logger.New("learner")}
}

// LearnResult describes the outcome of one learning attempt.
type LearnResult struct {
	Created bool   `json:"created"`
	RuleID  string `json:"rule_id,omitempty"`
	Reason  string `json:"reason"`
}

// LearnFromConfirmedMalicious inspects the signal set of a URL a high-trust
// provider mandated as malicious and, when at least MinPatterns distinct
// suspicious features are present, mints a deterministic rule from them. A
// sample matching an existing rule's condition set refreshes that rule
// instead of creating a duplicate.
func (l *Learner) LearnFromConfirmedMalicious(rawURL string, sig signals.Set) LearnResult {
	conditions := patternConditions(sig)
	if len(conditions) < l.cfg.MinPatterns {
		return LearnResult{
			Reason: fmt.Sprintf("only %d suspicious pattern(s), need %d", len(conditions), l.cfg.MinPatterns),
		}
	}

	id := RuleID(conditions)
	now := time.Now().UTC()

	if _, ok := l.store.Get(id); ok {
		// A confirmed-malicious hit restarts the decay clock and revives
		// the rule if decay or feedback had retired it.
		if err := l.store.ResetDecay(id, now); err != nil {
			l.log.Warn("refreshing rule %s: %v", id, err)
		}
		err := l.store.Update(id, func(r *Rule) error {
			r.EvidenceURLs = appendEvidence(r.EvidenceURLs, rawURL)
			return nil
		})
		if err != nil {
			l.log.Warn("recording evidence on rule %s: %v", id, err)
		}
		return LearnResult{RuleID: id, Reason: "rule already exists"}
	}

	rule := Rule{
		ID:                    id,
		Description:           fmt.Sprintf("learned from confirmed malicious sample (%d patterns)", len(conditions)),
		Conditions:            conditions,
		ScoreImpact:           LearnedScoreImpact,
		Confidence:            l.cfg.InitialConfidence,
		MinConfidence:         l.cfg.MinConfidence,
		ConfidenceDecayPerDay: l.cfg.DecayPerDay,
		Active:                true,
		Source:                SourceLearned,
		CreatedAt:             now,
		LastSeenAt:            now,
		EvidenceURLs:          []string{rawURL},
	}
	if err := l.store.Add(rule); err != nil {
		return LearnResult{RuleID: id, Reason: err.Error()}
	}

	l.log.Info("learned rule %s from %s", id, sig.Host)
	return LearnResult{Created: true, RuleID: id, Reason: "rule created"}
}

// Adjustment records the effect of false-positive feedback on one rule.
type Adjustment struct {
	RuleID        string  `json:"rule_id"`
	NewConfidence float64 `json:"new_confidence"`
	Deactivated   bool    `json:"deactivated"`
	Err           string  `json:"error,omitempty"`
}

// LearnFromFalsePositive lowers confidence on each rule by the feedback
// step, deactivating any rule that falls below its floor. Deactivation is
// one-way; feedback never reactivates a rule.
func (l *Learner) LearnFromFalsePositive(ruleIDs []string) []Adjustment {
	out := make([]Adjustment, 0, len(ruleIDs))
	now := time.Now().UTC()

	for _, id := range ruleIDs {
		adj := Adjustment{RuleID: id}
		err := l.store.Update(id, func(r *Rule) error {
			r.Confidence -= l.cfg.FalsePositiveStep
			if r.Confidence < 0 {
				r.Confidence = 0
			}
			if r.Active && r.Confidence < r.MinConfidence {
				r.Deactivate(now)
			}
			adj.NewConfidence = r.Confidence
			adj.Deactivated = !r.Active
			return nil
		})
		if err != nil {
			adj.Err = err.Error()
		} else if adj.Deactivated {
			l.log.Info("rule %s deactivated after false-positive feedback", id)
		}
		out = append(out, adj)
	}
	return out
}

// patternConditions maps the suspicious features of a signal set onto the
// condition vocabulary used for learning.
func patternConditions(sig signals.Set) map[ConditionKey]ConditionValue {
	conditions := make(map[ConditionKey]ConditionValue)

	if sig.UsesIP {
		conditions[CondURLUsesIP] = BoolValue(true)
	}
	if sig.SuspiciousTLD && sig.TLD != "" {
		conditions[CondTLDIn] = StringsValue(sig.TLD)
	}
	if sig.YoungDomain {
		conditions[CondDomainAgeLtDays] = IntValue(signals.YoungDomainDays)
	}
	if sig.HasJSRedirect {
		conditions[CondJSRedirect] = BoolValue(true)
	}
	if sig.HasMetaRefresh {
		conditions[CondMetaRefresh] = BoolValue(true)
	}
	if sig.HasPasswordField {
		conditions[CondPasswordField] = BoolValue(true)
	}
	if sig.HasLoginForm {
		conditions[CondLoginForm] = BoolValue(true)
	}
	if sig.HasObfuscation {
		conditions[CondObfuscatedJS] = BoolValue(true)
	}
	if sig.HasIframe {
		conditions[CondIframeEmbed] = BoolValue(true)
	}
	if sig.PhishingKeywordHit {
		conditions[CondPhishingKeyword] = BoolValue(true)
	}
	if sig.RedirectCount >= signals.ExcessiveRedirectThreshold {
		conditions[CondLongRedirects] = BoolValue(true)
	}
	if !sig.UsesHTTPS && (sig.HasLoginForm || sig.HasPasswordField || sig.HasObfuscation || sig.PhishingKeywordHit) {
		conditions[CondHTTPSuspicious] = BoolValue(true)
	}
	if sig.HighAbuse {
		conditions[CondHighAbuseScore] = BoolValue(true)
	}
	if sig.AnonymityNet {
		conditions[CondAnonymityNetwork] = BoolValue(true)
	}

	return conditions
}

func appendEvidence(urls []string, rawURL string) []string {
	for _, u := range urls {
		if u == rawURL {
			return urls
		}
	}
	if len(urls) >= maxEvidenceURLs {
		return urls
	}
	return append(urls, rawURL)
}
