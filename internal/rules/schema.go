package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// StoreVersion is the rule store file format version.
const StoreVersion = 1

// Rule sources
const (
	SourceSeed    = "seed"    // shipped seed rules
	SourceLearned = "learned" // created by the learner from a confirmed-malicious sample
	SourceManual  = "manual"  // added by an operator through the API
)

// ConditionKey is the closed set of signal features a rule condition may
// reference. Unknown keys in a loaded store never match and are reported by
// RuleSet.Validate.
type ConditionKey string

const (
	CondURLUsesIP        ConditionKey = "url_uses_ip"
	CondTLDIn            ConditionKey = "tld_in"
	CondDomainAgeLtDays  ConditionKey = "domain_age_lt_days"
	CondJSRedirect       ConditionKey = "js_redirect"
	CondMetaRefresh      ConditionKey = "meta_refresh"
	CondPasswordField    ConditionKey = "password_field"
	CondLoginForm        ConditionKey = "login_form"
	CondObfuscatedJS     ConditionKey = "obfuscated_js"
	CondIframeEmbed      ConditionKey = "iframe_embed"
	CondPhishingKeyword  ConditionKey = "phishing_keyword"
	CondLongRedirects    ConditionKey = "long_redirect_chain"
	CondHTTPSuspicious   ConditionKey = "http_suspicious_content"
	CondHostGlob         ConditionKey = "host_glob"
	CondURLLengthGt      ConditionKey = "url_length_gt"
	CondSubdomainsGt     ConditionKey = "subdomain_count_gt"
	CondExcessiveHops    ConditionKey = "excessive_redirects"
	CondHighAbuseScore   ConditionKey = "high_abuse_score"
	CondAnonymityNetwork ConditionKey = "anonymity_network"
)

// KnownConditionKeys is the membership set for validation.
var KnownConditionKeys = map[ConditionKey]bool{
	CondURLUsesIP:        true,
	CondTLDIn:            true,
	CondDomainAgeLtDays:  true,
	CondJSRedirect:       true,
	CondMetaRefresh:      true,
	CondPasswordField:    true,
	CondLoginForm:        true,
	CondObfuscatedJS:     true,
	CondIframeEmbed:      true,
	CondPhishingKeyword:  true,
	CondLongRedirects:    true,
	CondHTTPSuspicious:   true,
	CondHostGlob:         true,
	CondURLLengthGt:      true,
	CondSubdomainsGt:     true,
	CondExcessiveHops:    true,
	CondHighAbuseScore:   true,
	CondAnonymityNetwork: true,
}

// ConditionValue holds the typed operand of one condition. Exactly one of
// the fields is set; the JSON form is the bare scalar/array.
type ConditionValue struct {
	Bool    *bool
	Int     *int
	Str     string
	Strings []string
}

// BoolValue returns a ConditionValue wrapping a bool.
func BoolValue(b bool) ConditionValue { return ConditionValue{Bool: &b} }

// IntValue returns a ConditionValue wrapping an int.
func IntValue(i int) ConditionValue { return ConditionValue{Int: &i} }

// StrValue returns a ConditionValue wrapping a string.
func StrValue(s string) ConditionValue { return ConditionValue{Str: s} }

// StringsValue returns a ConditionValue wrapping a string list.
func StringsValue(ss ...string) ConditionValue { return ConditionValue{Strings: ss} }

// MarshalJSON emits the bare scalar or array form.
func (v ConditionValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Bool != nil:
		return json.Marshal(*v.Bool)
	case v.Int != nil:
		return json.Marshal(*v.Int)
	case v.Strings != nil:
		return json.Marshal(v.Strings)
	default:
		return json.Marshal(v.Str)
	}
}

// UnmarshalJSON accepts bool, number, string, or string-array forms.
func (v *ConditionValue) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		v.Bool = &b
		return nil
	}
	var i int
	if err := json.Unmarshal(data, &i); err == nil {
		v.Int = &i
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.Str = s
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		v.Strings = ss
		return nil
	}
	return fmt.Errorf("condition value must be bool, number, string, or string array: %s", data)
}

// Canonical returns a stable string form used for deterministic rule ids.
func (v ConditionValue) Canonical() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}

// Rule is one heuristic rule: a conjunction of conditions with a suspicion
// score impact and a confidence lifecycle. Rules are never deleted, only
// deactivated, preserving audit history.
type Rule struct {
	ID          string                          `json:"id"`
	Description string                          `json:"description,omitempty"`
	Conditions  map[ConditionKey]ConditionValue `json:"conditions"`
	ScoreImpact int                             `json:"score_impact"`
	Confidence  float64                         `json:"confidence"`
	// MinConfidence is the floor below which the rule is deactivated.
	MinConfidence float64 `json:"min_confidence"`
	// ConfidenceDecayPerDay drives time-based staleness. Zero disables decay.
	ConfidenceDecayPerDay float64    `json:"confidence_decay_per_day"`
	Active                bool       `json:"active"`
	Source                string     `json:"source"`
	CreatedAt             time.Time  `json:"created_at"`
	LastSeenAt            time.Time  `json:"last_seen_at"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	EvidenceURLs          []string   `json:"evidence_urls,omitempty"`
}

// Validate checks a single rule is well-formed.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return errors.New("rule id is required")
	}
	if len(r.Conditions) == 0 {
		return errors.New("at least one condition is required")
	}
	if r.ScoreImpact <= 0 {
		return fmt.Errorf("score_impact must be positive (got %d)", r.ScoreImpact)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1] (got %g)", r.Confidence)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1] (got %g)", r.MinConfidence)
	}
	return nil
}

// Deactivate marks the rule expired at the given time. Never reversed except
// by ResetDecay.
func (r *Rule) Deactivate(now time.Time) {
	r.Active = false
	t := now
	r.ExpiresAt = &t
}

// RuleSet is the versioned persisted collection.
type RuleSet struct {
	Version int    `json:"version"`
	Rules   []Rule `json:"rules"`
}

// Problem describes one issue found by RuleSet.Validate, for operator review.
type Problem struct {
	Index   int    `json:"idx"`
	ID      string `json:"id,omitempty"`
	Problem string `json:"problem"`
}

// Validate reports structural problems across the set: missing ids,
// duplicate ids, unknown condition keys, and malformed rules. Problems do
// not stop evaluation (unknown keys simply never match); they are surfaced
// so an operator can repair the store.
func (rs *RuleSet) Validate() []Problem {
	var problems []Problem
	seen := make(map[string]bool)

	for i, rule := range rs.Rules {
		if rule.ID == "" {
			problems = append(problems, Problem{Index: i, Problem: "missing id"})
		} else if seen[rule.ID] {
			problems = append(problems, Problem{Index: i, ID: rule.ID, Problem: "duplicate id"})
		}
		seen[rule.ID] = true

		if err := rule.Validate(); err != nil && rule.ID != "" {
			problems = append(problems, Problem{Index: i, ID: rule.ID, Problem: err.Error()})
		}

		for key := range rule.Conditions {
			if !KnownConditionKeys[key] {
				problems = append(problems, Problem{
					Index: i, ID: rule.ID,
					Problem: fmt.Sprintf("unknown condition key %q", key),
				})
			}
		}
	}

	return problems
}
