package scan

import (
	"context"
	"fmt"

	"github.com/urlsentry/urlsentry/internal/rules"
	"github.com/urlsentry/urlsentry/internal/types"
)

// BuiltinProducers returns the engine's standard producer set, in phase
// order. The heuristics producer wraps the rule evaluator; the rest score
// the signal set and the optional context bundles.
func BuiltinProducers(ev *rules.Evaluator) []Producer {
	return []Producer{
		&heuristicsProducer{ev: ev},
		structureProducer{},
		sslProducer{},
		contentProducer{},
		redirectsProducer{},
		reputationProducer{},
	}
}

// --- heuristics -----------------------------------------------------------

type heuristicsProducer struct {
	ev *rules.Evaluator
}

func (p *heuristicsProducer) Name() string  { return "heuristics" }
func (p *heuristicsProducer) MaxScore() int { return p.ev.MaxScore() }

func (p *heuristicsProducer) Check(_ context.Context, target Target) Result {
	eval := p.ev.Evaluate(target.Signals)

	res := Result{
		Score:     eval.Score,
		MaxScore:  eval.MaxScore,
		Status:    eval.Status,
		Available: true,
	}
	if len(eval.Matched) == 0 {
		res.Reason = "no heuristic rules matched"
		return res
	}
	res.Reason = fmt.Sprintf("%d heuristic rule(s) matched, total suspicion %d", len(eval.Matched), eval.TotalSuspicion)
	for _, m := range eval.Matched {
		f := fmt.Sprintf("rule %s (+%d)", m.ID, m.ScoreImpact)
		if m.Description != "" {
			f = fmt.Sprintf("rule %s: %s (+%d)", m.ID, m.Description, m.ScoreImpact)
		}
		res.Findings = append(res.Findings, f)
	}
	return res
}

// --- structure ------------------------------------------------------------

type structureProducer struct{}

func (structureProducer) Name() string  { return "structure" }
func (structureProducer) MaxScore() int { return BudgetStructure }

func (structureProducer) Check(_ context.Context, target Target) Result {
	sig := target.Signals
	res := Result{MaxScore: BudgetStructure, Available: true}

	if sig.Malformed {
		res.Status = types.StatusDanger
		res.Reason = "URL did not parse"
		res.Findings = append(res.Findings, "malformed URL")
		return res
	}

	penalty := 0
	add := func(points int, finding string) {
		penalty += points
		res.Findings = append(res.Findings, finding)
	}

	if sig.UsesIP {
		add(5, "hostname is a raw IP address")
	}
	if sig.SuspiciousTLD {
		add(4, fmt.Sprintf("suspicious TLD .%s", sig.TLD))
	}
	if sig.Punycode {
		add(3, "punycode hostname")
	}
	if sig.LongURL {
		add(2, fmt.Sprintf("unusually long URL (%d chars)", sig.URLLength))
	}
	if sig.SubdomainCount > 3 {
		add(2, fmt.Sprintf("%d subdomain levels", sig.SubdomainCount))
	}
	if sig.EncodedDensity > 0.25 {
		add(2, "heavy percent-encoding")
	}
	if !sig.UsesHTTPS {
		add(2, "not using HTTPS")
	}

	if penalty > BudgetStructure {
		penalty = BudgetStructure
	}
	res.Score = BudgetStructure - penalty

	switch {
	case penalty >= 10:
		res.Status = types.StatusDanger
	case penalty >= 4:
		res.Status = types.StatusWarning
	default:
		res.Status = types.StatusSafe
	}
	if res.Reason == "" {
		if penalty == 0 {
			res.Reason = "URL structure looks normal"
		} else {
			res.Reason = fmt.Sprintf("%d structural issue(s)", len(res.Findings))
		}
	}
	return res
}

// --- ssl ------------------------------------------------------------------

type sslProducer struct{}

func (sslProducer) Name() string  { return "ssl" }
func (sslProducer) MaxScore() int { return BudgetSSL }

func (sslProducer) Check(_ context.Context, target Target) Result {
	if target.Context.SSL == nil {
		return Unavailable(BudgetSSL, "no certificate data provided")
	}
	sig := target.Signals
	res := Result{MaxScore: BudgetSSL, Available: true}

	switch {
	case sig.SSLExpired:
		res.Score = 0
		res.Status = types.StatusDanger
		res.Reason = "certificate is expired"
		res.Findings = append(res.Findings, "expired certificate")
	case !sig.UsesHTTPS:
		res.Score = 5
		res.Status = types.StatusWarning
		res.Reason = "connection does not use HTTPS"
	case sig.SSLIssuerMissing:
		res.Score = 8
		res.Status = types.StatusWarning
		res.Reason = "certificate issuer not reported"
		res.Findings = append(res.Findings, "missing issuer")
	default:
		res.Score = BudgetSSL
		res.Status = types.StatusSafe
		res.Reason = fmt.Sprintf("valid certificate from %s", target.Context.SSL.Issuer)
	}
	return res
}

// --- content --------------------------------------------------------------

type contentProducer struct{}

func (contentProducer) Name() string  { return "content" }
func (contentProducer) MaxScore() int { return BudgetContent }

func (contentProducer) Check(_ context.Context, target Target) Result {
	if target.Context.Content == nil {
		return Unavailable(BudgetContent, "no page content data provided")
	}
	sig := target.Signals
	res := Result{MaxScore: BudgetContent, Available: true}

	penalty := 0
	add := func(points int, finding string) {
		penalty += points
		res.Findings = append(res.Findings, finding)
	}

	if sig.HasObfuscation {
		add(8, "obfuscated JavaScript")
	}
	if sig.PhishingKeywordHit {
		add(5, "phishing wording on page")
	}
	if sig.HasPasswordField {
		add(4, "password input field")
	}
	if sig.HasLoginForm {
		add(3, "login form")
	}
	if sig.HasJSRedirect {
		add(4, "JavaScript redirect")
	}
	if sig.HasMetaRefresh {
		add(3, "meta-refresh redirect")
	}
	if sig.HasIframe {
		add(2, "embedded iframe")
	}
	if !sig.UsesHTTPS && (sig.HasLoginForm || sig.HasPasswordField) {
		add(6, "credential form served over plain HTTP")
	}

	if penalty > BudgetContent {
		penalty = BudgetContent
	}
	res.Score = BudgetContent - penalty

	switch {
	case penalty >= 12:
		res.Status = types.StatusDanger
	case penalty >= 5:
		res.Status = types.StatusWarning
	default:
		res.Status = types.StatusSafe
	}
	if penalty == 0 {
		res.Reason = "no suspicious content markers"
	} else {
		res.Reason = fmt.Sprintf("%d content finding(s)", len(res.Findings))
	}
	return res
}

// --- redirects ------------------------------------------------------------

type redirectsProducer struct{}

func (redirectsProducer) Name() string  { return "redirects" }
func (redirectsProducer) MaxScore() int { return BudgetRedirects }

func (redirectsProducer) Check(_ context.Context, target Target) Result {
	if target.Context.Redirects == nil {
		return Unavailable(BudgetRedirects, "no redirect data provided")
	}
	sig := target.Signals
	res := Result{MaxScore: BudgetRedirects, Available: true}

	penalty := sig.RedirectCount
	if penalty > 4 {
		penalty = 4
	}
	if sig.ExcessiveRedirects {
		penalty += 5
		res.Findings = append(res.Findings,
			fmt.Sprintf("redirect chain of %d hops", sig.RedirectCount))
	}
	if penalty > BudgetRedirects {
		penalty = BudgetRedirects
	}
	res.Score = BudgetRedirects - penalty

	switch {
	case penalty >= 7:
		res.Status = types.StatusDanger
	case penalty >= 3:
		res.Status = types.StatusWarning
	default:
		res.Status = types.StatusSafe
	}
	if sig.RedirectCount == 0 {
		res.Reason = "no redirects"
	} else {
		res.Reason = fmt.Sprintf("%d redirect(s)", sig.RedirectCount)
	}
	return res
}

// --- reputation -----------------------------------------------------------

type reputationProducer struct{}

func (reputationProducer) Name() string  { return "reputation" }
func (reputationProducer) MaxScore() int { return BudgetReputation }

func (reputationProducer) Check(_ context.Context, target Target) Result {
	if target.Context.Reputation == nil {
		return Unavailable(BudgetReputation, "no reputation data provided")
	}
	sig := target.Signals
	res := Result{MaxScore: BudgetReputation, Available: true}

	penalty := 0
	add := func(points int, finding string) {
		penalty += points
		res.Findings = append(res.Findings, finding)
	}

	if sig.HighAbuse {
		add(10, fmt.Sprintf("abuse confidence score %d", sig.AbuseScore))
	}
	if sig.AnonymityNet {
		switch {
		case sig.IsTor:
			add(4, "Tor exit node")
		case sig.IsVPN:
			add(4, "VPN endpoint")
		default:
			add(4, "open proxy")
		}
	}
	if sig.IsDatacenter {
		add(2, "datacenter-hosted")
	}

	if penalty > BudgetReputation {
		penalty = BudgetReputation
	}
	res.Score = BudgetReputation - penalty

	switch {
	case penalty >= 10:
		res.Status = types.StatusDanger
	case penalty >= 4:
		res.Status = types.StatusWarning
	default:
		res.Status = types.StatusSafe
	}
	if penalty == 0 {
		res.Reason = "clean network reputation"
	} else {
		res.Reason = fmt.Sprintf("%d reputation finding(s)", len(res.Findings))
	}
	return res
}
