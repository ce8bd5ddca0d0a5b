package scan

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/urlsentry/urlsentry/internal/rules"
	"github.com/urlsentry/urlsentry/internal/signals"
	"github.com/urlsentry/urlsentry/internal/types"
)

func scenarioEngine(t *testing.T, seed []rules.Rule) *Engine {
	t.Helper()
	store := rules.NewStore(filepath.Join(t.TempDir(), "rules.json"))
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	for _, r := range seed {
		if err := store.Add(r); err != nil {
			t.Fatal(err)
		}
	}
	ev := rules.NewEvaluator(store, rules.DefaultBudget)
	return NewEngine(BuiltinProducers(ev), NewAggregator(nil), NewCache(time.Hour, nil), nil, fastConfig())
}

func phaseByName(t *testing.T, d Decision, name string) Phase {
	t.Helper()
	for _, p := range d.Phases {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("no %s phase in %+v", name, d.Phases)
	return Phase{}
}

func TestScenarioEstablishedSiteAllows(t *testing.T) {
	age := 8000
	e := scenarioEngine(t, nil)

	sctx := signals.Context{
		Whois: &signals.WhoisInfo{DomainAgeDays: &age, Registrar: "MarkMonitor"},
		SSL:   &signals.SSLInfo{Issuer: "DigiCert Inc", ValidTo: "2030-01-02"},
		Content: &signals.ContentInfo{
			Findings: []string{},
		},
		Reputation: &signals.ReputationInfo{AbuseConfidenceScore: 0, CountryCode: "US"},
		Redirects:  &signals.RedirectInfo{RedirectCount: 0},
	}

	ticket := e.Submit("https://en.wikipedia.org/wiki/Go_(programming_language)", sctx)
	d := e.Await(context.Background(), ticket.Fingerprint)

	if d.Verdict != types.VerdictAllow || d.RiskLevel != types.RiskSafe {
		t.Fatalf("verdict = %s/%s: %s", d.Verdict, d.RiskLevel, d.Reasoning)
	}
	if d.Percentage != 100 {
		t.Errorf("percentage = %d, want 100; phases: %+v", d.Percentage, d.Phases)
	}
	for _, p := range d.Phases {
		if p.Available && p.Status != types.StatusSafe {
			t.Errorf("phase %s status = %s", p.Name, p.Status)
		}
	}
}

func TestScenarioThrowawayTLDPhishingBlocks(t *testing.T) {
	e := scenarioEngine(t, []rules.Rule{
		{
			ID:          "hx-tld",
			Description: "throwaway TLD",
			Conditions:  map[rules.ConditionKey]rules.ConditionValue{rules.CondTLDIn: rules.StringsValue("tk", "ml", "ga")},
			ScoreImpact: 15, Confidence: 1, Active: true, Source: rules.SourceSeed,
		},
		{
			ID:          "hx-credform",
			Description: "credential harvesting form",
			Conditions: map[rules.ConditionKey]rules.ConditionValue{
				rules.CondLoginForm:     rules.BoolValue(true),
				rules.CondPasswordField: rules.BoolValue(true),
			},
			ScoreImpact: 20, Confidence: 1, Active: true, Source: rules.SourceSeed,
		},
	})

	age := 3
	sctx := signals.Context{
		Whois: &signals.WhoisInfo{DomainAgeDays: &age},
		Content: &signals.ContentInfo{
			Findings: []string{
				"login form detected",
				"password field present",
				"obfuscated javascript with eval(",
			},
		},
		Reputation: &signals.ReputationInfo{AbuseConfidenceScore: 90, IsProxy: true},
		Redirects:  &signals.RedirectInfo{RedirectCount: 5},
	}

	ticket := e.Submit("http://login.secure-amazon.tk/signin", sctx)
	d := e.Await(context.Background(), ticket.Fingerprint)

	if d.Verdict != types.VerdictBlock || d.RiskLevel != types.RiskCritical {
		t.Fatalf("verdict = %s/%s (%d%%): %s", d.Verdict, d.RiskLevel, d.Percentage, d.Reasoning)
	}

	heur := phaseByName(t, d, "heuristics")
	if heur.Status != types.StatusDanger {
		t.Errorf("heuristics status = %s, want danger", heur.Status)
	}
	if heur.Score != 0 {
		t.Errorf("heuristics score = %d, want 0 (suspicion 35 exceeds the budget)", heur.Score)
	}

	ssl := phaseByName(t, d, "ssl")
	if ssl.Available {
		t.Error("ssl phase should be unavailable without certificate data")
	}
}

func TestScenarioSingleRuleMatchWarns(t *testing.T) {
	e := scenarioEngine(t, []rules.Rule{{
		ID:          "hx-phish",
		Description: "phishing wording",
		Conditions:  map[rules.ConditionKey]rules.ConditionValue{rules.CondPhishingKeyword: rules.BoolValue(true)},
		ScoreImpact: 15, Confidence: 1, Active: true, Source: rules.SourceSeed,
	}})

	sctx := signals.Context{
		Content: &signals.ContentInfo{Findings: []string{"page says: verify your account"}},
	}

	ticket := e.Submit("https://promo.example.com/offer", sctx)
	d := e.Await(context.Background(), ticket.Fingerprint)

	heur := phaseByName(t, d, "heuristics")
	if heur.Status != types.StatusWarning {
		t.Fatalf("heuristics status = %s, want warning (suspicion 15)", heur.Status)
	}
	if heur.Score != rules.DefaultBudget-15 {
		t.Errorf("heuristics score = %d, want %d", heur.Score, rules.DefaultBudget-15)
	}
	if d.Verdict != types.VerdictWarn {
		t.Errorf("verdict = %s (%d%%), want WARN: %s", d.Verdict, d.Percentage, d.Reasoning)
	}
}
