package rules

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testRule(id string, impact int) Rule {
	return Rule{
		ID:          id,
		Conditions:  map[ConditionKey]ConditionValue{CondURLUsesIP: BoolValue(true)},
		ScoreImpact: impact,
		Confidence:  0.9,
		Active:      true,
		Source:      SourceManual,
		CreatedAt:   time.Now().UTC(),
		LastSeenAt:  time.Now().UTC(),
	}
}

func TestRuleIDDeterministic(t *testing.T) {
	a := map[ConditionKey]ConditionValue{
		CondURLUsesIP: BoolValue(true),
		CondTLDIn:     StringsValue("tk", "ml"),
	}
	b := map[ConditionKey]ConditionValue{
		CondTLDIn:     StringsValue("tk", "ml"),
		CondURLUsesIP: BoolValue(true),
	}
	if RuleID(a) != RuleID(b) {
		t.Errorf("ids differ for identical condition sets: %s vs %s", RuleID(a), RuleID(b))
	}
	if got := RuleID(a); len(got) != 15 || got[:3] != "hx-" {
		t.Errorf("unexpected id shape: %q", got)
	}

	c := map[ConditionKey]ConditionValue{
		CondURLUsesIP: BoolValue(true),
		CondTLDIn:     StringsValue("tk"),
	}
	if RuleID(a) == RuleID(c) {
		t.Error("different condition sets produced the same id")
	}
}

func TestConditionValueJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   ConditionValue
		want string
	}{
		{"bool", BoolValue(true), "true"},
		{"int", IntValue(30), "30"},
		{"string", StrValue("*.evil.tk"), `"*.evil.tk"`},
		{"strings", StringsValue("tk", "ml"), `["tk","ml"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("marshal = %s, want %s", data, tt.want)
			}
			var back ConditionValue
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back.Canonical() != tt.in.Canonical() {
				t.Errorf("round trip changed value: %s -> %s", tt.in.Canonical(), back.Canonical())
			}
		})
	}
}

func TestRuleSetValidate(t *testing.T) {
	set := RuleSet{
		Version: StoreVersion,
		Rules: []Rule{
			testRule("hx-aaa", 10),
			{Conditions: map[ConditionKey]ConditionValue{CondURLUsesIP: BoolValue(true)}, ScoreImpact: 5},
			testRule("hx-aaa", 10),
			{
				ID:          "hx-bbb",
				Conditions:  map[ConditionKey]ConditionValue{"made_up_key": BoolValue(true)},
				ScoreImpact: 5,
			},
			{
				ID:          "hx-ccc",
				Conditions:  map[ConditionKey]ConditionValue{CondURLUsesIP: BoolValue(true)},
				ScoreImpact: 0,
			},
		},
	}

	problems := set.Validate()
	wantSubstrings := []string{"missing id", "duplicate id", "unknown condition key", "score_impact must be positive"}
	for _, want := range wantSubstrings {
		found := false
		for _, p := range problems {
			if strings.Contains(p.Problem, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected a problem containing %q, got %+v", want, problems)
		}
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "rules.json"))
	if err := s.Load(); err != nil {
		t.Fatalf("load of missing file: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d rules", s.Len())
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	s := NewStore(path)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(testRule("hx-one", 10)); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("store file permissions = %o, want 600", perm)
	}

	reloaded := NewStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	rule, ok := reloaded.Get("hx-one")
	if !ok {
		t.Fatal("rule missing after reload")
	}
	if rule.ScoreImpact != 10 || !rule.Active {
		t.Errorf("rule changed across save/load: %+v", rule)
	}
}

func TestStoreAddDuplicate(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "rules.json"))
	if err := s.Add(testRule("hx-dup", 10)); err != nil {
		t.Fatal(err)
	}
	err := s.Add(testRule("hx-dup", 20))
	if !errors.Is(err, ErrRuleExists) {
		t.Errorf("expected ErrRuleExists, got %v", err)
	}
}

func TestStoreUpdateUnknown(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "rules.json"))
	err := s.Update("hx-missing", func(r *Rule) error { return nil })
	if !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestSeedFromDir(t *testing.T) {
	dir := t.TempDir()
	seed := `rules:
  - description: IP-hosted login page
    conditions:
      url_uses_ip: true
      login_form: true
    score_impact: 25
  - id: hx-fixed
    description: throwaway TLD
    conditions:
      tld_in: [tk, ml, ga]
    score_impact: 10
    confidence: 0.8
`
	if err := os.WriteFile(filepath.Join(dir, "default.yaml"), []byte(seed), 0600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(filepath.Join(t.TempDir(), "rules.json"))
	added, err := s.SeedFromDir(dir)
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}

	fixed, ok := s.Get("hx-fixed")
	if !ok {
		t.Fatal("hx-fixed not seeded")
	}
	if fixed.Confidence != 0.8 || fixed.Source != SourceSeed || !fixed.Active {
		t.Errorf("unexpected seeded rule: %+v", fixed)
	}

	// Seeding again is a no-op.
	again, err := s.SeedFromDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again != 0 {
		t.Errorf("re-seed added %d rules, want 0", again)
	}
}

func TestSeedFromMissingDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "rules.json"))
	added, err := s.SeedFromDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil || added != 0 {
		t.Errorf("missing seed dir: added=%d err=%v", added, err)
	}
}
