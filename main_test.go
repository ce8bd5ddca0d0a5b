package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/urlsentry/urlsentry/internal/config"
	"github.com/urlsentry/urlsentry/internal/rules"
	"github.com/urlsentry/urlsentry/internal/signals"
	"github.com/urlsentry/urlsentry/internal/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Rules.StorePath = filepath.Join(t.TempDir(), "rules.json")
	cfg.History.Enabled = false
	cfg.Scan.PollIntervalMs = 10
	return cfg
}

func TestNewLearnerDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Learner.Enabled = false

	store := rules.NewStore(cfg.RuleStorePath())
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	if l := newLearner(cfg, store); l != nil {
		t.Error("expected nil learner when disabled")
	}
}

func TestBuildEngineScansWithDefaults(t *testing.T) {
	cfg := testConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	store := rules.NewStore(cfg.RuleStorePath())
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	engine := buildEngine(cfg, store, newLearner(cfg, store), nil)

	ticket := engine.Submit("https://example.com/", signals.Context{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	decision := engine.Await(ctx, ticket.Fingerprint)

	if decision.Verdict != types.VerdictAllow {
		t.Errorf("verdict = %s: %s", decision.Verdict, decision.Reasoning)
	}
}
