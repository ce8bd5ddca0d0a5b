package history

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/urlsentry/urlsentry/internal/scan"
	"github.com/urlsentry/urlsentry/internal/types"
)

func testStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "history.db"), "")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDecision(fingerprint string, verdict types.Verdict) scan.Decision {
	return scan.Decision{
		ScanID:      "scan-1",
		Fingerprint: fingerprint,
		URL:         "https://example.com/",
		Verdict:     verdict,
		RiskLevel:   types.RiskSafe,
		Score:       90,
		MaxScore:    100,
		Percentage:  90,
		Reasoning:   "safety percentage 90% meets the allow threshold",
		Phases: []scan.Phase{
			{Name: "structure", Result: scan.Result{Score: 15, MaxScore: 15, Status: types.StatusSafe, Available: true}},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestShortEncryptionKeyRejected(t *testing.T) {
	_, err := NewStorage(filepath.Join(t.TempDir(), "history.db"), "tooshort")
	if err == nil {
		t.Fatal("expected error for short encryption key")
	}
}

func TestRecordAndQueryDecisions(t *testing.T) {
	s := testStorage(t)

	if err := s.RecordDecision(testDecision("fp-allow", types.VerdictAllow)); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordDecision(testDecision("fp-block", types.VerdictBlock)); err != nil {
		t.Fatal(err)
	}

	recent, err := s.GetRecentScans(60, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent scans = %d, want 2", len(recent))
	}

	byFP, err := s.GetByFingerprint("fp-allow", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byFP) != 1 {
		t.Fatalf("by fingerprint = %d, want 1", len(byFP))
	}
	rec := byFP[0]
	if rec.Verdict != "ALLOW" || rec.Percentage != 90 {
		t.Errorf("record = %+v", rec)
	}

	var phases []scan.Phase
	if err := json.Unmarshal(rec.Phases, &phases); err != nil {
		t.Fatalf("phases blob: %v", err)
	}
	if len(phases) != 1 || phases[0].Name != "structure" {
		t.Errorf("phases = %+v", phases)
	}
}

func TestRuleEventsAndStats(t *testing.T) {
	s := testStorage(t)

	if err := s.RecordDecision(testDecision("fp1", types.VerdictAllow)); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordDecision(testDecision("fp2", types.VerdictBlock)); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordRuleEvent("rule_learned", "hx-abc", "https://evil.tk/", "rule created"); err != nil {
		t.Fatal(err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalScans != 2 || stats.RuleEvents != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Verdicts["ALLOW"] != 1 || stats.Verdicts["BLOCK"] != 1 {
		t.Errorf("verdict breakdown = %v", stats.Verdicts)
	}
	if stats.Encrypted {
		t.Error("plaintext database reported encrypted")
	}
}

func TestCleanupOldData(t *testing.T) {
	s := testStorage(t)

	old := testDecision("fp-old", types.VerdictAllow)
	old.CreatedAt = time.Now().UTC().AddDate(0, 0, -40)
	if err := s.RecordDecision(old); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordDecision(testDecision("fp-new", types.VerdictAllow)); err != nil {
		t.Fatal(err)
	}

	removed, err := s.CleanupOldData(30)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalScans != 1 {
		t.Errorf("scans after cleanup = %d, want 1", stats.TotalScans)
	}

	if _, err := s.CleanupOldData(0); err == nil {
		t.Error("expected error for non-positive retention")
	}
}

func TestExportRoundTrip(t *testing.T) {
	s := testStorage(t)
	if err := s.RecordDecision(testDecision("fp1", types.VerdictWarn)); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := s.Export(&buf, 60, 100); err != nil {
		t.Fatalf("export: %v", err)
	}

	zr, err := zstd.NewReader(&buf)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer zr.Close()

	var envelope struct {
		ExportedAt time.Time    `json:"exported_at"`
		Scans      []ScanRecord `json:"scans"`
	}
	if err := json.NewDecoder(zr).Decode(&envelope); err != nil {
		t.Fatalf("decoding export: %v", err)
	}
	if len(envelope.Scans) != 1 || envelope.Scans[0].Verdict != "WARN" {
		t.Errorf("export = %+v", envelope)
	}
	if envelope.ExportedAt.IsZero() {
		t.Error("missing export timestamp")
	}
}
