package types

import "testing"

func TestVerdictValid(t *testing.T) {
	tests := []struct {
		v    Verdict
		want bool
	}{
		{VerdictAllow, true},
		{VerdictWarn, true},
		{VerdictBlock, true},
		{Verdict("allow"), false},
		{Verdict(""), false},
	}
	for _, tt := range tests {
		if got := tt.v.Valid(); got != tt.want {
			t.Errorf("Verdict(%q).Valid() = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestPhaseStatusValid(t *testing.T) {
	tests := []struct {
		s    PhaseStatus
		want bool
	}{
		{StatusSafe, true},
		{StatusWarning, true},
		{StatusDanger, true},
		{PhaseStatus("ok"), false},
	}
	for _, tt := range tests {
		if got := tt.s.Valid(); got != tt.want {
			t.Errorf("PhaseStatus(%q).Valid() = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestMandate(t *testing.T) {
	if !MandateMalicious.IsMalicious() {
		t.Error("MandateMalicious.IsMalicious() = false")
	}
	if MandateNone.IsMalicious() {
		t.Error("MandateNone.IsMalicious() = true")
	}
	if Mandate("suspicious").Valid() {
		t.Error("unknown mandate should not be valid")
	}
}

func TestRiskLevelValid(t *testing.T) {
	for _, r := range []RiskLevel{RiskSafe, RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		if !r.Valid() {
			t.Errorf("RiskLevel(%q).Valid() = false", r)
		}
	}
	if RiskLevel("extreme").Valid() {
		t.Error("unknown risk level should not be valid")
	}
}
