// Package types defines common type-safe enums used across the codebase.
package types

// Verdict represents the final categorical outcome of a scan.
type Verdict string

const (
	// VerdictAllow means the URL is considered safe to visit.
	VerdictAllow Verdict = "ALLOW"
	// VerdictWarn means the URL is suspicious and the user should be warned.
	VerdictWarn Verdict = "WARN"
	// VerdictBlock means the URL is considered dangerous.
	VerdictBlock Verdict = "BLOCK"
)

// Valid returns true if the Verdict is a known valid value.
func (v Verdict) Valid() bool {
	return v == VerdictAllow || v == VerdictWarn || v == VerdictBlock
}

// IsBlock returns true if this verdict blocks navigation.
func (v Verdict) IsBlock() bool {
	return v == VerdictBlock
}

// RiskLevel qualifies a verdict with a coarse severity band.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid returns true if the RiskLevel is a known valid value.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskSafe, RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// PhaseStatus is one evidence producer's qualitative assessment.
type PhaseStatus string

const (
	StatusSafe    PhaseStatus = "safe"
	StatusWarning PhaseStatus = "warning"
	StatusDanger  PhaseStatus = "danger"
)

// Valid returns true if the PhaseStatus is a known valid value.
func (s PhaseStatus) Valid() bool {
	return s == StatusSafe || s == StatusWarning || s == StatusDanger
}

// Mandate is an authoritative override flag from a high-trust provider.
// A malicious mandate forces a BLOCK verdict regardless of the blended score.
type Mandate string

const (
	// MandateNone is the default: no override.
	MandateNone Mandate = ""
	// MandateMalicious forces verdict = BLOCK.
	MandateMalicious Mandate = "malicious"
)

// Valid returns true if the Mandate is a known valid value.
func (m Mandate) Valid() bool {
	return m == MandateNone || m == MandateMalicious
}

// IsMalicious returns true if this mandate forces a block.
func (m Mandate) IsMalicious() bool {
	return m == MandateMalicious
}

// LogLevel represents a logging verbosity level as configured.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Valid returns true if the LogLevel is a known valid value.
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, "":
		return true
	}
	return false
}
