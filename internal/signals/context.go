package signals

// Context is the optional bundle of collaborator-provided evidence that
// accompanies a scan request. Every field may be nil; extraction degrades to
// URL-only signals when context is absent.
type Context struct {
	Whois      *WhoisInfo      `json:"whois,omitempty"`
	SSL        *SSLInfo        `json:"ssl,omitempty"`
	Content    *ContentInfo    `json:"content,omitempty"`
	Reputation *ReputationInfo `json:"reputation,omitempty"`
	Redirects  *RedirectInfo   `json:"redirects,omitempty"`
}

// WhoisInfo is the WHOIS-shaped context field.
type WhoisInfo struct {
	CreatedDate      string `json:"created_date,omitempty"`
	CreatedTimestamp int64  `json:"created_date_timestamp,omitempty"`
	Registrar        string `json:"registrar,omitempty"`
	// DomainAgeDays is nil when the registrar lookup failed or was skipped.
	DomainAgeDays *int `json:"domain_age_days,omitempty"`
}

// SSLInfo is the certificate-shaped context field.
type SSLInfo struct {
	Issuer string `json:"issuer,omitempty"`
	// ValidTo is an RFC3339 or "2006-01-02" expiry date string.
	ValidTo string `json:"valid_to,omitempty"`
}

// ContentInfo carries free-text evidence strings from content inspection.
// Findings are matched by case-insensitive substring/regex tests.
type ContentInfo struct {
	Findings []string `json:"findings"`
}

// ReputationInfo is the network-reputation context field.
type ReputationInfo struct {
	AbuseConfidenceScore int    `json:"abuse_confidence_score"`
	IsProxy              bool   `json:"is_proxy"`
	IsVPN                bool   `json:"is_vpn"`
	IsTor                bool   `json:"is_tor"`
	IsDatacenter         bool   `json:"is_datacenter"`
	CountryCode          string `json:"country_code,omitempty"`
}

// RedirectInfo is the redirect-chain context field.
type RedirectInfo struct {
	RedirectCount int      `json:"redirect_count"`
	Chain         []string `json:"chain,omitempty"`
}
