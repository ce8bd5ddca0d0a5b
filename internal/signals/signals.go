// Package signals derives a flat set of boolean/numeric URL and context
// features from a raw URL plus an optional evidence bundle. Extraction is a
// pure function: no I/O, never panics, and a malformed URL degrades to
// treating the raw string as the hostname instead of failing.
package signals

import (
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Thresholds used during extraction. These mirror the fixed policy constants
// of the decision engine and are not configurable per scan.
const (
	// ExcessiveRedirectThreshold is the redirect count above which a chain
	// is flagged as excessive.
	ExcessiveRedirectThreshold = 3
	// YoungDomainDays marks a domain younger than this as newly registered.
	YoungDomainDays = 30
	// HighAbuseScore is the AbuseIPDB-style confidence score treated as high.
	HighAbuseScore = 50
	// LongURLLength flags unusually long URLs.
	LongURLLength = 100
)

// Set is the immutable feature set derived once per scan.
type Set struct {
	// URL structure
	RawURL         string
	Scheme         string
	Host           string // NFKC-normalized, lowercased
	Malformed      bool   // URL did not parse; Host is the raw input
	UsesIP         bool   // hostname is an IPv4 dotted quad or bracketed IPv6
	Punycode       bool   // any xn-- label
	URLLength      int
	LongURL        bool
	EncodedDensity float64 // fraction of percent-encoded bytes in the URL
	SubdomainCount int
	TLD            string
	SuspiciousTLD  bool
	UsesHTTPS      bool

	// Domain age (nil when no WHOIS context was supplied)
	DomainAgeDays *int
	YoungDomain   bool

	// Certificate
	SSLIssuerMissing bool // HTTPS but no issuer reported
	SSLExpired       bool

	// Content findings
	HasLoginForm       bool
	HasPasswordField   bool
	HasJSRedirect      bool
	HasMetaRefresh     bool
	HasIframe          bool
	HasObfuscation     bool
	PhishingKeywordHit bool

	// Redirects
	RedirectCount      int
	ExcessiveRedirects bool

	// Network reputation
	AbuseScore     int
	HighAbuse      bool
	IsProxy        bool
	IsVPN          bool
	IsTor          bool
	IsDatacenter   bool
	AnonymityNet   bool // proxy, VPN or Tor
	CountryCode    string

	// Convenience aggregates. Diagnostic only: the decision engine must not
	// add these on top of the per-phase scores.
	RiskScore      int // 0-100 composite
	IndicatorCount int
}

// Extract derives a Set from a raw URL and optional context. Pure and total.
func Extract(rawURL string, ctx *Context) Set {
	s := Set{
		RawURL:    rawURL,
		URLLength: len(rawURL),
	}
	s.LongURL = s.URLLength > LongURLLength
	s.EncodedDensity = percentEncodedDensity(rawURL)

	host, scheme, malformed := splitHost(rawURL)
	s.Scheme = scheme
	s.Malformed = malformed
	s.Host = NormalizeHost(host)
	s.UsesHTTPS = scheme == "https"
	s.UsesIP = isIPHost(s.Host)
	s.Punycode = strings.Contains(s.Host, "xn--")

	if !s.UsesIP {
		s.TLD = extractTLD(s.Host)
		s.SuspiciousTLD = suspiciousTLDs[s.TLD]
		s.SubdomainCount = subdomainCount(s.Host)
	}

	if ctx != nil {
		s.applyWhois(ctx.Whois)
		s.applySSL(ctx.SSL)
		s.applyContent(ctx.Content)
		s.applyRedirects(ctx.Redirects)
		s.applyReputation(ctx.Reputation)
	}

	s.RiskScore, s.IndicatorCount = s.composite()
	return s
}

func (s *Set) applyWhois(w *WhoisInfo) {
	if w == nil {
		return
	}
	age := w.DomainAgeDays
	if age == nil {
		age = domainAgeFromCreated(w)
	}
	if age == nil {
		return
	}
	v := *age
	s.DomainAgeDays = &v
	s.YoungDomain = v >= 0 && v < YoungDomainDays
}

// domainAgeFromCreated derives the age in days from the registration date
// when the registrar lookup reported a created date but no precomputed age.
// The timestamp form is milliseconds since the epoch.
func domainAgeFromCreated(w *WhoisInfo) *int {
	var created time.Time
	switch {
	case w.CreatedTimestamp > 0:
		created = time.UnixMilli(w.CreatedTimestamp)
	case w.CreatedDate != "":
		if t, ok := parseDate(w.CreatedDate); ok {
			created = t
		}
	}
	if created.IsZero() {
		return nil
	}
	days := int(time.Since(created).Hours() / 24)
	return &days
}

func (s *Set) applySSL(ssl *SSLInfo) {
	if ssl == nil {
		return
	}
	if s.UsesHTTPS && strings.TrimSpace(ssl.Issuer) == "" {
		s.SSLIssuerMissing = true
	}
	s.SSLExpired = certExpired(ssl.ValidTo)
}

func (s *Set) applyContent(c *ContentInfo) {
	if c == nil {
		return
	}
	for _, finding := range c.Findings {
		classifyFinding(finding, s)
	}
}

func (s *Set) applyRedirects(r *RedirectInfo) {
	if r == nil {
		return
	}
	count := r.RedirectCount
	if len(r.Chain) > count {
		count = len(r.Chain)
	}
	s.RedirectCount = count
	s.ExcessiveRedirects = count > ExcessiveRedirectThreshold
}

func (s *Set) applyReputation(r *ReputationInfo) {
	if r == nil {
		return
	}
	s.AbuseScore = r.AbuseConfidenceScore
	s.HighAbuse = r.AbuseConfidenceScore >= HighAbuseScore
	s.IsProxy = r.IsProxy
	s.IsVPN = r.IsVPN
	s.IsTor = r.IsTor
	s.IsDatacenter = r.IsDatacenter
	s.AnonymityNet = r.IsProxy || r.IsVPN || r.IsTor
	s.CountryCode = r.CountryCode
}

// composite computes the diagnostic 0-100 risk score and indicator count.
func (s *Set) composite() (score, count int) {
	add := func(hit bool, weight int) {
		if hit {
			score += weight
			count++
		}
	}

	add(s.Malformed, 20)
	add(s.UsesIP, 15)
	add(s.SuspiciousTLD, 12)
	add(s.Punycode, 8)
	add(s.LongURL, 5)
	add(s.EncodedDensity > 0.1, 8)
	add(s.SubdomainCount > 3, 6)
	add(!s.UsesHTTPS, 10)
	add(s.YoungDomain, 12)
	add(s.SSLExpired, 10)
	add(s.SSLIssuerMissing, 6)
	add(s.HasLoginForm && !s.UsesHTTPS, 15)
	add(s.HasPasswordField, 8)
	add(s.HasJSRedirect, 8)
	add(s.HasMetaRefresh, 5)
	add(s.HasIframe, 4)
	add(s.HasObfuscation, 12)
	add(s.PhishingKeywordHit, 10)
	add(s.ExcessiveRedirects, 8)
	add(s.HighAbuse, 15)
	add(s.AnonymityNet, 6)

	if score > 100 {
		score = 100
	}
	return score, count
}

// NormalizeHost lowercases a hostname and applies NFKC normalization so that
// fullwidth and confusable characters cannot dodge the feature checks.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = norm.NFKC.String(host)
	return strings.ToLower(host)
}

// splitHost extracts host and scheme from a raw URL. A string that does not
// parse, or parses without a host, is treated as a bare hostname.
func splitHost(rawURL string) (host, scheme string, malformed bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err == nil && u.Host != "" {
		return u.Hostname(), strings.ToLower(u.Scheme), false
	}

	// Degrade: strip any scheme-ish prefix and path, keep the rest as host.
	raw := strings.TrimSpace(rawURL)
	if i := strings.Index(raw, "://"); i >= 0 {
		scheme = strings.ToLower(raw[:i])
		raw = raw[i+3:]
	}
	if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSuffix(raw, ".")
	if i := strings.LastIndex(raw, ":"); i >= 0 && !strings.Contains(raw, "]") {
		// Trailing port on a non-bracketed host
		if isDigits(raw[i+1:]) {
			raw = raw[:i]
		}
	}
	return raw, scheme, true
}

// isIPHost reports whether host is an IPv4 dotted quad or a (possibly
// bracketed) IPv6 literal.
func isIPHost(host string) bool {
	h := strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	return net.ParseIP(h) != nil
}

// extractTLD returns the final label of the hostname ("tk" for evil.tk).
func extractTLD(host string) string {
	host = strings.TrimSuffix(host, ".")
	if i := strings.LastIndex(host, "."); i >= 0 {
		return host[i+1:]
	}
	return ""
}

// subdomainCount counts labels left of the registrable domain. "a.b.evil.com"
// has 2. Hosts with fewer than 3 labels have 0.
func subdomainCount(host string) int {
	host = strings.TrimSuffix(host, ".")
	labels := strings.Count(host, ".") + 1
	if labels <= 2 {
		return 0
	}
	return labels - 2
}

// percentEncodedDensity returns the fraction of the URL consumed by
// percent-encoded bytes (each "%xx" counts as 3 characters).
func percentEncodedDensity(rawURL string) float64 {
	if len(rawURL) == 0 {
		return 0
	}
	encoded := 0
	for i := 0; i+2 < len(rawURL); i++ {
		if rawURL[i] == '%' && isHexDigit(rawURL[i+1]) && isHexDigit(rawURL[i+2]) {
			encoded += 3
			i += 2
		}
	}
	return float64(encoded) / float64(len(rawURL))
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
