package signals

import (
	"regexp"
	"time"
)

// Finding classifiers. Content inspection reports free-text evidence strings;
// each regex maps a family of phrasings onto one boolean feature. All
// patterns are case-insensitive.
var (
	reLoginForm     = regexp.MustCompile(`(?i)login\s*form|signin\s*form|sign-in\s*form`)
	rePasswordField = regexp.MustCompile(`(?i)password\s*(field|input)`)
	reJSRedirect    = regexp.MustCompile(`(?i)(javascript|js|window\.location|location\.href)\s*redirect|redirect\s*via\s*(javascript|js)`)
	reMetaRefresh   = regexp.MustCompile(`(?i)meta\s*refresh|meta\s*redirect|http-equiv`)
	reIframe        = regexp.MustCompile(`(?i)\biframe\b`)
	reObfuscation   = regexp.MustCompile(`(?i)obfuscat|eval\s*\(|unescape\s*\(|fromcharcode|atob\s*\(|packed\s*(js|javascript|script)`)
	rePhishingWords = regexp.MustCompile(`(?i)verify\s*(your)?\s*account|account\s*suspend|confirm\s*(your)?\s*identity|unusual\s*activity|urgent\s*action|update\s*(your)?\s*(payment|billing)|prize|you\s*have\s*won|phishing\s*keyword`)
)

// classifyFinding folds one free-text finding into the feature set.
func classifyFinding(finding string, s *Set) {
	if reLoginForm.MatchString(finding) {
		s.HasLoginForm = true
	}
	if rePasswordField.MatchString(finding) {
		s.HasPasswordField = true
	}
	if reJSRedirect.MatchString(finding) {
		s.HasJSRedirect = true
	}
	if reMetaRefresh.MatchString(finding) {
		s.HasMetaRefresh = true
	}
	if reIframe.MatchString(finding) {
		s.HasIframe = true
	}
	if reObfuscation.MatchString(finding) {
		s.HasObfuscation = true
	}
	if rePhishingWords.MatchString(finding) {
		s.PhishingKeywordHit = true
	}
}

// dateLayouts lists the layouts accepted for SSL expiry and WHOIS created
// date strings.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"Jan 2 15:04:05 2006 MST",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// certExpired reports whether validTo parses as a date in the past.
// Unparseable or empty strings are not treated as expired.
func certExpired(validTo string) bool {
	if validTo == "" {
		return false
	}
	if t, ok := parseDate(validTo); ok {
		return t.Before(time.Now())
	}
	return false
}
