package signals

// suspiciousTLDs is the static membership set of TLDs with a well-documented
// abuse skew (free registrations or bulk-discount zones favored by phishing
// campaigns). Membership is a signal, not a verdict.
var suspiciousTLDs = map[string]bool{
	// Freenom free zones
	"tk": true,
	"ml": true,
	"ga": true,
	"cf": true,
	"gq": true,
	// Heavily discounted zones with high abuse rates
	"xyz":     true,
	"top":     true,
	"club":    true,
	"work":    true,
	"click":   true,
	"link":    true,
	"icu":     true,
	"buzz":    true,
	"rest":    true,
	"cam":     true,
	"monster": true,
	"quest":   true,
	// Confusable with file extensions
	"zip": true,
	"mov": true,
}

// IsSuspiciousTLD reports membership in the static suspicious-TLD set.
func IsSuspiciousTLD(tld string) bool {
	return suspiciousTLDs[tld]
}
