package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/urlsentry/urlsentry/internal/signals"
)

// Canonicalize reduces a URL to the form that is fingerprinted: scheme and
// host lowercased, host NFKC-normalized, fragment and query stripped,
// default ports stripped, and a single trailing slash dropped except at the
// root. It is total: an unparseable input degrades to its trimmed,
// lowercased form. Canonicalize is idempotent.
func Canonicalize(rawURL string) string {
	raw := strings.TrimSpace(rawURL)

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	scheme := strings.ToLower(u.Scheme)
	host := signals.NormalizeHost(u.Hostname())
	if strings.Contains(host, ":") {
		// Hostname strips the brackets off IPv6 literals; restore them so
		// the canonical form stays a parseable URL.
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" {
		if !((scheme == "http" && port == "80") || (scheme == "https" && port == "443")) {
			host += ":" + port
		}
	}

	path := u.EscapedPath()
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		path = "/"
	}

	return scheme + "://" + host + path
}

// Fingerprint is the cache key: hex SHA-256 of the canonical URL.
func Fingerprint(rawURL string) string {
	sum := sha256.Sum256([]byte(Canonicalize(rawURL)))
	return hex.EncodeToString(sum[:])
}
