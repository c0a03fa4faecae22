package crawler

import (
	"net/url"
	"strings"
)

// Domain returns the lowercase hostname of rawURL, or "" when it cannot
// be parsed.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SameDomain reports whether both URLs resolve to the same non-empty
// hostname.
func SameDomain(a, b string) bool {
	da := Domain(a)
	return da != "" && da == Domain(b)
}
