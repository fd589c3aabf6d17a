package lead

import (
	"net"
	"net/url"
	"strings"
)

const namePrefix = "name:"

// IdentityKey derives the deduplication key for a lead: the normalized website
// domain when a website is known, else the normalized company name and country.
func IdentityKey(l Lead) string {
	if domain := Domain(l.Website); domain != "" {
		return domain
	}
	return namePrefix + normalizeName(l.CompanyName) + "|" + normalizeName(l.Country)
}

// Domain extracts the lowercased host of rawURL without port or "www." prefix.
// It returns "" when rawURL carries no usable host.
func Domain(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" || !strings.Contains(host, ".") {
		return ""
	}
	return host
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
