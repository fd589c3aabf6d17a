// Package email finds, ranks and validates contact addresses.
package email

import (
	"regexp"
	"slices"
	"strings"
)

var addressPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// DefaultIgnoreDomains are placeholder and infrastructure domains that never
// belong to a prospect.
var DefaultIgnoreDomains = []string{
	"example.com",
	"example.org",
	"test.com",
	"domain.com",
	"email.com",
	"yourdomain.com",
	"sentry.io",
	"wixpress.com",
}

var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

var roleAccounts = []string{
	"noreply",
	"no-reply",
	"donotreply",
	"do-not-reply",
	"postmaster",
	"abuse",
	"webmaster",
	"hostmaster",
	"mailer-daemon",
}

// ExtractorConfig controls candidate filtering.
type ExtractorConfig struct {
	IgnoreDomains    []string
	SkipRoleAccounts bool
	Rules            []Rule
}

// Extractor pulls candidate addresses out of page text.
type Extractor struct {
	ignore    []string
	skipRoles bool
	rules     []Rule
}

// NewExtractor builds an Extractor. Nil IgnoreDomains or Rules select the defaults.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	ignore := cfg.IgnoreDomains
	if ignore == nil {
		ignore = DefaultIgnoreDomains
	}
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules
	}
	normalized := make([]string, 0, len(ignore))
	for _, d := range ignore {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			normalized = append(normalized, d)
		}
	}
	return &Extractor{ignore: normalized, skipRoles: cfg.SkipRoleAccounts, rules: rules}
}

// Extract returns the sorted, deduplicated, lowercased candidates found in content.
func (e *Extractor) Extract(content string) []string {
	text := Normalize(content, e.rules)
	seen := make(map[string]struct{})
	var out []string
	for _, match := range addressPattern.FindAllString(text, -1) {
		addr := strings.ToLower(strings.Trim(match, "."))
		if _, dup := seen[addr]; dup || !e.keep(addr) {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	slices.Sort(out)
	return out
}

func (e *Extractor) keep(addr string) bool {
	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(addr, suffix) {
			return false
		}
	}
	local, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return false
	}
	for _, d := range e.ignore {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return false
		}
	}
	if e.skipRoles && slices.Contains(roleAccounts, local) {
		return false
	}
	return true
}
