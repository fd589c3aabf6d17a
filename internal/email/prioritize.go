package email

import (
	"regexp"
	"slices"
	"strings"
)

// priorityPrefixes rank local parts for B2B outreach, most useful first.
var priorityPrefixes = []string{
	"export", "import", "sales", "purchasing", "procurement", "buyer",
	"orders", "inquiry", "info", "contact", "hello",
}

// patternLocals are guessed when a site publishes no address.
var patternLocals = []string{"info", "contact", "sales", "export", "import", "purchasing", "orders", "hello"}

// Prioritize orders addresses by outreach usefulness. Addresses with no known
// prefix keep their relative order at the end.
func Prioritize(emails []string) []string {
	out := slices.Clone(emails)
	slices.SortStableFunc(out, func(a, b string) int {
		return priority(a) - priority(b)
	})
	return out
}

func priority(addr string) int {
	local, _, _ := strings.Cut(strings.ToLower(addr), "@")
	for i, p := range priorityPrefixes {
		if strings.HasPrefix(local, p) {
			return i
		}
	}
	return len(priorityPrefixes)
}

// GeneratePatterns guesses common mailbox names for domain.
func GeneratePatterns(domain string) []string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil
	}
	out := make([]string, 0, len(patternLocals))
	for _, local := range patternLocals {
		out = append(out, local+"@"+domain)
	}
	return out
}

var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\+\d{1,3}[-.\s]?\d{1,4}[-.\s]?\d{1,4}[-.\s]?\d{1,9}`),
	regexp.MustCompile(`\(\d{3}\)\s*\d{3}[-.\s]?\d{4}`),
	regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),
}

// ExtractPhones returns phone-like strings found in text, in order of first
// appearance, skipping numbers already covered by an earlier match.
func ExtractPhones(text string) []string {
	type hit struct {
		start, end int
	}
	var hits []hit
	for _, p := range phonePatterns {
		for _, loc := range p.FindAllStringIndex(text, -1) {
			hits = append(hits, hit{loc[0], loc[1]})
		}
	}
	slices.SortFunc(hits, func(a, b hit) int {
		if a.start != b.start {
			return a.start - b.start
		}
		return b.end - a.end
	})

	var out []string
	seen := make(map[string]struct{})
	lastEnd := -1
	for _, h := range hits {
		if h.start < lastEnd {
			continue
		}
		phone := strings.TrimSpace(text[h.start:h.end])
		if digitCount(phone) < 7 {
			continue
		}
		lastEnd = h.end
		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}
		out = append(out, phone)
	}
	return out
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
