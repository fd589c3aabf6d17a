package email

import "regexp"

// Rule rewrites one obfuscation pattern into plain address syntax.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// Apply runs the rule over text.
func (r Rule) Apply(text string) string {
	return r.Pattern.ReplaceAllString(text, r.Replacement)
}

// DefaultRules are applied in order before address matching. Bracketed forms
// go first so the spelled-out forms only see what is left.
var DefaultRules = []Rule{
	{Name: "entity-at", Pattern: regexp.MustCompile(`(?i)&#0*64;|&#x0*40;|&commat;`), Replacement: "@"},
	{Name: "entity-dot", Pattern: regexp.MustCompile(`(?i)&#0*46;|&#x0*2e;|&period;`), Replacement: "."},
	{Name: "url-encoded-at", Pattern: regexp.MustCompile(`%40`), Replacement: "@"},
	{Name: "mailto", Pattern: regexp.MustCompile(`(?i)mailto:`), Replacement: " "},
	{Name: "bracket-at", Pattern: regexp.MustCompile(`(?i)\s*[\[\(\{]\s*at\s*[\]\)\}]\s*`), Replacement: "@"},
	{Name: "bracket-dot", Pattern: regexp.MustCompile(`(?i)\s*[\[\(\{]\s*dot\s*[\]\)\}]\s*`), Replacement: "."},
	{
		Name:        "spelled-at-dot",
		Pattern:     regexp.MustCompile(`(?i)\b([a-z0-9._%+-]+)\s+at\s+([a-z0-9-]+)\s+dot\s+([a-z]{2,})\b`),
		Replacement: "${1}@${2}.${3}",
	},
	{
		Name:        "spelled-dot",
		Pattern:     regexp.MustCompile(`(?i)(@[a-z0-9.-]+)\s+dot\s+([a-z]{2,})\b`),
		Replacement: "${1}.${2}",
	},
}

// Normalize applies rules to text in order.
func Normalize(text string, rules []Rule) string {
	for _, r := range rules {
		text = r.Apply(text)
	}
	return text
}
