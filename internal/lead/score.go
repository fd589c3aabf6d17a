package lead

import (
	"sort"
	"strings"
)

// Weights controls lead scoring.
type Weights struct {
	HasEmail         int
	MXConfirmed      int
	HasPhone         int
	HasWebsite       int
	Importer         int
	RelevantIndustry int
}

// DefaultWeights mirrors the scoring table used by the sales team.
var DefaultWeights = Weights{
	HasEmail:         20,
	MXConfirmed:      10,
	HasPhone:         10,
	HasWebsite:       15,
	Importer:         25,
	RelevantIndustry: 15,
}

var (
	importerTerms = []string{"import", "distribut", "wholesale", "trading", "sourcing", "buyer", "großhandel", "ithalat"}
	industryTerms = []string{"textile", "textil", "tekstil", "apparel", "fashion", "fabric", "garment", "clothing", "bekleidung"}
)

// Score rates how promising a lead is on a 0..100 scale.
func Score(l Lead, w Weights) int {
	score := 0
	if l.HasEmail() && l.EmailStatus != EmailInvalid {
		score += w.HasEmail
		if l.EmailStatus == EmailMXConfirmed {
			score += w.MXConfirmed
		}
	}
	if strings.TrimSpace(l.Phone) != "" {
		score += w.HasPhone
	}
	if l.Website != "" {
		score += w.HasWebsite
	}
	text := strings.ToLower(l.CompanyName + " " + l.Industry + " " + l.SearchQuery)
	if containsAny(text, importerTerms) {
		score += w.Importer
	}
	if containsAny(text, industryTerms) {
		score += w.RelevantIndustry
	}
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

// ComputeStats aggregates counts over a snapshot of leads.
func ComputeStats(leads []Lead, topCountries int) Stats {
	stats := Stats{
		ByContactStatus: make(map[ContactStatus]int),
		BySource:        make(map[Source]int),
	}
	countries := make(map[string]int)
	for _, l := range leads {
		stats.Total++
		if l.HasEmail() {
			stats.WithEmail++
		}
		if l.EmailStatus == EmailMXConfirmed {
			stats.Validated++
		}
		switch l.ContactStatus {
		case ContactContacted, ContactReplied, ContactBounced:
			stats.Contacted++
		}
		stats.ByContactStatus[l.ContactStatus]++
		stats.BySource[l.Source]++
		if l.Country != "" {
			countries[l.Country]++
		}
	}
	stats.TopCountries = rankCountries(countries, topCountries)
	return stats
}

func rankCountries(counts map[string]int, limit int) []CountryCount {
	out := make([]CountryCount, 0, len(counts))
	for country, n := range counts {
		out = append(out, CountryCount{Country: country, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Country < out[j].Country
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
