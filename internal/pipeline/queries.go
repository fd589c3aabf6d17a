package pipeline

import (
	"fmt"
	"slices"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

// Markets maps a market name to its countries and their cities.
type Markets map[string]map[string][]string

// ExpandQueries builds one query per country and keyword of market, using at
// most keywordLimit keywords per country. With includeCities each city gets
// its own query as well. Countries are visited in name order.
func ExpandQueries(markets Markets, market string, keywords []string, keywordLimit int, includeCities bool) ([]lead.SearchQuery, error) {
	countries, ok := markets[market]
	if !ok {
		names := make([]string, 0, len(markets))
		for name := range markets {
			names = append(names, name)
		}
		slices.Sort(names)
		return nil, fmt.Errorf("unknown market %q (known: %v)", market, names)
	}
	if len(keywords) == 0 {
		return nil, fmt.Errorf("no keywords given")
	}
	if keywordLimit > 0 && len(keywords) > keywordLimit {
		keywords = keywords[:keywordLimit]
	}

	names := make([]string, 0, len(countries))
	for country := range countries {
		names = append(names, country)
	}
	slices.Sort(names)

	var out []lead.SearchQuery
	for _, country := range names {
		for _, kw := range keywords {
			out = append(out, lead.SearchQuery{Keyword: kw, Country: country})
			if !includeCities {
				continue
			}
			for _, city := range countries[country] {
				out = append(out, lead.SearchQuery{Keyword: kw, Country: country, City: city})
			}
		}
	}
	return out, nil
}
