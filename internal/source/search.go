package source

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

// SearchConfig controls the search engine adapter.
type SearchConfig struct {
	// BaseURL is the DuckDuckGo HTML endpoint.
	BaseURL string
	// FallbackURL is the Google search endpoint used when DuckDuckGo returns nothing.
	FallbackURL string
	MaxResults  int
}

// DefaultSearchConfig returns the production endpoints.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		BaseURL:     "https://html.duckduckgo.com/html/",
		FallbackURL: "https://www.google.com/search",
		MaxResults:  30,
	}
}

// Search finds company websites through a web search engine.
type Search struct {
	base
	cfg SearchConfig
}

var _ lead.Scraper = (*Search)(nil)

// NewSearch builds the search engine adapter.
func NewSearch(fetcher lead.Fetcher, cfg SearchConfig, opts ...Option) *Search {
	defaults := DefaultSearchConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.FallbackURL == "" {
		cfg.FallbackURL = defaults.FallbackURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaults.MaxResults
	}
	return &Search{base: newBase(lead.SourceSearch, fetcher, opts), cfg: cfg}
}

// Source implements lead.Scraper.
func (s *Search) Source() lead.Source {
	return lead.SourceSearch
}

type searchHit struct {
	title   string
	link    string
	snippet string
}

// Search implements lead.Scraper.
func (s *Search) Search(ctx context.Context, q lead.SearchQuery) iter.Seq2[lead.Lead, error] {
	return func(yield func(lead.Lead, error) bool) {
		pageURL := s.cfg.BaseURL + "?q=" + url.QueryEscape(q.String())
		doc, err := s.fetchDocument(ctx, pageURL)
		if err != nil {
			yield(lead.Lead{}, fmt.Errorf("search %q: %w", q.String(), err))
			return
		}
		hits := duckDuckGoHits(doc)

		if len(hits) == 0 {
			s.logger.Debug("no duckduckgo results, trying fallback", zap.String("query", q.String()))
			pageURL = fmt.Sprintf("%s?q=%s&num=%d", s.cfg.FallbackURL, url.QueryEscape(q.String()), s.cfg.MaxResults)
			doc, err = s.fetchDocument(ctx, pageURL)
			if err != nil {
				yield(lead.Lead{}, fmt.Errorf("fallback search %q: %w", q.String(), err))
				return
			}
			hits = googleHits(doc)
		}

		seen := make(map[string]struct{})
		emitted := 0
		for i, hit := range hits {
			if emitted >= s.cfg.MaxResults {
				return
			}
			l, ok := s.toLead(pageURL, i, hit)
			if !ok {
				continue
			}
			if _, dup := seen[l.Identity]; dup {
				continue
			}
			seen[l.Identity] = struct{}{}
			emitted++
			if !yield(withQueryDefaults(l, q), nil) {
				return
			}
		}
	}
}

func (s *Search) toLead(pageURL string, index int, hit searchHit) (lead.Lead, bool) {
	link := NormalizeURL(hit.link)
	domain := lead.Domain(link)
	if link == "" || domain == "" {
		s.skip(pageURL, index, "result has no usable link")
		return lead.Lead{}, false
	}
	if SkipDomain(domain) {
		return lead.Lead{}, false
	}
	name := CompanyNameFromTitle(hit.title, domain)
	if name == "" {
		s.skip(pageURL, index, "result has no company name")
		return lead.Lead{}, false
	}
	u, _ := url.Parse(link)
	l := lead.Lead{
		Identity:    domain,
		CompanyName: name,
		Website:     u.Scheme + "://" + u.Host,
		Source:      lead.SourceSearch,
		SourceURL:   link,
	}
	s.contact(&l, hit.snippet)
	return l, true
}

func duckDuckGoHits(doc *goquery.Document) []searchHit {
	var hits []searchHit
	doc.Find("div.result").Each(func(_ int, result *goquery.Selection) {
		anchor := result.Find("a.result__a").First()
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		hits = append(hits, searchHit{
			title:   cleanText(anchor.Text()),
			link:    unwrapRedirect(href, "uddg"),
			snippet: cleanText(result.Find("a.result__snippet").First().Text()),
		})
	})
	return hits
}

func googleHits(doc *goquery.Document) []searchHit {
	var hits []searchHit
	doc.Find("div.g").Each(func(_ int, result *goquery.Selection) {
		title := result.Find("h3").First()
		href, ok := result.Find("a").First().Attr("href")
		if title.Length() == 0 || !ok {
			return
		}
		link := unwrapRedirect(href, "q")
		if !strings.HasPrefix(link, "http") {
			return
		}
		hits = append(hits, searchHit{title: cleanText(title.Text()), link: link})
	})
	return hits
}

// unwrapRedirect returns the target of a search engine redirect link such as
// //duckduckgo.com/l/?uddg=<target> or /url?q=<target>, or href unchanged.
func unwrapRedirect(href, param string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if u.Path != "/l/" && u.Path != "/url" {
		return href
	}
	if target := u.Query().Get(param); target != "" {
		return target
	}
	return href
}
