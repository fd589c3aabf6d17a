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

// Layout describes how to page through and read one business directory.
type Layout struct {
	Source  lead.Source
	BaseURL string
	// SearchPath is a format string taking the escaped query and page number.
	SearchPath string
	MaxPages   int
	// Cards selects company listings; FallbackCards is tried when it matches nothing.
	Cards         string
	FallbackCards string
	Name          string
	Link          string
	Location      string
	// LocationHasCity means Location reads "City, Country".
	LocationHasCity bool
	Industry        string
	Website         string
}

// EuropagesLayout reads europages.com search results.
func EuropagesLayout() Layout {
	return Layout{
		Source:          lead.SourceEuropages,
		BaseURL:         "https://www.europages.com",
		SearchPath:      "/en/search?q=%s&page=%d",
		MaxPages:        5,
		Cards:           `article[class*="company-card"], article[class*="result"]`,
		FallbackCards:   `div[class*="company"], div[class*="result"]`,
		Name:            `h2[class*="name"], h2[class*="title"], h2[class*="company"], h3[class*="name"], h3[class*="title"], h3[class*="company"], a[class*="name"], a[class*="title"], a[class*="company"]`,
		Link:            "a[href]",
		Location:        `[class*="location"], [class*="country"], [class*="address"]`,
		LocationHasCity: true,
		Industry:        `[class*="description"], [class*="activity"], [class*="sector"]`,
		Website:         `a[class*="website"], a[data-test*="website"]`,
	}
}

// KompassLayout reads kompass.com search results.
func KompassLayout() Layout {
	return Layout{
		Source:        lead.SourceKompass,
		BaseURL:       "https://www.kompass.com",
		SearchPath:    "/searchCompanies?text=%s&page=%d",
		MaxPages:      3,
		Cards:         "div.company-container, div.prod_list",
		FallbackCards: `div[class*="company"], div[class*="listing"]`,
		Name:          `h2[class*="name"], h2[class*="title"], h3[class*="name"], h3[class*="title"], a[class*="name"], a[class*="title"]`,
		Link:          "a[href]",
		Location:      `[class*="location"], [class*="country"]`,
		Industry:      `[class*="activity"], [class*="sector"]`,
		Website:       `a[class*="website"], a[rel*="nofollow"][href^="http"]`,
	}
}

// Directory pages through a business directory described by a Layout.
type Directory struct {
	base
	layout Layout
}

var _ lead.Scraper = (*Directory)(nil)

// NewDirectory builds a directory adapter.
func NewDirectory(fetcher lead.Fetcher, layout Layout, opts ...Option) *Directory {
	if layout.MaxPages <= 0 {
		layout.MaxPages = 1
	}
	layout.BaseURL = strings.TrimRight(layout.BaseURL, "/")
	return &Directory{base: newBase(layout.Source, fetcher, opts), layout: layout}
}

// NewEuropages builds the Europages adapter. Zero arguments keep the layout defaults.
func NewEuropages(fetcher lead.Fetcher, baseURL string, maxPages int, opts ...Option) *Directory {
	return NewDirectory(fetcher, override(EuropagesLayout(), baseURL, maxPages), opts...)
}

// NewKompass builds the Kompass adapter. Zero arguments keep the layout defaults.
func NewKompass(fetcher lead.Fetcher, baseURL string, maxPages int, opts ...Option) *Directory {
	return NewDirectory(fetcher, override(KompassLayout(), baseURL, maxPages), opts...)
}

func override(layout Layout, baseURL string, maxPages int) Layout {
	if baseURL != "" {
		layout.BaseURL = baseURL
	}
	if maxPages > 0 {
		layout.MaxPages = maxPages
	}
	return layout
}

// Source implements lead.Scraper.
func (d *Directory) Source() lead.Source {
	return d.layout.Source
}

// Search implements lead.Scraper. Paging stops at the first page with no listings.
func (d *Directory) Search(ctx context.Context, q lead.SearchQuery) iter.Seq2[lead.Lead, error] {
	return func(yield func(lead.Lead, error) bool) {
		seen := make(map[string]struct{})
		for page := 1; page <= d.layout.MaxPages; page++ {
			if ctx.Err() != nil {
				yield(lead.Lead{}, fmt.Errorf("%s page %d: %w", d.layout.Source, page, ctx.Err()))
				return
			}
			pageURL := d.layout.BaseURL + fmt.Sprintf(d.layout.SearchPath, url.QueryEscape(q.String()), page)
			doc, err := d.fetchDocument(ctx, pageURL)
			if err != nil {
				yield(lead.Lead{}, fmt.Errorf("%s page %d: %w", d.layout.Source, page, err))
				return
			}

			cards := doc.Find(d.layout.Cards)
			if cards.Length() == 0 && d.layout.FallbackCards != "" {
				cards = doc.Find(d.layout.FallbackCards)
			}
			if cards.Length() == 0 {
				d.logger.Debug("no listings, stopping", zap.String("url", pageURL), zap.Int("page", page))
				return
			}

			for i := range cards.Nodes {
				l, ok := d.parseCard(pageURL, i, cards.Eq(i))
				if !ok {
					continue
				}
				l = withQueryDefaults(l, q)
				key := lead.IdentityKey(l)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				if !yield(l, nil) {
					return
				}
			}
		}
	}
}

func (d *Directory) parseCard(pageURL string, index int, card *goquery.Selection) (lead.Lead, bool) {
	nameSel := card.Find(d.layout.Name).First()
	name := cleanText(nameSel.Text())
	if name == "" {
		d.skip(pageURL, index, "listing has no company name")
		return lead.Lead{}, false
	}

	l := lead.Lead{
		CompanyName: name,
		Source:      d.layout.Source,
	}

	href, ok := nameSel.Attr("href")
	if !ok || goquery.NodeName(nameSel) != "a" {
		href, ok = card.Find(d.layout.Link).First().Attr("href")
	}
	if ok {
		l.SourceURL = d.resolve(href)
	}

	if d.layout.Website != "" {
		if href, ok := card.Find(d.layout.Website).First().Attr("href"); ok {
			website := NormalizeURL(href)
			if website != "" && lead.Domain(website) != lead.Domain(d.layout.BaseURL) {
				l.Website = website
			}
		}
	}
	if l.SourceURL == "" && l.Website == "" {
		d.skip(pageURL, index, "listing has no profile link or website")
		return lead.Lead{}, false
	}
	if l.SourceURL == "" {
		l.SourceURL = l.Website
	}

	if loc := cleanText(card.Find(d.layout.Location).First().Text()); loc != "" {
		if d.layout.LocationHasCity {
			l.City, l.Country = splitLocation(loc)
		} else {
			l.Country = loc
		}
	}
	if d.layout.Industry != "" {
		l.Industry = cleanText(card.Find(d.layout.Industry).First().Text())
	}

	d.contact(&l, card.Text())
	return l, true
}

func (d *Directory) resolve(href string) string {
	base, err := url.Parse(d.layout.BaseURL + "/")
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return NormalizeURL(base.ResolveReference(ref).String())
}
