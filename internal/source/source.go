// Package source implements the lead.Scraper variants: a search engine
// adapter and data-driven business directory adapters.
//
// A Search call is lazy. Each listing page is fetched only when the consumer
// asks for more leads, a failed page fetch is yielded as an error and ends
// the pass, and malformed listings are logged as *ParseError and skipped.
package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-finder/internal/email"
	"github.com/JakeFAU/lead-finder/internal/lead"
)

// ParseError describes a listing that could not be turned into a lead.
type ParseError struct {
	Source lead.Source
	URL    string
	Index  int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s listing %d on %s: %s", e.Source, e.Index, e.URL, e.Reason)
}

// Option customizes an adapter.
type Option func(*base)

// WithLogger sets the adapter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithArchive stores every fetched listing page in archive.
func WithArchive(archive *Archive) Option {
	return func(b *base) { b.archive = archive }
}

// WithExtractor sets the extractor used on listing text.
func WithExtractor(extractor *email.Extractor) Option {
	return func(b *base) {
		if extractor != nil {
			b.extractor = extractor
		}
	}
}

// base holds what every adapter shares.
type base struct {
	source    lead.Source
	fetcher   lead.Fetcher
	archive   *Archive
	extractor *email.Extractor
	logger    *zap.Logger
}

func newBase(source lead.Source, fetcher lead.Fetcher, opts []Option) base {
	b := base{
		source:    source,
		fetcher:   fetcher,
		extractor: email.NewExtractor(email.ExtractorConfig{}),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.logger = b.logger.Named(string(source))
	return b
}

func (b *base) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	page, err := b.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if b.archive != nil {
		if uri, err := b.archive.Put(ctx, b.source, page); err != nil {
			b.logger.Warn("archive page failed", zap.String("url", pageURL), zap.Error(err))
		} else {
			b.logger.Debug("archived page", zap.String("url", pageURL), zap.String("uri", uri))
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, nil
}

func (b *base) skip(pageURL string, index int, reason string) {
	err := &ParseError{Source: b.source, URL: pageURL, Index: index, Reason: reason}
	b.logger.Debug("skipping listing", zap.Error(err))
}

// contact fills email and phone from free listing text when present.
func (b *base) contact(l *lead.Lead, text string) {
	if found := email.Prioritize(b.extractor.Extract(text)); len(found) > 0 {
		l.Email = found[0]
		l.EmailStatus = lead.EmailUnknown
	}
	if phones := email.ExtractPhones(text); len(phones) > 0 {
		l.Phone = phones[0]
	}
}

// Archive writes raw listing pages to a blob store at
// <prefix>/<source>/<sha256>.html.
type Archive struct {
	store  lead.BlobStore
	hasher lead.Hasher
	prefix string
}

// NewArchive builds an Archive.
func NewArchive(store lead.BlobStore, hasher lead.Hasher, prefix string) *Archive {
	return &Archive{store: store, hasher: hasher, prefix: strings.Trim(prefix, "/")}
}

// Put stores page and returns the blob URI.
func (a *Archive) Put(ctx context.Context, source lead.Source, page lead.Page) (string, error) {
	sum, err := a.hasher.Hash(page.Body)
	if err != nil {
		return "", fmt.Errorf("hash page: %w", err)
	}
	objectPath := path.Join(a.prefix, string(source), sum+".html")
	uri, err := a.store.PutObject(ctx, objectPath, "text/html; charset=utf-8", bytes.NewReader(page.Body))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", objectPath, err)
	}
	return uri, nil
}

var nonWebSchemes = []string{"mailto:", "tel:", "javascript:", "data:", "ftp:"}

var trackingParams = map[string]struct{}{
	"gclid":   {},
	"fbclid":  {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
}

// NormalizeURL canonicalizes a listing link: https is assumed when the scheme
// is missing, the host is lowercased, and the fragment and tracking parameters
// are dropped. It returns "" for links that are not http(s) URLs with a host.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	for _, scheme := range nonWebSchemes {
		if strings.HasPrefix(lower, scheme) {
			return ""
		}
	}
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "//"):
		raw = "https:" + raw
	case !strings.Contains(raw, "://"):
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			lower := strings.ToLower(key)
			if _, ok := trackingParams[lower]; ok || strings.HasPrefix(lower, "utm_") {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

var skipDomains = []string{
	"facebook.com", "twitter.com", "linkedin.com", "instagram.com",
	"youtube.com", "pinterest.com", "tiktok.com",
	"wikipedia.org", "amazon.com", "ebay.com", "alibaba.com",
	"google.com", "bing.com", "yahoo.com", "duckduckgo.com",
	"yelp.com", "yellowpages.com", "tripadvisor.com",
	"reddit.com", "quora.com", "medium.com",
}

// skipSuffixLabels are public-sector labels matched in the top two positions,
// covering both trade.gov and gov.uk.
var skipSuffixLabels = map[string]struct{}{"gov": {}, "edu": {}}

// SkipDomain reports whether results on domain never describe a prospect.
// Entries match the domain itself or any subdomain of it.
func SkipDomain(domain string) bool {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return false
	}
	for _, s := range skipDomains {
		if domain == s || strings.HasSuffix(domain, "."+s) {
			return true
		}
	}
	labels := strings.Split(domain, ".")
	for _, label := range labels[max(len(labels)-2, 0):] {
		if _, ok := skipSuffixLabels[label]; ok {
			return true
		}
	}
	return false
}

var (
	titleSeparators = []string{" - ", " | ", " – ", " :: ", " : "}
	genericTitles   = map[string]struct{}{"home": {}, "welcome": {}, "index": {}}
)

// CompanyNameFromTitle derives a company name from a result title, falling
// back to a name built from domain when the title is too short or generic.
func CompanyNameFromTitle(title, domain string) string {
	title = cleanText(title)
	for _, sep := range titleSeparators {
		if before, _, found := strings.Cut(title, sep); found {
			title = strings.TrimSpace(before)
			break
		}
	}
	if _, generic := genericTitles[strings.ToLower(title)]; generic || utf8.RuneCountInString(title) < 3 {
		return nameFromDomain(domain)
	}
	return title
}

func nameFromDomain(domain string) string {
	label, _, _ := strings.Cut(strings.ToLower(domain), ".")
	label = strings.NewReplacer("-", " ", "_", " ").Replace(label)
	words := strings.Fields(label)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitLocation parses "City, Country". A single part is taken as the country.
func splitLocation(text string) (city, country string) {
	parts := strings.Split(cleanText(text), ",")
	if len(parts) >= 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[len(parts)-1])
	}
	return "", strings.TrimSpace(parts[0])
}

// withQueryDefaults copies query context onto a lead where the listing had none.
func withQueryDefaults(l lead.Lead, q lead.SearchQuery) lead.Lead {
	if l.Country == "" {
		l.Country = q.Country
	}
	if l.City == "" {
		l.City = q.City
	}
	l.SearchQuery = q.String()
	return l
}
