// Package enrich crawls a lead's own website for contact details.
package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-finder/internal/email"
	"github.com/JakeFAU/lead-finder/internal/lead"
)

// ErrNoWebsite is returned for leads without a website to crawl.
var ErrNoWebsite = errors.New("lead has no website")

// DefaultContactPaths are tried in order, starting with the homepage.
var DefaultContactPaths = []string{
	"", "/contact", "/contact-us", "/kontakt", "/about", "/about-us", "/impressum", "/imprint", "/legal",
}

// Validator checks a single address. *email.Validator satisfies it.
type Validator interface {
	Validate(ctx context.Context, address string) email.Result
}

// Config controls the crawl.
type Config struct {
	ContactPaths []string
	// PatternGuesses caps how many generated addresses are validated when a
	// site publishes none. Zero disables guessing.
	PatternGuesses int
}

// DefaultConfig returns the standard crawl settings.
func DefaultConfig() Config {
	return Config{ContactPaths: DefaultContactPaths, PatternGuesses: 5}
}

// Finding is what one crawl discovered.
type Finding struct {
	Email      string
	Status     lead.EmailStatus
	Reason     string
	Guessed    bool
	Phone      string
	Candidates []string
	Pages      int
}

// Found reports whether an address worth storing was discovered.
func (f Finding) Found() bool {
	return f.Email != "" && f.Status != lead.EmailInvalid
}

// Enricher fills missing emails and phones from company websites.
type Enricher struct {
	fetcher   lead.Fetcher
	extractor *email.Extractor
	cfg       Config
	logger    *zap.Logger
}

// New builds an Enricher. A nil extractor uses the default rules.
func New(fetcher lead.Fetcher, extractor *email.Extractor, cfg Config, logger *zap.Logger) *Enricher {
	if extractor == nil {
		extractor = email.NewExtractor(email.ExtractorConfig{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContactPaths == nil {
		cfg.ContactPaths = DefaultContactPaths
	}
	if cfg.PatternGuesses < 0 {
		cfg.PatternGuesses = 0
	}
	return &Enricher{fetcher: fetcher, extractor: extractor, cfg: cfg, logger: logger.Named("enrich")}
}

// Discover crawls l's website and validates what it finds with v.
func (e *Enricher) Discover(ctx context.Context, l lead.Lead, v Validator) (Finding, error) {
	website := strings.TrimRight(strings.TrimSpace(l.Website), "/")
	if website == "" {
		return Finding{}, ErrNoWebsite
	}
	logger := e.logger.With(zap.String("identity", l.Identity))

	var (
		finding Finding
		seen    = make(map[string]struct{})
	)
	for _, path := range e.cfg.ContactPaths {
		if err := ctx.Err(); err != nil {
			return finding, err
		}
		pageURL := website + path
		page, err := e.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return finding, ctxErr
			}
			logger.Debug("contact page fetch failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		finding.Pages++

		for _, addr := range e.extractor.Extract(string(page.Body)) {
			if _, ok := seen[addr]; !ok {
				seen[addr] = struct{}{}
				finding.Candidates = append(finding.Candidates, addr)
			}
		}
		if finding.Phone == "" && l.Phone == "" {
			finding.Phone = firstPhone(page.Body)
		}
		if len(finding.Candidates) > 0 {
			break
		}
	}

	if len(finding.Candidates) > 0 {
		e.pick(ctx, &finding, email.Prioritize(finding.Candidates), v)
		return finding, nil
	}
	if e.cfg.PatternGuesses > 0 {
		e.guess(ctx, &finding, lead.Domain(website), v)
	}
	return finding, nil
}

// pick keeps the first mx-confirmed address, else the best-ranked result.
func (e *Enricher) pick(ctx context.Context, f *Finding, ordered []string, v Validator) {
	best := -1
	for _, addr := range ordered {
		res := v.Validate(ctx, addr)
		if rank := res.Status.Rank(); rank > best {
			best = rank
			f.Email, f.Status, f.Reason = res.Address, res.Status, res.Reason
		}
		if res.Confirmed() || ctx.Err() != nil {
			return
		}
	}
}

// guess validates generated mailbox names. A guessed address never ranks
// above syntactically-valid because the mailbox itself is unconfirmed.
func (e *Enricher) guess(ctx context.Context, f *Finding, domain string, v Validator) {
	if domain == "" {
		return
	}
	patterns := email.GeneratePatterns(domain)
	if len(patterns) > e.cfg.PatternGuesses {
		patterns = patterns[:e.cfg.PatternGuesses]
	}
	for _, addr := range patterns {
		res := v.Validate(ctx, addr)
		if res.Status == lead.EmailInvalid {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		f.Email, f.Reason, f.Guessed = res.Address, res.Reason, true
		f.Status = lead.EmailSyntacticallyValid
		if res.Status.Rank() < f.Status.Rank() {
			f.Status = res.Status
		}
		return
	}
}

// firstPhone reads tel: links first, then the visible page text.
func firstPhone(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var phone string
	doc.Find(`a[href^="tel:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if found := email.ExtractPhones(strings.TrimPrefix(href, "tel:")); len(found) > 0 {
			phone = found[0]
			return false
		}
		return true
	})
	if phone != "" {
		return phone
	}
	doc.Find("script, style, noscript").Remove()
	if found := email.ExtractPhones(doc.Text()); len(found) > 0 {
		return found[0]
	}
	return ""
}

// Outcome summarizes what Apply wrote back.
type Outcome struct {
	Finding      Finding
	EmailUpdated bool
	PhoneUpdated bool
}

// Apply discovers contact details for l and stores any improvement in repo.
func (e *Enricher) Apply(ctx context.Context, repo lead.Repository, l lead.Lead, v Validator) (Outcome, error) {
	finding, err := e.Discover(ctx, l, v)
	out := Outcome{Finding: finding}
	if err != nil {
		return out, err
	}

	// The finding goes through Upsert so the store applies the email rank and
	// contact rules against its current record, not against l, which may be
	// stale by the time the crawl finishes.
	patch := lead.Lead{
		Identity:    l.Identity,
		CompanyName: l.CompanyName,
		Website:     l.Website,
		Country:     l.Country,
		Source:      l.Source,
	}
	if finding.Phone != "" && l.Phone == "" {
		patch.Phone = finding.Phone
	}
	if finding.Found() {
		patch.Email = finding.Email
		patch.EmailStatus = finding.Status
		patch.ContactStatus = lead.ContactEnriched
	}
	if patch.Phone == "" && patch.Email == "" {
		return out, nil
	}
	res, err := repo.Upsert(ctx, patch)
	if err != nil {
		return out, fmt.Errorf("store contact details for %s: %w", l.Identity, err)
	}
	out.PhoneUpdated = patch.Phone != "" && res.Lead.Phone == patch.Phone
	out.EmailUpdated = patch.Email != "" &&
		res.Lead.Email == patch.Email && res.Lead.EmailStatus == patch.EmailStatus &&
		(l.Email != patch.Email || l.EmailStatus != patch.EmailStatus)
	e.logger.Debug("enriched lead",
		zap.String("identity", l.Identity),
		zap.String("email", finding.Email),
		zap.String("status", string(finding.Status)),
		zap.Bool("guessed", finding.Guessed),
		zap.Int("pages", finding.Pages),
	)
	return out, nil
}
