package headless

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

// DefaultMinText is the visible text length, in runes, below which a page
// with scripts is treated as an unrendered shell.
const DefaultMinText = 512

// appRoots match the mount points client-side frameworks render into.
const appRoots = "#__next, #__nuxt, #root, #app, [data-reactroot], [ng-app], [ng-version]"

// NeedsBrowser reports whether page looks like a client-rendered shell whose
// listings only appear after JavaScript runs. Only 200 responses qualify.
func NeedsBrowser(page lead.Page, minText int) bool {
	if page.StatusCode != http.StatusOK || page.Headless {
		return false
	}
	if len(bytes.TrimSpace(page.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return false
	}
	scripts := doc.Find("script").Length()
	if root := doc.Find(appRoots).First(); root.Length() > 0 && visibleText(root) < minText {
		return true
	}
	return scripts > 0 && visibleText(doc.Find("body")) < minText
}

func visibleText(sel *goquery.Selection) int {
	clone := sel.Clone()
	clone.Find("script, style, noscript, template").Remove()
	return utf8.RuneCountInString(strings.Join(strings.Fields(clone.Text()), " "))
}

// Promoter fetches over plain HTTP and retries in the browser when the HTTP
// response is a client-rendered shell.
type Promoter struct {
	plain   lead.Fetcher
	browser lead.Fetcher
	minText int
	logger  *zap.Logger
}

// NewPromoter builds a Promoter. A non-positive minText uses DefaultMinText.
func NewPromoter(plain, browser lead.Fetcher, minText int, logger *zap.Logger) *Promoter {
	if minText <= 0 {
		minText = DefaultMinText
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{plain: plain, browser: browser, minText: minText, logger: logger}
}

// Fetch implements lead.Fetcher. When the browser fetch fails the plain page
// is returned, since it is still a valid response.
func (p *Promoter) Fetch(ctx context.Context, rawURL string) (lead.Page, error) {
	page, err := p.plain.Fetch(ctx, rawURL)
	if err != nil || !NeedsBrowser(page, p.minText) {
		return page, err
	}
	rendered, err := p.browser.Fetch(ctx, rawURL)
	if err != nil {
		p.logger.Warn("headless promotion failed", zap.String("url", rawURL), zap.Error(err))
		return page, nil
	}
	p.logger.Debug("promoted to headless", zap.String("url", rawURL))
	return rendered, nil
}
