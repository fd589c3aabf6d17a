package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-finder/internal/fetcher"
	"github.com/JakeFAU/lead-finder/internal/hash/sha256"
	"github.com/JakeFAU/lead-finder/internal/lead"
	"github.com/JakeFAU/lead-finder/internal/storage/memory"
)

const duckDuckGoFixture = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.nordic-textil.de%2F%3Futm_source%3Dddg&rut=abc">Nordic Textil Import GmbH - Home</a>
  <a class="result__snippet">Textile importer in Hamburg. Contact: export [at] nordic-textil [dot] de, +49 40 1234567</a>
</div>
<div class="result"><a class="result__a" href="https://www.linkedin.com/company/nordic">Nordic | LinkedIn</a></div>
<div class="result"><a class="result__a" href="https://acme-textiles.com/about#team">Welcome</a></div>
<div class="result"><a class="result__a" href="https://acme-textiles.com/contact">Acme Textiles - Contact</a></div>
<div class="result"><a class="result__a">No link</a></div>
<div class="result"><a class="result__a" href="https://bursa.com.tr">Bursa Fabrics</a></div>
</body></html>`

const googleFixture = `<html><body>
<div class="g"><a href="/url?q=https://www.gulf-fabrics.ae/&sa=U"><h3>Gulf Fabrics Trading LLC | Dubai</h3></a></div>
<div class="g"><a href="/search?q=related"><h3>Related searches</h3></a></div>
</body></html>`

var hamburgQuery = lead.SearchQuery{Keyword: "textile importer", Country: "Germany", City: "Hamburg"}

func newSearchFixture() (*scriptedFetcher, SearchConfig) {
	f := newScriptedFetcher()
	f.pages["https://ddg.test/html/?q=textile+importer+Hamburg+Germany"] = duckDuckGoFixture
	return f, SearchConfig{BaseURL: "https://ddg.test/html/", FallbackURL: "https://google.test/search", MaxResults: 10}
}

func TestSearchDuckDuckGoResults(t *testing.T) {
	t.Parallel()

	f, cfg := newSearchFixture()
	leads, errs := collect(NewSearch(f, cfg).Search(context.Background(), hamburgQuery))
	require.Empty(t, errs)
	require.Len(t, leads, 3)

	nordic := leads[0]
	require.Equal(t, "nordic-textil.de", nordic.Identity)
	require.Equal(t, "Nordic Textil Import GmbH", nordic.CompanyName)
	require.Equal(t, "https://www.nordic-textil.de", nordic.Website)
	require.Equal(t, "https://www.nordic-textil.de/", nordic.SourceURL)
	require.Equal(t, "export@nordic-textil.de", nordic.Email)
	require.Equal(t, lead.EmailUnknown, nordic.EmailStatus)
	require.Equal(t, "+49 40 1234567", nordic.Phone)
	require.Equal(t, lead.SourceSearch, nordic.Source)
	require.Equal(t, "Germany", nordic.Country)
	require.Equal(t, "Hamburg", nordic.City)
	require.Equal(t, "textile importer Hamburg Germany", nordic.SearchQuery)

	require.Equal(t, "Acme Textiles", leads[1].CompanyName)
	require.Equal(t, "https://acme-textiles.com/about", leads[1].SourceURL)
	require.Equal(t, "Bursa Fabrics", leads[2].CompanyName)

	require.Len(t, f.calls(), 1)
}

func TestSearchRespectsMaxResultsAndEarlyStop(t *testing.T) {
	t.Parallel()

	f, cfg := newSearchFixture()
	cfg.MaxResults = 2
	leads, _ := collect(NewSearch(f, cfg).Search(context.Background(), hamburgQuery))
	require.Len(t, leads, 2)

	count := 0
	for range NewSearch(f, SearchConfig{BaseURL: cfg.BaseURL}).Search(context.Background(), hamburgQuery) {
		count++
		break
	}
	require.Equal(t, 1, count)
}

func TestSearchFallsBackToGoogle(t *testing.T) {
	t.Parallel()

	f := newScriptedFetcher()
	f.pages["https://ddg.test/html/?q=textile+importer"] = `<html><body><p>No results.</p></body></html>`
	f.pages["https://google.test/search?q=textile+importer&num=30"] = googleFixture

	s := NewSearch(f, SearchConfig{BaseURL: "https://ddg.test/html/", FallbackURL: "https://google.test/search"})
	leads, errs := collect(s.Search(context.Background(), lead.SearchQuery{Keyword: "textile importer"}))
	require.Empty(t, errs)
	require.Len(t, leads, 1)
	require.Equal(t, "Gulf Fabrics Trading LLC", leads[0].CompanyName)
	require.Equal(t, "https://www.gulf-fabrics.ae", leads[0].Website)
	require.Equal(t, "gulf-fabrics.ae", leads[0].Identity)
	require.Len(t, f.calls(), 2)
}

func TestSearchYieldsFetchError(t *testing.T) {
	t.Parallel()

	f, cfg := newSearchFixture()
	f.errs["https://ddg.test/html/?q=textile+importer+Hamburg+Germany"] = &fetcher.FetchError{Kind: fetcher.Transient, Attempts: 4, Err: errors.New("503")}

	leads, errs := collect(NewSearch(f, cfg).Search(context.Background(), hamburgQuery))
	require.Empty(t, leads)
	require.Len(t, errs, 1)
	require.True(t, fetcher.IsTransient(errs[0]))
}

func TestSearchArchivesPages(t *testing.T) {
	t.Parallel()

	f, cfg := newSearchFixture()
	store := memory.NewBlobStore()
	s := NewSearch(f, cfg, WithArchive(NewArchive(store, sha256.New(), "pages")))
	_, errs := collect(s.Search(context.Background(), hamburgQuery))
	require.Empty(t, errs)

	paths := store.Paths()
	require.Len(t, paths, 1)
	require.Regexp(t, `^pages/search/[0-9a-f]{64}\.html$`, paths[0])
}

func TestUnwrapRedirect(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://acme.com/x", unwrapRedirect("//duckduckgo.com/l/?uddg=https%3A%2F%2Facme.com%2Fx", "uddg"))
	require.Equal(t, "https://acme.com/", unwrapRedirect("/url?q=https://acme.com/&sa=U", "q"))
	require.Equal(t, "https://acme.com/l/", unwrapRedirect("https://acme.com/l/", "uddg"))
}
