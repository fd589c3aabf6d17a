package headless

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

func TestNeedsBrowser(t *testing.T) {
	t.Parallel()

	listing := "<html><body><ul>" + strings.Repeat("<li>Acme Textil GmbH, Berlin, Germany</li>", 30) + "</ul></body></html>"
	tests := []struct {
		name string
		page lead.Page
		want bool
	}{
		{"empty body", lead.Page{StatusCode: http.StatusOK}, true},
		{"next root", lead.Page{StatusCode: http.StatusOK, Body: []byte(`<div id="__next"></div><script src="/app.js"></script>`)}, true},
		{"script shell", lead.Page{StatusCode: http.StatusOK, Body: []byte(`<html><script>var a=1;</script><p>t</p></html>`)}, true},
		{"rendered listing", lead.Page{StatusCode: http.StatusOK, Body: []byte(listing + "<script>track()</script>")}, false},
		{"static page without scripts", lead.Page{StatusCode: http.StatusOK, Body: []byte("<p>short</p>")}, false},
		{"not found", lead.Page{StatusCode: http.StatusNotFound, Body: []byte("not found")}, false},
		{"already headless", lead.Page{StatusCode: http.StatusOK, Headless: true}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, NeedsBrowser(tc.page, DefaultMinText))
		})
	}
}

type stubFetcher struct {
	page  lead.Page
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context, string) (lead.Page, error) {
	s.calls++
	return s.page, s.err
}

func TestPromoterFetch(t *testing.T) {
	t.Parallel()

	shell := lead.Page{StatusCode: http.StatusOK, Body: []byte(`<div id="root"></div><script src="/b.js"></script>`)}
	rendered := lead.Page{StatusCode: http.StatusOK, Body: []byte("<p>rendered</p>"), Headless: true}

	t.Run("promotes shells", func(t *testing.T) {
		t.Parallel()
		plain, browser := &stubFetcher{page: shell}, &stubFetcher{page: rendered}
		page, err := NewPromoter(plain, browser, 0, nil).Fetch(context.Background(), "https://example.com")
		require.NoError(t, err)
		assert.True(t, page.Headless)
		assert.Equal(t, 1, browser.calls)
	})

	t.Run("keeps static pages", func(t *testing.T) {
		t.Parallel()
		static := lead.Page{StatusCode: http.StatusOK, Body: []byte("<p>plain</p>")}
		plain, browser := &stubFetcher{page: static}, &stubFetcher{page: rendered}
		page, err := NewPromoter(plain, browser, 0, nil).Fetch(context.Background(), "https://example.com")
		require.NoError(t, err)
		assert.False(t, page.Headless)
		assert.Zero(t, browser.calls)
	})

	t.Run("falls back to plain page on browser error", func(t *testing.T) {
		t.Parallel()
		plain, browser := &stubFetcher{page: shell}, &stubFetcher{err: errors.New("chrome crashed")}
		page, err := NewPromoter(plain, browser, 0, nil).Fetch(context.Background(), "https://example.com")
		require.NoError(t, err)
		assert.Equal(t, shell.Body, page.Body)
	})

	t.Run("plain errors skip the browser", func(t *testing.T) {
		t.Parallel()
		plain, browser := &stubFetcher{err: errors.New("dial tcp: refused")}, &stubFetcher{page: rendered}
		_, err := NewPromoter(plain, browser, 0, nil).Fetch(context.Background(), "https://example.com")
		require.Error(t, err)
		assert.Zero(t, browser.calls)
	})
}
