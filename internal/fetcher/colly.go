package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

// CollyConfig controls collector behavior.
type CollyConfig struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       http.Header
}

// CollyBackend performs single HTTP GET attempts with a Colly collector.
type CollyBackend struct {
	cfg           CollyConfig
	baseCollector *colly.Collector
}

// defaultHeaders are sent unless CollyConfig.Headers overrides them.
var defaultHeaders = http.Header{
	"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
	"Accept-Language": {"en-US,en;q=0.5"},
}

// NewColly builds a CollyBackend.
func NewColly(cfg CollyConfig) *CollyBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &CollyBackend{cfg: cfg, baseCollector: c}
}

// Attempt issues one GET. Non-2xx responses are returned as pages with their
// status code; only transport failures produce an error.
func (b *CollyBackend) Attempt(ctx context.Context, rawURL string) (lead.Page, error) {
	var (
		page     lead.Page
		fetchErr error
	)
	start := time.Now()
	collector := b.buildCollector()

	collector.OnRequest(func(r *colly.Request) {
		b.copyHeaders(r)
	})
	collector.OnResponse(func(r *colly.Response) {
		page = lead.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil && r.StatusCode > 0 {
			page.StatusCode = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return lead.Page{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			return page, wrapCollyError(err)
		}
		return page, nil
	}
}

func (b *CollyBackend) buildCollector() *colly.Collector {
	collector := b.baseCollector.Clone()
	if b.cfg.UserAgent != "" {
		collector.UserAgent = b.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !b.cfg.RespectRobots
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	return collector
}

func (b *CollyBackend) copyHeaders(r *colly.Request) {
	for key, values := range defaultHeaders {
		if _, overridden := b.cfg.Headers[key]; overridden {
			continue
		}
		for _, v := range values {
			r.Headers.Set(key, v)
		}
	}
	for key, values := range b.cfg.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func wrapCollyError(err error) error {
	wrapped := fmt.Errorf("colly visit failed: %w", err)
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked),
		errors.Is(err, colly.ErrForbiddenDomain),
		errors.Is(err, colly.ErrMissingURL):
		return MarkPermanent(wrapped)
	}
	return wrapped
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
