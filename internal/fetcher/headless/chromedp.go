// Package headless renders JavaScript-heavy directory pages with headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/lead-finder/internal/fetcher"
	"github.com/JakeFAU/lead-finder/internal/lead"
)

// ErrNotConfigured is returned by Noop.
var ErrNotConfigured = errors.New("headless backend not configured")

// Config controls the headless backend.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready for scripts to render listings.
	SettleDelay time.Duration
}

// Backend implements fetcher.Backend with chromedp.
type Backend struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a chromedp-backed Backend. Chrome is started lazily on first use.
func New(cfg Config) (*Backend, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 750 * time.Millisecond
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Backend{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (b *Backend) Close() {
	b.allocCancel()
}

// Attempt navigates to rawURL and returns the rendered DOM with the document status.
func (b *Backend) Attempt(ctx context.Context, rawURL string) (lead.Page, error) {
	if err := b.acquire(ctx); err != nil {
		return lead.Page{}, err
	}
	defer b.release()

	tabCtx, tabCancel := chromedp.NewContext(b.allocator)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, b.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.listen)

	start := time.Now()
	var html, finalURL string
	err := chromedp.Run(tabCtx,
		b.userAgentAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(b.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return lead.Page{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, headers, url := doc.result(rawURL, finalURL)
	return lead.Page{
		URL:        url,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Headless:   true,
	}, nil
}

func (b *Backend) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (b *Backend) acquire(ctx context.Context) error {
	if b.slots == nil {
		return nil
	}
	select {
	case b.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (b *Backend) release() {
	if b.slots == nil {
		return
	}
	select {
	case <-b.slots:
	default:
	}
}

// documentResponse captures the status of the top-level document response.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) listen(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		d.capture(resp)
	}
}

func (d *documentResponse) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		headers.Add(key, fmt.Sprint(value))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != 0 {
		// keep the first document (the navigation), not iframes
		return
	}
	d.status = int(event.Response.Status)
	d.headers = headers
	d.url = event.Response.URL
}

func (d *documentResponse) result(requestURL, finalURL string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, headers, url := d.status, d.headers, d.url
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	switch {
	case finalURL != "":
		url = finalURL
	case url == "":
		url = requestURL
	}
	return status, headers, url
}

// Noop stands in when headless rendering is disabled.
type Noop struct{}

// Attempt always fails with a permanent ErrNotConfigured.
func (Noop) Attempt(context.Context, string) (lead.Page, error) {
	return lead.Page{}, fetcher.MarkPermanent(ErrNotConfigured)
}
