// Package fetcher retrieves pages for the source adapters and the enricher.
//
// Every attempt first waits on a per-domain limiter, so the minimum spacing
// between requests to a domain holds across adapters and across failures.
// Transient failures (transport errors, 408, 429, 5xx) are retried with
// exponential backoff; other 4xx responses fail immediately as permanent.
package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-finder/internal/lead"
	"github.com/JakeFAU/lead-finder/internal/metrics"
	"github.com/JakeFAU/lead-finder/internal/ratelimit"
)

// Backend performs a single fetch attempt.
type Backend interface {
	Attempt(ctx context.Context, rawURL string) (lead.Page, error)
}

// Config controls fetch behavior.
type Config struct {
	Timeout           time.Duration
	UserAgent         string
	MinDomainDelay    time.Duration
	MaxRetries        int
	BackoffInitial    time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
	RespectRobots     bool
}

// Fetcher implements lead.Fetcher on top of a Backend.
type Fetcher struct {
	backend Backend
	limiter *ratelimit.Limiter
	retry   RetryPolicy
	logger  *zap.Logger
}

// New builds a Fetcher using the Colly backend.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	backend := NewColly(CollyConfig{
		UserAgent:     cfg.UserAgent,
		RespectRobots: cfg.RespectRobots,
		Timeout:       cfg.Timeout,
	})
	return NewWithBackend(cfg, backend, logger)
}

// NewWithBackend builds a Fetcher around any Backend.
func NewWithBackend(cfg Config, backend Backend, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		Initial:    cfg.BackoffInitial,
		Multiplier: cfg.BackoffMultiplier,
		Max:        cfg.BackoffMax,
		Jitter:     true,
	}
	return &Fetcher{
		backend: backend,
		limiter: ratelimit.New(ratelimit.Config{MinDelay: cfg.MinDomainDelay}),
		retry:   retry,
		logger:  logger,
	}
}

// Limiter exposes the per-domain limiter.
func (f *Fetcher) Limiter() *ratelimit.Limiter {
	return f.limiter
}

// Reset discards per-domain limiter state; call it when a batch ends.
func (f *Fetcher) Reset() {
	f.limiter.Reset()
}

// Fetch retrieves rawURL. Failures are always *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (lead.Page, error) {
	if err := validateURL(rawURL); err != nil {
		metrics.ObserveFetch(rawURL, Permanent.String())
		return lead.Page{}, &FetchError{Kind: Permanent, URL: rawURL, Err: err}
	}

	for retries := 0; ; retries++ {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return lead.Page{}, &FetchError{Kind: Transient, URL: rawURL, Attempts: retries, Err: err}
		}

		page, err := f.backend.Attempt(ctx, rawURL)
		fe := classify(rawURL, page.StatusCode, err)
		if fe == nil {
			metrics.ObserveFetch(rawURL, "ok")
			return page, nil
		}
		fe.Attempts = retries + 1

		if fe.Kind == Permanent || ctx.Err() != nil || !f.retry.ShouldRetry(retries) {
			metrics.ObserveFetch(rawURL, fe.Kind.String())
			f.logger.Debug("fetch failed",
				zap.String("url", rawURL),
				zap.Stringer("kind", fe.Kind),
				zap.Int("status", fe.StatusCode),
				zap.Int("attempts", fe.Attempts),
				zap.Error(fe.Err),
			)
			return lead.Page{}, fe
		}

		delay := f.retry.Backoff(retries)
		metrics.ObserveFetchRetry(rawURL)
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("status", fe.StatusCode),
			zap.Int("attempt", fe.Attempts),
			zap.Duration("backoff", delay),
			zap.Error(fe.Err),
		)
		if err := sleep(ctx, delay); err != nil {
			fe.Err = fmt.Errorf("%w (backoff interrupted: %v)", fe.Err, err)
			return lead.Page{}, fe
		}
	}
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", rawURL)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
