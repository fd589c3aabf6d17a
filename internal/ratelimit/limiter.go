// Package ratelimit spaces requests to the same domain by a minimum delay.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/lead-finder/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// MinDelay is the minimum spacing between two requests to one domain.
	// Zero disables limiting.
	MinDelay time.Duration
	// Burst allows that many back-to-back requests before spacing applies.
	Burst int
}

// Limiter manages per-domain rate limits and remembers the last request time
// of each domain.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	last     map[string]time.Time
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.MinDelay > 0 {
		limit = rate.Every(cfg.MinDelay)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		last:     make(map[string]time.Time),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

// Wait blocks until the domain of rawURL may be requested again, then records
// the request time. The slot is consumed whether or not the request succeeds.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := DomainOf(rawURL)
	limiter := l.limiterFor(domain)

	start := l.now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := l.now().Sub(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}

	l.mu.Lock()
	l.last[domain] = l.now()
	l.mu.Unlock()
	return nil
}

// LastRequest returns when the domain was last cleared for a request.
func (l *Limiter) LastRequest(domain string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.last[strings.ToLower(domain)]
	return t, ok
}

// Reset forgets every domain.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*rate.Limiter)
	l.last = make(map[string]time.Time)
}

func (l *Limiter) limiterFor(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[domain] = limiter
	}
	return limiter
}

// DomainOf returns the lowercased host of rawURL, or "unknown".
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
