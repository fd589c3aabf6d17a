package fetcher

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy computes exponential backoff between attempts.
type RetryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	// Jitter spreads each delay over [d/2, d).
	Jitter bool
}

// DefaultRetryPolicy retries three times starting at one second, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Initial:    time.Second,
		Multiplier: 2,
		Max:        30 * time.Second,
		Jitter:     true,
	}
}

// ShouldRetry reports whether another attempt is allowed after retry attempts
// have already been retried.
func (p RetryPolicy) ShouldRetry(retries int) bool {
	return retries < p.MaxRetries
}

// Backoff returns the wait before retry number n (0-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.Initial) * math.Pow(mult, float64(n))
	if p.Max > 0 && delay > float64(p.Max) {
		delay = float64(p.Max)
	}
	if !p.Jitter {
		return time.Duration(delay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
