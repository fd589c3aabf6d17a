package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/lead-finder/internal/lead"
	"github.com/JakeFAU/lead-finder/internal/metrics"
)

// Reasons attached to non-confirmed results.
const (
	ReasonSyntax       = "syntax"
	ReasonNoMX         = "no-mx"
	ReasonInconclusive = "inconclusive"
)

const (
	maxLocalLen  = 64
	maxDomainLen = 253
	maxLabelLen  = 63
)

// Resolver looks up mail exchangers. *net.Resolver satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// ValidatorConfig controls DNS behavior.
type ValidatorConfig struct {
	LookupTimeout time.Duration
	// Retries is the number of extra lookups after an inconclusive network
	// error. Values below 1 are raised to 1.
	Retries int
}

// Result is the outcome of validating one address.
type Result struct {
	Address string           `json:"address"`
	Status  lead.EmailStatus `json:"status"`
	Reason  string           `json:"reason,omitempty"`
}

// Confirmed reports whether the address domain accepts mail.
func (r Result) Confirmed() bool {
	return r.Status == lead.EmailMXConfirmed
}

type mxOutcome struct {
	status lead.EmailStatus
	reason string
}

// Validator checks syntax and MX records. It caches definite MX outcomes per
// domain for its lifetime, so build one per batch.
type Validator struct {
	resolver Resolver
	cfg      ValidatorConfig
	logger   *zap.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]mxOutcome
}

// NewValidator builds a Validator. A nil resolver uses net.DefaultResolver.
func NewValidator(cfg ValidatorConfig, resolver Resolver, logger *zap.Logger) *Validator {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	return &Validator{
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		cache:    make(map[string]mxOutcome),
	}
}

// Validate moves address through unknown → syntactically-valid → mx-confirmed,
// or to invalid at the first failing step.
func (v *Validator) Validate(ctx context.Context, address string) Result {
	address = strings.ToLower(strings.TrimSpace(address))
	res := Result{Address: address, Status: lead.EmailUnknown}

	domain, err := CheckSyntax(address)
	if err != nil {
		res.Status = lead.EmailInvalid
		res.Reason = ReasonSyntax
		metrics.ObserveEmailValidation(string(res.Status))
		return res
	}
	res.Status = lead.EmailSyntacticallyValid

	outcome := v.lookup(ctx, domain)
	res.Status = outcome.status
	res.Reason = outcome.reason
	metrics.ObserveEmailValidation(string(res.Status))
	return res
}

// CheckSyntax verifies address is a bare RFC 5322 address with a plausible
// DNS domain and returns that domain.
func CheckSyntax(address string) (string, error) {
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return "", fmt.Errorf("parse address: %w", err)
	}
	if parsed.Address != address || parsed.Name != "" {
		return "", fmt.Errorf("address %q carries a display name or comments", address)
	}
	if strings.Count(address, "@") != 1 {
		return "", fmt.Errorf("address %q must contain exactly one @", address)
	}
	local, domain, _ := strings.Cut(address, "@")
	if len(local) == 0 || len(local) > maxLocalLen {
		return "", fmt.Errorf("local part length %d out of range", len(local))
	}
	if len(domain) > maxDomainLen {
		return "", fmt.Errorf("domain length %d out of range", len(domain))
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return "", fmt.Errorf("domain %q has no tld", domain)
	}
	for _, label := range labels {
		if !validLabel(label) {
			return "", fmt.Errorf("invalid domain label %q", label)
		}
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 || strings.IndexFunc(tld, func(r rune) bool { return r < 'a' || r > 'z' }) >= 0 {
		return "", fmt.Errorf("invalid tld %q", tld)
	}
	return domain, nil
}

func validLabel(label string) bool {
	if len(label) == 0 || len(label) > maxLabelLen {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}

func (v *Validator) lookup(ctx context.Context, domain string) mxOutcome {
	v.mu.RLock()
	cached, ok := v.cache[domain]
	v.mu.RUnlock()
	if ok {
		return cached
	}

	// The shared lookup outlives any single caller; each attempt is still
	// bounded by LookupTimeout.
	shared := context.WithoutCancel(ctx)
	ch := v.group.DoChan(domain, func() (any, error) {
		outcome, definite := v.resolve(shared, domain)
		if definite {
			v.mu.Lock()
			v.cache[domain] = outcome
			v.mu.Unlock()
		}
		return outcome, nil
	})
	select {
	case res := <-ch:
		return res.Val.(mxOutcome)
	case <-ctx.Done():
		return mxOutcome{status: lead.EmailInvalid, reason: ReasonInconclusive}
	}
}

// resolve returns the MX outcome and whether it is definite enough to cache.
func (v *Validator) resolve(ctx context.Context, domain string) (mxOutcome, bool) {
	var lastErr error
	for attempt := 0; attempt <= v.cfg.Retries; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		lookupCtx, cancel := context.WithTimeout(ctx, v.cfg.LookupTimeout)
		records, err := v.resolver.LookupMX(lookupCtx, domain)
		cancel()

		switch {
		case err == nil && hasMailExchanger(records):
			metrics.ObserveDNSLookup("found")
			return mxOutcome{status: lead.EmailMXConfirmed}, true
		case err == nil, isNotFound(err):
			metrics.ObserveDNSLookup("not_found")
			return mxOutcome{status: lead.EmailInvalid, reason: ReasonNoMX}, true
		}
		metrics.ObserveDNSLookup("error")
		lastErr = err
		v.logger.Debug("mx lookup inconclusive",
			zap.String("domain", domain),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	v.logger.Info("mx lookup gave up", zap.String("domain", domain), zap.Error(lastErr))
	return mxOutcome{status: lead.EmailInvalid, reason: ReasonInconclusive}, false
}

// hasMailExchanger ignores the RFC 7505 null MX, which declares no mail service.
func hasMailExchanger(records []*net.MX) bool {
	for _, mx := range records {
		if mx != nil && strings.TrimSuffix(mx.Host, ".") != "" {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
