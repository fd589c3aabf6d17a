// Package pipeline runs scraping passes, validation, enrichment and upserts
// over a bounded worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/lead-finder/internal/clock/system"
	"github.com/JakeFAU/lead-finder/internal/enrich"
	"github.com/JakeFAU/lead-finder/internal/lead"
	"github.com/JakeFAU/lead-finder/internal/metrics"
)

// Config controls a Pipeline.
type Config struct {
	Concurrency int
	// Enrich crawls the websites of stored leads that still lack an email.
	Enrich bool
}

// Resetter drops per-batch state such as per-domain limiter history.
type Resetter interface {
	Reset()
}

// Deps are the collaborators a Pipeline needs. Enricher, Publisher, Resetter
// and Clock are optional.
type Deps struct {
	Repo         lead.Repository
	NewValidator func() enrich.Validator
	Enricher     *enrich.Enricher
	Publisher    lead.Publisher
	Resetter     Resetter
	Clock        lead.Clock
	Logger       *zap.Logger
}

// Pipeline orchestrates batches.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New validates deps and builds a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if deps.NewValidator == nil {
		return nil, fmt.Errorf("validator factory is required")
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive")
	}
	if cfg.Enrich && deps.Enricher == nil {
		return nil, fmt.Errorf("enrichment enabled without an enricher")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps, log: deps.Logger.Named("pipeline")}, nil
}

// Run executes one pass per (query, scraper) pair. Page-level failures are
// counted and logged; a repository failure aborts the batch and is returned.
func (p *Pipeline) Run(ctx context.Context, queries []lead.SearchQuery, scrapers []lead.Scraper) (Report, error) {
	started := time.Now()
	defer p.reset()

	t := &tally{}
	validator := p.deps.NewValidator()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

schedule:
	for _, q := range queries {
		for _, s := range scrapers {
			if gctx.Err() != nil {
				break schedule
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				return p.pass(gctx, q, s, validator, t)
			})
		}
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	report := t.snapshot(started)
	p.log.Info("batch finished",
		zap.Int("passes", report.Passes.Attempted),
		zap.Int("listings", report.Listings.Succeeded),
		zap.Int("inserted", report.Inserted),
		zap.Int("merged", report.Merged),
		zap.Duration("duration", report.Duration),
		zap.Error(err),
	)
	return report, err
}

func (p *Pipeline) pass(ctx context.Context, q lead.SearchQuery, s lead.Scraper, v enrich.Validator, t *tally) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	src := string(s.Source())
	logger := p.log.With(zap.String("source", src), zap.String("query", q.String()))
	pageErrors := 0
	for l, err := range s.Search(ctx, q) {
		if err != nil {
			pageErrors++
			t.update(func(r *Report) { r.Listings.observe(false) })
			if ctx.Err() != nil {
				break
			}
			logger.Warn("page failed", zap.Error(err))
			continue
		}
		t.update(func(r *Report) { r.Listings.observe(true) })
		if err := p.process(ctx, l, v, t); err != nil {
			t.update(func(r *Report) { r.Passes.observe(false) })
			metrics.ObservePass(src, "error")
			return err
		}
	}

	ok := pageErrors == 0 && ctx.Err() == nil
	t.update(func(r *Report) { r.Passes.observe(ok) })
	result := "ok"
	if !ok {
		result = "partial"
	}
	metrics.ObservePass(src, result)
	return nil
}

// process validates, upserts and optionally enriches one candidate.
func (p *Pipeline) process(ctx context.Context, l lead.Lead, v enrich.Validator, t *tally) error {
	if l.HasEmail() && l.EmailStatus.Rank() < lead.EmailMXConfirmed.Rank() {
		res := v.Validate(ctx, l.Email)
		l.Email, l.EmailStatus = res.Address, res.Status
		t.update(func(r *Report) { r.Validation.observe(res.Status != lead.EmailInvalid) })
	}

	res, err := p.deps.Repo.Upsert(ctx, l)
	if err != nil {
		t.update(func(r *Report) { r.Upserts.observe(false) })
		return fmt.Errorf("upsert %s: %w", lead.IdentityKey(l), err)
	}
	metrics.ObserveLead(string(l.Source), string(res.Outcome))
	t.update(func(r *Report) {
		r.Upserts.observe(true)
		if res.Outcome == lead.Inserted {
			r.Inserted++
		} else {
			r.Merged++
		}
	})
	if res.Outcome == lead.Inserted {
		p.publish(ctx, res.Lead)
	}

	if !p.cfg.Enrich || res.Lead.HasEmail() || res.Lead.Website == "" {
		return nil
	}
	return p.enrich(ctx, res.Lead, v, t)
}

func (p *Pipeline) enrich(ctx context.Context, l lead.Lead, v enrich.Validator, t *tally) error {
	out, err := p.deps.Enricher.Apply(ctx, p.deps.Repo, l, v)
	switch {
	case errors.Is(err, enrich.ErrNoWebsite):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		t.update(func(r *Report) { r.Enrichment.observe(false) })
		return err
	}
	t.update(func(r *Report) { r.Enrichment.observe(out.EmailUpdated) })
	return nil
}

func (p *Pipeline) publish(ctx context.Context, l lead.Lead) {
	if p.deps.Publisher == nil {
		return
	}
	if _, err := p.deps.Publisher.Publish(ctx, lead.TopicDiscovered, lead.DiscoveredEvent(l, p.deps.Clock.Now())); err != nil {
		p.log.Warn("publish discovered event failed", zap.String("identity", l.Identity), zap.Error(err))
	}
}

// Enrich crawls up to limit stored leads that have a website but no email.
// A non-positive limit selects every such lead.
func (p *Pipeline) Enrich(ctx context.Context, limit int) (Report, error) {
	started := time.Now()
	defer p.reset()
	if p.deps.Enricher == nil {
		return Report{}, fmt.Errorf("no enricher configured")
	}

	noEmail, hasSite := false, true
	leads, err := p.deps.Repo.Find(ctx, lead.Filter{HasEmail: &noEmail, HasWebsite: &hasSite, Limit: max(limit, 0)})
	if err != nil {
		return Report{}, fmt.Errorf("find leads to enrich: %w", err)
	}

	t := &tally{}
	validator := p.deps.NewValidator()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, l := range leads {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			return p.enrich(gctx, l, validator, t)
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	report := t.snapshot(started)
	p.log.Info("enrichment finished",
		zap.Int("candidates", len(leads)),
		zap.Int("found", report.Enrichment.Succeeded),
		zap.Error(err),
	)
	return report, err
}

func (p *Pipeline) reset() {
	if p.deps.Resetter != nil {
		p.deps.Resetter.Reset()
	}
}
