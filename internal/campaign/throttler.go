// Package campaign selects eligible leads and sends templated outreach under
// a daily cap.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-finder/internal/clock/system"
	"github.com/JakeFAU/lead-finder/internal/lead"
	"github.com/JakeFAU/lead-finder/internal/metrics"
)

var (
	// ErrCapExceeded is returned when the day's send allowance is used up.
	ErrCapExceeded = errors.New("daily send cap reached")
	// ErrAlreadySent is returned when the lead already holds a record for the
	// template that blocks another attempt.
	ErrAlreadySent = errors.New("template already sent to lead")
	// ErrIneligible is returned when the stored lead no longer qualifies for
	// outreach.
	ErrIneligible = errors.New("lead is not eligible for outreach")
)

// Config controls throttling.
type Config struct {
	DailyCap int
	MinDelay time.Duration
	DryRun   bool
	// Location defines calendar-day boundaries for the cap. Defaults to UTC.
	Location *time.Location
	Sender   Sender
}

// Deps are the collaborators a Throttler needs. Publisher and Clock are optional.
type Deps struct {
	Repo      lead.Repository
	Catalog   *Catalog
	Transport Transport
	Publisher lead.Publisher
	Clock     lead.Clock
	Logger    *zap.Logger
}

// Delivery is the result of one Send.
type Delivery struct {
	Identity   string           `json:"identity"`
	Email      string           `json:"email"`
	TemplateID string           `json:"template_id"`
	Language   string           `json:"language"`
	Outcome    lead.SendOutcome `json:"outcome,omitempty"`
	Error      string           `json:"error,omitempty"`
	DryRun     bool             `json:"dry_run"`
	Message    Message          `json:"-"`
}

// Report summarizes a Run.
type Report struct {
	TemplateID string     `json:"template_id"`
	DryRun     bool       `json:"dry_run"`
	Selected   int        `json:"selected"`
	Sent       int        `json:"sent"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	Rendered   int        `json:"rendered"`
	CapReached bool       `json:"cap_reached"`
	Deliveries []Delivery `json:"deliveries"`
}

// Throttler enforces the daily cap and send spacing. One mutex serializes the
// cap check with the send it reserves, so it is the single writer of send
// records for the process.
type Throttler struct {
	cfg       Config
	repo      lead.Repository
	catalog   *Catalog
	transport Transport
	publisher lead.Publisher
	clock     lead.Clock
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error

	mu       sync.Mutex
	lastSend time.Time
}

// New builds a Throttler.
func New(cfg Config, deps Deps) (*Throttler, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("template catalog is required")
	}
	if cfg.DailyCap < 0 {
		return nil, fmt.Errorf("daily cap must be >= 0")
	}
	if cfg.MinDelay < 0 {
		return nil, fmt.Errorf("min delay must be >= 0")
	}
	if !cfg.DryRun {
		if _, isNoop := deps.Transport.(Noop); deps.Transport == nil || isNoop {
			return nil, fmt.Errorf("a real transport is required unless dry-run is enabled")
		}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Throttler{
		cfg:       cfg,
		repo:      deps.Repo,
		catalog:   deps.Catalog,
		transport: deps.Transport,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		logger:    deps.Logger.Named("campaign"),
		sleep:     sleepContext,
	}, nil
}

// day returns the [start, end) bounds of the calendar day containing t.
func (t *Throttler) day(at time.Time) (time.Time, time.Time) {
	local := at.In(t.cfg.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.cfg.Location)
	return start, start.AddDate(0, 0, 1)
}

// Remaining returns how many sends today's cap still allows.
func (t *Throttler) Remaining(ctx context.Context) (int, error) {
	start, end := t.day(t.clock.Now())
	n, err := t.repo.CountSends(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("count today's sends: %w", err)
	}
	return max(t.cfg.DailyCap-n, 0), nil
}

// SelectEligible returns up to limit leads that may receive templateID now,
// capped at the remaining daily allowance. A spent cap yields no leads.
func (t *Throttler) SelectEligible(ctx context.Context, templateID string, limit int) ([]lead.Lead, error) {
	if !t.catalog.Has(templateID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, templateID)
	}
	remaining, err := t.Remaining(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > remaining {
		limit = remaining
	}
	if limit == 0 {
		return nil, nil
	}

	candidates, err := t.repo.Find(ctx, lead.Filter{EmailStatus: lead.EmailMXConfirmed})
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	sends, err := t.repo.ListSends(ctx, lead.SendFilter{TemplateID: templateID})
	if err != nil {
		return nil, fmt.Errorf("list %s sends: %w", templateID, err)
	}
	blocked := make(map[string]struct{}, len(sends))
	for _, s := range sends {
		if t.blocks(s) {
			blocked[s.Identity] = struct{}{}
		}
	}

	out := make([]lead.Lead, 0, limit)
	for _, l := range candidates {
		if len(out) == limit {
			break
		}
		if !eligible(l) {
			continue
		}
		if _, ok := blocked[l.Identity]; ok {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// blocks reports whether s rules out another attempt of its template: a
// delivered send, or any attempt earlier today.
func (t *Throttler) blocks(s lead.SendRecord) bool {
	if s.Outcome == lead.SendSent {
		return true
	}
	start, end := t.day(t.clock.Now())
	return !s.SentAt.Before(start) && s.SentAt.Before(end)
}

// admit re-reads the lead and confirms it may still receive templateID.
// Real sends call it holding t.mu so a concurrent Run cannot deliver twice.
func (t *Throttler) admit(ctx context.Context, identity, templateID string) (lead.Lead, error) {
	current, err := t.repo.Get(ctx, identity)
	if err != nil {
		return lead.Lead{}, fmt.Errorf("load %s: %w", identity, err)
	}
	if !eligible(current) {
		return current, fmt.Errorf("%w: %s", ErrIneligible, identity)
	}
	sends, err := t.repo.ListSends(ctx, lead.SendFilter{Identity: identity, TemplateID: templateID})
	if err != nil {
		return current, fmt.Errorf("list %s sends for %s: %w", templateID, identity, err)
	}
	for _, s := range sends {
		if t.blocks(s) {
			return current, fmt.Errorf("%w: %s to %s", ErrAlreadySent, templateID, identity)
		}
	}
	return current, nil
}

func eligible(l lead.Lead) bool {
	if l.EmailStatus != lead.EmailMXConfirmed || !l.HasEmail() {
		return false
	}
	switch l.ContactStatus {
	case lead.ContactReplied, lead.ContactBounced:
		return false
	}
	return true
}

// RecordSend appends a send record for l. A successful send advances the lead
// to contacted. Returns ErrCapExceeded when today's cap is already reached.
func (t *Throttler) RecordSend(ctx context.Context, l lead.Lead, templateID string, outcome lead.SendOutcome, sendErr error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.reserve(ctx); err != nil {
		return err
	}
	return t.record(ctx, l, templateID, outcome, sendErr)
}

// reserve checks the cap. Callers hold t.mu.
func (t *Throttler) reserve(ctx context.Context) error {
	remaining, err := t.Remaining(ctx)
	if err != nil {
		return err
	}
	if remaining == 0 {
		return ErrCapExceeded
	}
	return nil
}

// record persists one attempt. Callers hold t.mu.
func (t *Throttler) record(ctx context.Context, l lead.Lead, templateID string, outcome lead.SendOutcome, sendErr error) error {
	now := t.clock.Now()
	rec := lead.SendRecord{
		Identity:   l.Identity,
		TemplateID: templateID,
		Email:      l.Email,
		SentAt:     now,
		Outcome:    outcome,
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}
	if err := t.repo.AppendSend(ctx, rec); err != nil {
		return fmt.Errorf("record send to %s: %w", l.Identity, err)
	}
	metrics.ObserveCampaignSend(templateID, string(outcome))
	if outcome != lead.SendSent {
		return nil
	}
	if err := t.repo.UpdateContactStatus(ctx, l.Identity, lead.ContactContacted); err != nil {
		return fmt.Errorf("mark %s contacted: %w", l.Identity, err)
	}
	if t.publisher != nil {
		if _, err := t.publisher.Publish(ctx, lead.TopicContacted, lead.ContactedEvent(l, templateID, now)); err != nil {
			t.logger.Warn("publish contacted event failed", zap.String("identity", l.Identity), zap.Error(err))
		}
	}
	return nil
}

// Send renders templateID for l and delivers it. In dry-run mode the message
// is only rendered. The stored lead is re-checked first: ErrIneligible and
// ErrAlreadySent mean nothing was sent. A transport failure is recorded and
// reported in the Delivery, not returned as an error.
func (t *Throttler) Send(ctx context.Context, l lead.Lead, templateID string) (Delivery, error) {
	if !t.catalog.Has(templateID) {
		return Delivery{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, templateID)
	}
	d := Delivery{
		Identity:   l.Identity,
		Email:      l.Email,
		TemplateID: templateID,
		DryRun:     t.cfg.DryRun,
	}
	if !t.cfg.DryRun {
		t.mu.Lock()
		defer t.mu.Unlock()
	}
	current, err := t.admit(ctx, l.Identity, templateID)
	if err != nil {
		return d, err
	}
	l = current
	msg, err := t.catalog.Render(templateID, l, t.cfg.Sender)
	if err != nil {
		return d, err
	}
	d.Email = l.Email
	d.Language = msg.Language
	d.Message = msg
	if t.cfg.DryRun {
		return d, nil
	}

	if err := t.reserve(ctx); err != nil {
		return d, err
	}
	if err := t.space(ctx); err != nil {
		return d, err
	}

	sendErr := t.transport.Send(ctx, msg)
	t.lastSend = t.clock.Now()
	d.Outcome = lead.SendSent
	if sendErr != nil {
		if ctx.Err() != nil {
			return d, ctx.Err()
		}
		d.Outcome = lead.SendFailed
		d.Error = sendErr.Error()
		t.logger.Warn("send failed",
			zap.String("identity", l.Identity),
			zap.String("template", templateID),
			zap.Error(sendErr),
		)
	}
	if err := t.record(ctx, l, templateID, d.Outcome, sendErr); err != nil {
		return d, err
	}
	return d, nil
}

// space waits out MinDelay since the previous real send. Callers hold t.mu.
func (t *Throttler) space(ctx context.Context) error {
	if t.cfg.MinDelay <= 0 || t.lastSend.IsZero() {
		return nil
	}
	wait := t.cfg.MinDelay - t.clock.Now().Sub(t.lastSend)
	if wait <= 0 {
		return nil
	}
	return t.sleep(ctx, wait)
}

// Run selects eligible leads and sends templateID to each until the cap is
// reached or ctx ends.
func (t *Throttler) Run(ctx context.Context, templateID string, limit int) (Report, error) {
	report := Report{TemplateID: templateID, DryRun: t.cfg.DryRun}
	leads, err := t.SelectEligible(ctx, templateID, limit)
	if err != nil {
		return report, err
	}
	report.Selected = len(leads)
	if len(leads) == 0 {
		remaining, err := t.Remaining(ctx)
		if err == nil && remaining == 0 {
			report.CapReached = true
		}
	}

	for _, l := range leads {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		d, err := t.Send(ctx, l, templateID)
		if errors.Is(err, ErrCapExceeded) {
			report.CapReached = true
			break
		}
		if errors.Is(err, ErrAlreadySent) || errors.Is(err, ErrIneligible) {
			report.Skipped++
			t.logger.Debug("lead skipped", zap.String("identity", l.Identity), zap.Error(err))
			continue
		}
		if err != nil {
			return report, err
		}
		report.Deliveries = append(report.Deliveries, d)
		report.Rendered++
		switch d.Outcome {
		case lead.SendSent:
			report.Sent++
		case lead.SendFailed:
			report.Failed++
		}
	}
	t.logger.Info("campaign run finished",
		zap.String("template", templateID),
		zap.Bool("dry_run", report.DryRun),
		zap.Int("selected", report.Selected),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Bool("cap_reached", report.CapReached),
	)
	return report, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
