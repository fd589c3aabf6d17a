// Package memory provides in-process lead and blob stores for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/lead-finder/internal/clock/system"
	"github.com/JakeFAU/lead-finder/internal/id/uuid"
	"github.com/JakeFAU/lead-finder/internal/lead"
)

// LeadStoreOptions configures a LeadStore. Zero values select defaults.
type LeadStoreOptions struct {
	Policy       lead.MergePolicy
	Clock        lead.Clock
	IDs          lead.IDGenerator
	TopCountries int
}

// LeadStore implements lead.Repository in memory.
//
// Upserts for one identity run under that identity's lock, so the
// read-merge-write cycle has a single writer per key; mu only guards the maps.
type LeadStore struct {
	opts LeadStoreOptions

	mu    sync.RWMutex
	leads map[string]lead.Lead
	sends []lead.SendRecord

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ lead.Repository = (*LeadStore)(nil)

// NewLeadStore constructs a LeadStore.
func NewLeadStore(opts LeadStoreOptions) *LeadStore {
	if opts.Policy == "" {
		opts.Policy = lead.MergeFirstWriter
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.IDs == nil {
		opts.IDs = uuid.NewUUIDGenerator()
	}
	if opts.TopCountries <= 0 {
		opts.TopCountries = 10
	}
	return &LeadStore{
		opts:  opts,
		leads: make(map[string]lead.Lead),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *LeadStore) lockKey(identity string) func() {
	s.locksMu.Lock()
	m, ok := s.locks[identity]
	if !ok {
		m = &sync.Mutex{}
		s.locks[identity] = m
	}
	s.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

// Upsert inserts l or merges it into the stored lead with the same identity.
func (s *LeadStore) Upsert(ctx context.Context, l lead.Lead) (lead.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return lead.UpsertResult{}, err
	}
	identity := l.Identity
	if identity == "" {
		identity = lead.IdentityKey(l)
		l.Identity = identity
	}
	unlock := s.lockKey(identity)
	defer unlock()

	s.mu.RLock()
	stored, exists := s.leads[identity]
	s.mu.RUnlock()

	var current *lead.Lead
	if exists {
		current = &stored
	}
	res, err := lead.Resolve(current, l, s.opts.Policy, s.opts.Clock.Now(), s.opts.IDs)
	if err != nil {
		return lead.UpsertResult{}, err
	}

	s.mu.Lock()
	s.leads[identity] = res.Lead
	s.mu.Unlock()
	return res, nil
}

// Find returns matching leads ordered by score, then first seen.
func (s *LeadStore) Find(_ context.Context, filter lead.Filter) ([]lead.Lead, error) {
	s.mu.RLock()
	out := make([]lead.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		if filter.Matches(l) {
			out = append(out, l)
		}
	}
	s.mu.RUnlock()

	sortLeads(out)
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []lead.Lead{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Get returns the lead stored under identity.
func (s *LeadStore) Get(_ context.Context, identity string) (lead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[identity]
	if !ok {
		return lead.Lead{}, fmt.Errorf("get %s: %w", identity, lead.ErrNotFound)
	}
	return l, nil
}

// UpdateEmail overwrites the email and status of a lead.
func (s *LeadStore) UpdateEmail(_ context.Context, identity, email string, status lead.EmailStatus) error {
	return s.update(identity, func(l lead.Lead) (lead.Lead, error) {
		return lead.WithEmail(l, email, status, s.opts.Clock.Now())
	})
}

// UpdateContactStatus moves a lead through the contact lifecycle.
func (s *LeadStore) UpdateContactStatus(_ context.Context, identity string, status lead.ContactStatus) error {
	return s.update(identity, func(l lead.Lead) (lead.Lead, error) {
		return lead.WithContactStatus(l, status, s.opts.Clock.Now())
	})
}

func (s *LeadStore) update(identity string, fn func(lead.Lead) (lead.Lead, error)) error {
	unlock := s.lockKey(identity)
	defer unlock()

	s.mu.RLock()
	l, ok := s.leads[identity]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("update %s: %w", identity, lead.ErrNotFound)
	}
	updated, err := fn(l)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.leads[identity] = updated
	s.mu.Unlock()
	return nil
}

// AppendSend records a send attempt for an existing lead.
func (s *LeadStore) AppendSend(_ context.Context, record lead.SendRecord) error {
	if record.ID == "" {
		id, err := s.opts.IDs.NewID()
		if err != nil {
			return fmt.Errorf("assign send id: %w", err)
		}
		record.ID = id
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[record.Identity]; !ok {
		return fmt.Errorf("append send for %s: %w", record.Identity, lead.ErrNotFound)
	}
	s.sends = append(s.sends, record)
	return nil
}

// ListSends returns matching send records oldest first.
func (s *LeadStore) ListSends(_ context.Context, filter lead.SendFilter) ([]lead.SendRecord, error) {
	s.mu.RLock()
	out := make([]lead.SendRecord, 0)
	for _, r := range s.sends {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

// CountSends counts records with since <= SentAt < until, whatever the outcome.
func (s *LeadStore) CountSends(ctx context.Context, since, until time.Time) (int, error) {
	records, err := s.ListSends(ctx, lead.SendFilter{Since: since, Until: until})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Stats aggregates a consistent snapshot of the store.
func (s *LeadStore) Stats(_ context.Context) (lead.Stats, error) {
	s.mu.RLock()
	snapshot := make([]lead.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		snapshot = append(snapshot, l)
	}
	s.mu.RUnlock()
	return lead.ComputeStats(snapshot, s.opts.TopCountries), nil
}

// Ping always succeeds.
func (s *LeadStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *LeadStore) Close() error {
	return nil
}

func sortLeads(leads []lead.Lead) {
	sort.Slice(leads, func(i, j int) bool {
		a, b := leads[i], leads[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.FirstSeen.Equal(b.FirstSeen) {
			return a.FirstSeen.Before(b.FirstSeen)
		}
		return a.Identity < b.Identity
	})
}
