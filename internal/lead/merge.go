package lead

import (
	"fmt"
	"strings"
	"time"
)

// MergePolicy decides how conflicting non-email fields are reconciled.
type MergePolicy string

const (
	// MergeFirstWriter keeps the stored value unless it is empty.
	MergeFirstWriter MergePolicy = "first_writer"
	// MergeCombine behaves like MergeFirstWriter but joins distinct cities.
	MergeCombine MergePolicy = "combine"
)

// ParseMergePolicy maps a config value to a MergePolicy. Empty means MergeFirstWriter.
func ParseMergePolicy(value string) (MergePolicy, error) {
	switch MergePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", MergeFirstWriter:
		return MergeFirstWriter, nil
	case MergeCombine:
		return MergeCombine, nil
	default:
		return "", fmt.Errorf("unknown merge policy %q", value)
	}
}

// Prepare fills defaults on a lead about to be stored for the first time.
func Prepare(l Lead, now time.Time) Lead {
	l.CompanyName = strings.TrimSpace(l.CompanyName)
	l.Email = strings.ToLower(strings.TrimSpace(l.Email))
	if l.Identity == "" {
		l.Identity = IdentityKey(l)
	}
	if l.EmailStatus == "" || !l.HasEmail() {
		l.EmailStatus = EmailUnknown
	}
	if l.ContactStatus == "" {
		l.ContactStatus = ContactNew
	}
	if l.FirstSeen.IsZero() {
		l.FirstSeen = now
	}
	l.LastUpdated = now
	l.Score = Score(l, DefaultWeights)
	return l
}

// Merge folds incoming into stored and returns the result.
//
// Non-email fields keep the stored value unless it is empty; MergeCombine
// additionally joins distinct cities. The stored source and first-seen time
// win. The email is replaced only by a strictly better validated one, and an
// incoming ContactEnriched moves a new lead to enriched along with it.
func Merge(stored, incoming Lead, policy MergePolicy, now time.Time) Lead {
	out := stored
	out.CompanyName = firstNonEmpty(stored.CompanyName, incoming.CompanyName)
	out.Website = firstNonEmpty(stored.Website, incoming.Website)
	out.Country = firstNonEmpty(stored.Country, incoming.Country)
	out.Phone = firstNonEmpty(stored.Phone, incoming.Phone)
	out.Industry = firstNonEmpty(stored.Industry, incoming.Industry)
	out.Address = firstNonEmpty(stored.Address, incoming.Address)
	out.ContactName = firstNonEmpty(stored.ContactName, incoming.ContactName)
	out.SourceURL = firstNonEmpty(stored.SourceURL, incoming.SourceURL)
	out.SearchQuery = firstNonEmpty(stored.SearchQuery, incoming.SearchQuery)
	if policy == MergeCombine {
		out.City = combineCities(stored.City, incoming.City)
	} else {
		out.City = firstNonEmpty(stored.City, incoming.City)
	}
	if out.Source == "" {
		out.Source = incoming.Source
	}
	if out.ContactStatus == "" {
		out.ContactStatus = firstNonEmptyStatus(incoming.ContactStatus, ContactNew)
	}
	if !incoming.FirstSeen.IsZero() && (out.FirstSeen.IsZero() || incoming.FirstSeen.Before(out.FirstSeen)) {
		out.FirstSeen = incoming.FirstSeen
	}
	if out.LastContacted == nil && incoming.LastContacted != nil {
		t := *incoming.LastContacted
		out.LastContacted = &t
	}

	in := incoming
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.HasEmail() && in.EmailStatus == "" {
		in.EmailStatus = EmailUnknown
	}
	if in.EmailRank() > stored.EmailRank() {
		out.Email = in.Email
		out.EmailStatus = in.EmailStatus
		// An enrichment patch advances a new lead only when its email is taken.
		if in.ContactStatus == ContactEnriched && out.ContactStatus == ContactNew {
			out.ContactStatus = ContactEnriched
		}
	}
	if !out.HasEmail() {
		out.EmailStatus = EmailUnknown
	}

	out.LastUpdated = now
	out.Score = Score(out, DefaultWeights)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyStatus(values ...ContactStatus) ContactStatus {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func combineCities(stored, incoming string) string {
	if strings.TrimSpace(stored) == "" {
		return incoming
	}
	if strings.TrimSpace(incoming) == "" {
		return stored
	}
	parts := strings.Split(stored, ",")
	for _, p := range parts {
		if strings.EqualFold(strings.TrimSpace(p), strings.TrimSpace(incoming)) {
			return stored
		}
	}
	return stored + ", " + strings.TrimSpace(incoming)
}

// Resolve computes the record an upsert persists. A nil stored means the
// identity is new: the lead is prepared and given a fresh ID.
func Resolve(stored *Lead, incoming Lead, policy MergePolicy, now time.Time, ids IDGenerator) (UpsertResult, error) {
	if stored == nil {
		l := Prepare(incoming, now)
		if l.ID == "" {
			id, err := ids.NewID()
			if err != nil {
				return UpsertResult{}, fmt.Errorf("assign lead id: %w", err)
			}
			l.ID = id
		}
		return UpsertResult{Outcome: Inserted, Lead: l}, nil
	}
	return UpsertResult{Outcome: Merged, Lead: Merge(*stored, incoming, policy, now)}, nil
}

// WithEmail overwrites the email and its status. Unlike Merge it may
// downgrade, since it records a validator verdict.
func WithEmail(l Lead, email string, status EmailStatus, now time.Time) (Lead, error) {
	if !status.Valid() {
		return l, fmt.Errorf("invalid email status %q", status)
	}
	l.Email = strings.ToLower(strings.TrimSpace(email))
	l.EmailStatus = status
	if !l.HasEmail() {
		l.EmailStatus = EmailUnknown
	}
	l.LastUpdated = now
	l.Score = Score(l, DefaultWeights)
	return l, nil
}

// WithContactStatus moves the lead to status. Moving to ContactContacted
// stamps LastContacted.
func WithContactStatus(l Lead, status ContactStatus, now time.Time) (Lead, error) {
	if !status.Valid() {
		return l, fmt.Errorf("invalid contact status %q", status)
	}
	l.ContactStatus = status
	if status == ContactContacted {
		t := now
		l.LastContacted = &t
	}
	l.LastUpdated = now
	return l, nil
}
