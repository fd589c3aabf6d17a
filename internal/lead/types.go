package lead

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound is returned by repositories when no lead matches an identity.
var ErrNotFound = errors.New("lead not found")

// Source identifies where a lead was discovered.
type Source string

// Known lead sources.
const (
	SourceSearch    Source = "search"
	SourceEuropages Source = "directory-europages"
	SourceKompass   Source = "directory-kompass"
	SourceManual    Source = "manual"
)

// EmailStatus tracks validation progress of a lead's email address.
type EmailStatus string

// Email validation states.
const (
	EmailUnknown            EmailStatus = "unknown"
	EmailSyntacticallyValid EmailStatus = "syntactically-valid"
	EmailMXConfirmed        EmailStatus = "mx-confirmed"
	EmailInvalid            EmailStatus = "invalid"
)

// Rank orders statuses by how strongly they vouch for an address.
// An empty status ranks with EmailUnknown.
func (s EmailStatus) Rank() int {
	switch s {
	case EmailMXConfirmed:
		return 3
	case EmailSyntacticallyValid:
		return 2
	case EmailInvalid:
		return 0
	default:
		return 1
	}
}

// Valid reports whether s is one of the declared statuses.
func (s EmailStatus) Valid() bool {
	switch s {
	case EmailUnknown, EmailSyntacticallyValid, EmailMXConfirmed, EmailInvalid:
		return true
	}
	return false
}

// ContactStatus tracks outreach progress for a lead.
type ContactStatus string

// Contact lifecycle states.
const (
	ContactNew       ContactStatus = "new"
	ContactEnriched  ContactStatus = "enriched"
	ContactContacted ContactStatus = "contacted"
	ContactReplied   ContactStatus = "replied"
	ContactBounced   ContactStatus = "bounced"
)

// Valid reports whether s is one of the declared statuses.
func (s ContactStatus) Valid() bool {
	switch s {
	case ContactNew, ContactEnriched, ContactContacted, ContactReplied, ContactBounced:
		return true
	}
	return false
}

// Lead is a prospective business contact.
type Lead struct {
	ID            string        `json:"id"`
	Identity      string        `json:"identity"`
	CompanyName   string        `json:"company_name"`
	Website       string        `json:"website,omitempty"`
	Country       string        `json:"country,omitempty"`
	City          string        `json:"city,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	Industry      string        `json:"industry,omitempty"`
	Address       string        `json:"address,omitempty"`
	ContactName   string        `json:"contact_name,omitempty"`
	Source        Source        `json:"source"`
	SourceURL     string        `json:"source_url,omitempty"`
	SearchQuery   string        `json:"search_query,omitempty"`
	Email         string        `json:"email,omitempty"`
	EmailStatus   EmailStatus   `json:"email_status"`
	ContactStatus ContactStatus `json:"contact_status"`
	Score         int           `json:"score"`
	FirstSeen     time.Time     `json:"first_seen"`
	LastUpdated   time.Time     `json:"last_updated"`
	LastContacted *time.Time    `json:"last_contacted,omitempty"`
}

// HasEmail reports whether an address is attached.
func (l Lead) HasEmail() bool {
	return strings.TrimSpace(l.Email) != ""
}

// EmailRank is the email status rank, or -1 when no address is attached.
func (l Lead) EmailRank() int {
	if !l.HasEmail() {
		return -1
	}
	return l.EmailStatus.Rank()
}

// SearchQuery drives one scraping pass.
type SearchQuery struct {
	Keyword string `json:"keyword"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}

// Location renders the geographic part of the query.
func (q SearchQuery) Location() string {
	switch {
	case q.City != "" && q.Country != "":
		return q.City + " " + q.Country
	case q.City != "":
		return q.City
	default:
		return q.Country
	}
}

// String renders the full query text.
func (q SearchQuery) String() string {
	return strings.TrimSpace(q.Keyword + " " + q.Location())
}

// UpsertOutcome reports whether an upsert created or updated a record.
type UpsertOutcome string

// Upsert outcomes.
const (
	Inserted UpsertOutcome = "inserted"
	Merged   UpsertOutcome = "merged"
)

// UpsertResult is returned by Repository.Upsert.
type UpsertResult struct {
	Outcome UpsertOutcome
	Lead    Lead
}

// Filter narrows Repository.Find results. Zero values do not filter.
type Filter struct {
	Identities    []string
	Country       string
	Source        Source
	EmailStatus   EmailStatus
	ContactStatus ContactStatus
	HasEmail      *bool
	HasWebsite    *bool
	Limit         int
	Offset        int
}

// Matches reports whether l satisfies every set criterion of f, ignoring paging.
func (f Filter) Matches(l Lead) bool {
	if len(f.Identities) > 0 && !containsString(f.Identities, l.Identity) {
		return false
	}
	if f.Country != "" && !strings.EqualFold(f.Country, l.Country) {
		return false
	}
	if f.Source != "" && f.Source != l.Source {
		return false
	}
	if f.EmailStatus != "" && f.EmailStatus != l.EmailStatus {
		return false
	}
	if f.ContactStatus != "" && f.ContactStatus != l.ContactStatus {
		return false
	}
	if f.HasEmail != nil && *f.HasEmail != l.HasEmail() {
		return false
	}
	if f.HasWebsite != nil && *f.HasWebsite != (l.Website != "") {
		return false
	}
	return true
}

// SendOutcome is the result of one campaign send.
type SendOutcome string

// Send outcomes.
const (
	SendSent   SendOutcome = "sent"
	SendFailed SendOutcome = "failed"
)

// SendRecord is an append-only log entry for one campaign send attempt.
type SendRecord struct {
	ID         string      `json:"id"`
	Identity   string      `json:"identity"`
	TemplateID string      `json:"template_id"`
	Email      string      `json:"email"`
	SentAt     time.Time   `json:"sent_at"`
	Outcome    SendOutcome `json:"outcome"`
	Error      string      `json:"error,omitempty"`
}

// SendFilter narrows Repository.ListSends results.
type SendFilter struct {
	Identity   string
	TemplateID string
	Outcome    SendOutcome
	Since      time.Time
	Until      time.Time
}

// Matches reports whether r satisfies every set criterion of f.
func (f SendFilter) Matches(r SendRecord) bool {
	if f.Identity != "" && f.Identity != r.Identity {
		return false
	}
	if f.TemplateID != "" && f.TemplateID != r.TemplateID {
		return false
	}
	if f.Outcome != "" && f.Outcome != r.Outcome {
		return false
	}
	if !f.Since.IsZero() && r.SentAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.SentAt.Before(f.Until) {
		return false
	}
	return true
}

// Stats aggregates repository-wide counts.
type Stats struct {
	Total           int                   `json:"total"`
	WithEmail       int                   `json:"with_email"`
	Validated       int                   `json:"validated"`
	Contacted       int                   `json:"contacted"`
	ByContactStatus map[ContactStatus]int `json:"by_contact_status"`
	BySource        map[Source]int        `json:"by_source"`
	TopCountries    []CountryCount        `json:"top_countries"`
}

// CountryCount is one row of Stats.TopCountries.
type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

// Page is the content returned by a Fetcher.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Headless   bool
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
