// Package sqlite persists leads in a single-file SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/lead-finder/internal/clock/system"
	"github.com/JakeFAU/lead-finder/internal/id/uuid"
	"github.com/JakeFAU/lead-finder/internal/lead"
)

//go:embed schema.sql
var schema string

const leadColumns = `identity, id, company_name, website, country, city, phone, industry, address,
	contact_name, source, source_url, search_query, email, email_status, contact_status, score,
	first_seen, last_updated, last_contacted`

const upsertLeadSQL = `INSERT INTO leads (` + leadColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (identity) DO UPDATE SET
	company_name = excluded.company_name,
	website = excluded.website,
	country = excluded.country,
	city = excluded.city,
	phone = excluded.phone,
	industry = excluded.industry,
	address = excluded.address,
	contact_name = excluded.contact_name,
	source = excluded.source,
	source_url = excluded.source_url,
	search_query = excluded.search_query,
	email = excluded.email,
	email_status = excluded.email_status,
	contact_status = excluded.contact_status,
	score = excluded.score,
	first_seen = excluded.first_seen,
	last_updated = excluded.last_updated,
	last_contacted = excluded.last_contacted`

// Options configures a LeadStore. Zero values select defaults.
type Options struct {
	Policy       lead.MergePolicy
	Clock        lead.Clock
	IDs          lead.IDGenerator
	TopCountries int
}

// LeadStore implements lead.Repository on SQLite.
//
// The pool is limited to one connection, so every transaction, and with it
// every read-merge-write upsert, runs alone.
type LeadStore struct {
	db   *sql.DB
	opts Options
}

var _ lead.Repository = (*LeadStore)(nil)

// Open opens (or creates) the database at dsn and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, dsn string, opts Options) (*LeadStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	store, err := NewLeadStoreWithDB(ctx, db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewLeadStoreWithDB wraps an open database and applies the schema.
func NewLeadStoreWithDB(ctx context.Context, db *sql.DB, opts Options) (*LeadStore, error) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
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
	return &LeadStore{db: db, opts: opts}, nil
}

// Upsert inserts l or merges it into the stored lead with the same identity.
func (s *LeadStore) Upsert(ctx context.Context, l lead.Lead) (lead.UpsertResult, error) {
	if l.Identity == "" {
		l.Identity = lead.IdentityKey(l)
	}
	var res lead.UpsertResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := getLead(ctx, tx, l.Identity)
		switch {
		case errors.Is(err, lead.ErrNotFound):
			stored = nil
		case err != nil:
			return err
		}
		res, err = lead.Resolve(stored, l, s.opts.Policy, s.opts.Clock.Now(), s.opts.IDs)
		if err != nil {
			return err
		}
		return putLead(ctx, tx, res.Lead)
	})
	if err != nil {
		return lead.UpsertResult{}, fmt.Errorf("upsert %s: %w", l.Identity, err)
	}
	return res, nil
}

// Find returns matching leads ordered by score, then first seen.
func (s *LeadStore) Find(ctx context.Context, filter lead.Filter) ([]lead.Lead, error) {
	where, args := filterClause(filter)
	limit := -1
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query := `SELECT ` + leadColumns + ` FROM leads` + where +
		` ORDER BY score DESC, first_seen ASC, identity ASC LIMIT ? OFFSET ?`
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find leads: %w", err)
	}
	defer rows.Close()

	out := make([]lead.Lead, 0)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return out, nil
}

func filterClause(f lead.Filter) (string, []any) {
	var conds []string
	var args []any
	if len(f.Identities) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(f.Identities)), ",")
		conds = append(conds, "identity IN ("+marks+")")
		for _, id := range f.Identities {
			args = append(args, id)
		}
	}
	if f.Country != "" {
		conds = append(conds, "lower(country) = lower(?)")
		args = append(args, f.Country)
	}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, string(f.Source))
	}
	if f.EmailStatus != "" {
		conds = append(conds, "email_status = ?")
		args = append(args, string(f.EmailStatus))
	}
	if f.ContactStatus != "" {
		conds = append(conds, "contact_status = ?")
		args = append(args, string(f.ContactStatus))
	}
	if f.HasEmail != nil {
		conds = append(conds, presence("email", *f.HasEmail))
	}
	if f.HasWebsite != nil {
		conds = append(conds, presence("website", *f.HasWebsite))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func presence(column string, present bool) string {
	if present {
		return column + " <> ''"
	}
	return column + " = ''"
}

// Get returns the lead stored under identity.
func (s *LeadStore) Get(ctx context.Context, identity string) (lead.Lead, error) {
	l, err := getLead(ctx, s.db, identity)
	if err != nil {
		return lead.Lead{}, fmt.Errorf("get %s: %w", identity, err)
	}
	return *l, nil
}

// UpdateEmail overwrites the email and status of a lead.
func (s *LeadStore) UpdateEmail(ctx context.Context, identity, email string, status lead.EmailStatus) error {
	return s.modify(ctx, identity, func(l lead.Lead) (lead.Lead, error) {
		return lead.WithEmail(l, email, status, s.opts.Clock.Now())
	})
}

// UpdateContactStatus moves a lead through the contact lifecycle.
func (s *LeadStore) UpdateContactStatus(ctx context.Context, identity string, status lead.ContactStatus) error {
	return s.modify(ctx, identity, func(l lead.Lead) (lead.Lead, error) {
		return lead.WithContactStatus(l, status, s.opts.Clock.Now())
	})
}

func (s *LeadStore) modify(ctx context.Context, identity string, fn func(lead.Lead) (lead.Lead, error)) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := getLead(ctx, tx, identity)
		if err != nil {
			return err
		}
		updated, err := fn(*stored)
		if err != nil {
			return err
		}
		return putLead(ctx, tx, updated)
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", identity, err)
	}
	return nil
}

// AppendSend records a send attempt for an existing lead.
func (s *LeadStore) AppendSend(ctx context.Context, record lead.SendRecord) error {
	if record.ID == "" {
		id, err := s.opts.IDs.NewID()
		if err != nil {
			return fmt.Errorf("assign send id: %w", err)
		}
		record.ID = id
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM leads WHERE identity = ?`, record.Identity).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return lead.ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO campaign_sends (id, identity, template_id, email, sent_at, outcome, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			record.ID, record.Identity, record.TemplateID, record.Email,
			toNanos(record.SentAt), string(record.Outcome), record.Error,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append send for %s: %w", record.Identity, err)
	}
	return nil
}

// ListSends returns matching send records oldest first.
func (s *LeadStore) ListSends(ctx context.Context, filter lead.SendFilter) ([]lead.SendRecord, error) {
	var conds []string
	var args []any
	if filter.Identity != "" {
		conds = append(conds, "identity = ?")
		args = append(args, filter.Identity)
	}
	if filter.TemplateID != "" {
		conds = append(conds, "template_id = ?")
		args = append(args, filter.TemplateID)
	}
	if filter.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "sent_at >= ?")
		args = append(args, toNanos(filter.Since))
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "sent_at < ?")
		args = append(args, toNanos(filter.Until))
	}
	query := `SELECT id, identity, template_id, email, sent_at, outcome, error FROM campaign_sends`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sent_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sends: %w", err)
	}
	defer rows.Close()

	out := make([]lead.SendRecord, 0)
	for rows.Next() {
		var r lead.SendRecord
		var sentAt int64
		var outcome string
		if err := rows.Scan(&r.ID, &r.Identity, &r.TemplateID, &r.Email, &sentAt, &outcome, &r.Error); err != nil {
			return nil, fmt.Errorf("scan send: %w", err)
		}
		r.SentAt = fromNanos(sentAt)
		r.Outcome = lead.SendOutcome(outcome)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sends: %w", err)
	}
	return out, nil
}

// CountSends counts records with since <= SentAt < until, whatever the outcome.
func (s *LeadStore) CountSends(ctx context.Context, since, until time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_sends WHERE sent_at >= ? AND sent_at < ?`,
		toNanos(since), toNanos(until),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sends: %w", err)
	}
	return n, nil
}

// Stats aggregates a snapshot of all leads.
func (s *LeadStore) Stats(ctx context.Context) (lead.Stats, error) {
	leads, err := s.Find(ctx, lead.Filter{})
	if err != nil {
		return lead.Stats{}, err
	}
	return lead.ComputeStats(leads, s.opts.TopCountries), nil
}

// Ping checks the database connection.
func (s *LeadStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *LeadStore) Close() error {
	return s.db.Close()
}

func (s *LeadStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getLead(ctx context.Context, q queryer, identity string) (*lead.Lead, error) {
	row := q.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE identity = ?`, identity)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lead.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func putLead(ctx context.Context, tx *sql.Tx, l lead.Lead) error {
	var lastContacted sql.NullInt64
	if l.LastContacted != nil {
		lastContacted = sql.NullInt64{Int64: toNanos(*l.LastContacted), Valid: true}
	}
	_, err := tx.ExecContext(ctx, upsertLeadSQL,
		l.Identity, l.ID, l.CompanyName, l.Website, l.Country, l.City, l.Phone, l.Industry, l.Address,
		l.ContactName, string(l.Source), l.SourceURL, l.SearchQuery, l.Email, string(l.EmailStatus),
		string(l.ContactStatus), l.Score, toNanos(l.FirstSeen), toNanos(l.LastUpdated), lastContacted,
	)
	if err != nil {
		return fmt.Errorf("write lead: %w", err)
	}
	return nil
}

func scanLead(row scanner) (lead.Lead, error) {
	var (
		l                                  lead.Lead
		source, emailStatus, contactStatus string
		firstSeen, lastUpdated             int64
		lastContacted                      sql.NullInt64
	)
	err := row.Scan(
		&l.Identity, &l.ID, &l.CompanyName, &l.Website, &l.Country, &l.City, &l.Phone, &l.Industry, &l.Address,
		&l.ContactName, &source, &l.SourceURL, &l.SearchQuery, &l.Email, &emailStatus, &contactStatus, &l.Score,
		&firstSeen, &lastUpdated, &lastContacted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lead.Lead{}, err
		}
		return lead.Lead{}, fmt.Errorf("scan lead: %w", err)
	}
	l.Source = lead.Source(source)
	l.EmailStatus = lead.EmailStatus(emailStatus)
	l.ContactStatus = lead.ContactStatus(contactStatus)
	l.FirstSeen = fromNanos(firstSeen)
	l.LastUpdated = fromNanos(lastUpdated)
	if lastContacted.Valid {
		t := fromNanos(lastContacted.Int64)
		l.LastContacted = &t
	}
	return l, nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
