// Package postgres provides the Postgres-backed lead repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/lead-finder/internal/clock/system"
	"github.com/JakeFAU/lead-finder/internal/id/uuid"
	"github.com/JakeFAU/lead-finder/internal/lead"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LeadStoreConfig controls the Postgres connection pool and table names.
type LeadStoreConfig struct {
	DSN             string
	LeadsTable      string
	SendsTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Options configures merge behavior. Zero values select defaults.
type Options struct {
	Policy       lead.MergePolicy
	Clock        lead.Clock
	IDs          lead.IDGenerator
	TopCountries int
}

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// LeadStore implements lead.Repository on Postgres.
//
// Writes for one identity serialize on a transaction-scoped advisory lock
// keyed by the identity, then re-read the row FOR UPDATE before merging.
type LeadStore struct {
	pool  pool
	leads string
	sends string
	opts  Options
}

var _ lead.Repository = (*LeadStore)(nil)

// NewLeadStore connects to Postgres and ensures the schema exists.
func NewLeadStore(ctx context.Context, cfg LeadStoreConfig, opts Options) (*LeadStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewLeadStoreWithPool(p, cfg, opts)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewLeadStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewLeadStoreWithPool(p pool, cfg LeadStoreConfig, opts Options) (*LeadStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	leadsTable, sendsTable := cfg.LeadsTable, cfg.SendsTable
	if leadsTable == "" {
		leadsTable = "leads"
	}
	if sendsTable == "" {
		sendsTable = "campaign_sends"
	}
	for _, table := range []string{leadsTable, sendsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
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
	return &LeadStore{pool: p, leads: leadsTable, sends: sendsTable, opts: opts}, nil
}

// EnsureSchema creates the tables when missing.
func (s *LeadStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	identity       TEXT PRIMARY KEY,
	id             UUID NOT NULL UNIQUE,
	company_name   TEXT NOT NULL,
	website        TEXT NOT NULL DEFAULT '',
	country        TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	phone          TEXT NOT NULL DEFAULT '',
	industry       TEXT NOT NULL DEFAULT '',
	address        TEXT NOT NULL DEFAULT '',
	contact_name   TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL,
	source_url     TEXT NOT NULL DEFAULT '',
	search_query   TEXT NOT NULL DEFAULT '',
	email          TEXT NOT NULL DEFAULT '',
	email_status   TEXT NOT NULL,
	contact_status TEXT NOT NULL,
	score          INTEGER NOT NULL DEFAULT 0,
	first_seen     TIMESTAMPTZ NOT NULL,
	last_updated   TIMESTAMPTZ NOT NULL,
	last_contacted TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS %[1]s_country_idx ON %[1]s (lower(country));
CREATE INDEX IF NOT EXISTS %[1]s_score_idx ON %[1]s (score DESC, first_seen);
CREATE TABLE IF NOT EXISTS %[2]s (
	id          UUID PRIMARY KEY,
	identity    TEXT NOT NULL REFERENCES %[1]s (identity),
	template_id TEXT NOT NULL,
	email       TEXT NOT NULL,
	sent_at     TIMESTAMPTZ NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS %[2]s_sent_at_idx ON %[2]s (sent_at);
CREATE INDEX IF NOT EXISTS %[2]s_identity_idx ON %[2]s (identity, template_id);`, s.leads, s.sends)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const leadColumns = `identity, id, company_name, website, country, city, phone, industry, address,
	contact_name, source, source_url, search_query, email, email_status, contact_status, score,
	first_seen, last_updated, last_contacted`

func (s *LeadStore) upsertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (`+leadColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (identity) DO UPDATE SET
	company_name = EXCLUDED.company_name,
	website = EXCLUDED.website,
	country = EXCLUDED.country,
	city = EXCLUDED.city,
	phone = EXCLUDED.phone,
	industry = EXCLUDED.industry,
	address = EXCLUDED.address,
	contact_name = EXCLUDED.contact_name,
	source = EXCLUDED.source,
	source_url = EXCLUDED.source_url,
	search_query = EXCLUDED.search_query,
	email = EXCLUDED.email,
	email_status = EXCLUDED.email_status,
	contact_status = EXCLUDED.contact_status,
	score = EXCLUDED.score,
	first_seen = EXCLUDED.first_seen,
	last_updated = EXCLUDED.last_updated,
	last_contacted = EXCLUDED.last_contacted`, s.leads)
}

// Upsert inserts l or merges it into the stored lead with the same identity.
func (s *LeadStore) Upsert(ctx context.Context, l lead.Lead) (lead.UpsertResult, error) {
	if l.Identity == "" {
		l.Identity = lead.IdentityKey(l)
	}
	var res lead.UpsertResult
	err := s.lockedTx(ctx, l.Identity, func(tx pgx.Tx, stored *lead.Lead) error {
		var err error
		res, err = lead.Resolve(stored, l, s.opts.Policy, s.opts.Clock.Now(), s.opts.IDs)
		if err != nil {
			return err
		}
		return s.put(ctx, tx, res.Lead)
	})
	if err != nil {
		return lead.UpsertResult{}, fmt.Errorf("upsert %s: %w", l.Identity, err)
	}
	return res, nil
}

// lockedTx runs fn in a transaction holding the identity's advisory lock,
// passing the current row or nil.
func (s *LeadStore) lockedTx(ctx context.Context, identity string, fn func(pgx.Tx, *lead.Lead) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, identity); err != nil {
		return fmt.Errorf("lock identity: %w", err)
	}
	row := tx.QueryRow(ctx, `SELECT `+leadColumns+` FROM `+s.leads+` WHERE identity = $1 FOR UPDATE`, identity)
	stored, err := scanLead(row)
	var current *lead.Lead
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return err
	default:
		current = &stored
	}
	if err := fn(tx, current); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *LeadStore) put(ctx context.Context, tx pgx.Tx, l lead.Lead) error {
	_, err := tx.Exec(ctx, s.upsertSQL(),
		l.Identity, l.ID, l.CompanyName, l.Website, l.Country, l.City, l.Phone, l.Industry, l.Address,
		l.ContactName, string(l.Source), l.SourceURL, l.SearchQuery, l.Email, string(l.EmailStatus),
		string(l.ContactStatus), l.Score, l.FirstSeen, l.LastUpdated, l.LastContacted,
	)
	if err != nil {
		return fmt.Errorf("write lead: %w", err)
	}
	return nil
}

// Find returns matching leads ordered by score, then first seen.
func (s *LeadStore) Find(ctx context.Context, filter lead.Filter) ([]lead.Lead, error) {
	where, args := filterClause(filter)
	query := `SELECT ` + leadColumns + ` FROM ` + s.leads + where +
		` ORDER BY score DESC, first_seen ASC, identity ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find leads: %w", err)
	}
	leads, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (lead.Lead, error) {
		return scanLead(row)
	})
	if err != nil {
		return nil, fmt.Errorf("collect leads: %w", err)
	}
	return leads, nil
}

func filterClause(f lead.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if len(f.Identities) > 0 {
		add("identity = ANY($%d)", f.Identities)
	}
	if f.Country != "" {
		add("lower(country) = lower($%d)", f.Country)
	}
	if f.Source != "" {
		add("source = $%d", string(f.Source))
	}
	if f.EmailStatus != "" {
		add("email_status = $%d", string(f.EmailStatus))
	}
	if f.ContactStatus != "" {
		add("contact_status = $%d", string(f.ContactStatus))
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
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM `+s.leads+` WHERE identity = $1`, identity)
	l, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return lead.Lead{}, fmt.Errorf("get %s: %w", identity, lead.ErrNotFound)
	}
	if err != nil {
		return lead.Lead{}, fmt.Errorf("get %s: %w", identity, err)
	}
	return l, nil
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
	err := s.lockedTx(ctx, identity, func(tx pgx.Tx, stored *lead.Lead) error {
		if stored == nil {
			return lead.ErrNotFound
		}
		updated, err := fn(*stored)
		if err != nil {
			return err
		}
		return s.put(ctx, tx, updated)
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
	query := fmt.Sprintf(`INSERT INTO %s (id, identity, template_id, email, sent_at, outcome, error)
SELECT $1, $2, $3, $4, $5, $6, $7
WHERE EXISTS (SELECT 1 FROM %s WHERE identity = $2)`, s.sends, s.leads)
	tag, err := s.pool.Exec(ctx, query,
		record.ID, record.Identity, record.TemplateID, record.Email,
		record.SentAt, string(record.Outcome), record.Error,
	)
	if err != nil {
		return fmt.Errorf("append send for %s: %w", record.Identity, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("append send for %s: %w", record.Identity, lead.ErrNotFound)
	}
	return nil
}

// ListSends returns matching send records oldest first.
func (s *LeadStore) ListSends(ctx context.Context, filter lead.SendFilter) ([]lead.SendRecord, error) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Identity != "" {
		add("identity = $%d", filter.Identity)
	}
	if filter.TemplateID != "" {
		add("template_id = $%d", filter.TemplateID)
	}
	if filter.Outcome != "" {
		add("outcome = $%d", string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		add("sent_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("sent_at < $%d", filter.Until)
	}
	query := `SELECT id, identity, template_id, email, sent_at, outcome, error FROM ` + s.sends
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sent_at ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sends: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (lead.SendRecord, error) {
		var r lead.SendRecord
		var outcome string
		if err := row.Scan(&r.ID, &r.Identity, &r.TemplateID, &r.Email, &r.SentAt, &outcome, &r.Error); err != nil {
			return r, err
		}
		r.SentAt = r.SentAt.UTC()
		r.Outcome = lead.SendOutcome(outcome)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect sends: %w", err)
	}
	return records, nil
}

// CountSends counts records with since <= SentAt < until, whatever the outcome.
func (s *LeadStore) CountSends(ctx context.Context, since, until time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+s.sends+` WHERE sent_at >= $1 AND sent_at < $2`, since, until,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sends: %w", err)
	}
	return n, nil
}

// Stats aggregates lead counts in the database.
func (s *LeadStore) Stats(ctx context.Context) (lead.Stats, error) {
	stats := lead.Stats{
		ByContactStatus: make(map[lead.ContactStatus]int),
		BySource:        make(map[lead.Source]int),
	}
	err := s.pool.QueryRow(ctx, `SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE email <> ''),
	COUNT(*) FILTER (WHERE email_status = $1),
	COUNT(*) FILTER (WHERE contact_status = ANY($2))
FROM `+s.leads,
		string(lead.EmailMXConfirmed),
		[]string{string(lead.ContactContacted), string(lead.ContactReplied), string(lead.ContactBounced)},
	).Scan(&stats.Total, &stats.WithEmail, &stats.Validated, &stats.Contacted)
	if err != nil {
		return lead.Stats{}, fmt.Errorf("count leads: %w", err)
	}

	byStatus, err := s.groupCounts(ctx, `SELECT contact_status, COUNT(*) FROM `+s.leads+` GROUP BY contact_status`)
	if err != nil {
		return lead.Stats{}, err
	}
	for _, gc := range byStatus {
		stats.ByContactStatus[lead.ContactStatus(gc.key)] = gc.count
	}

	bySource, err := s.groupCounts(ctx, `SELECT source, COUNT(*) FROM `+s.leads+` GROUP BY source`)
	if err != nil {
		return lead.Stats{}, err
	}
	for _, gc := range bySource {
		stats.BySource[lead.Source(gc.key)] = gc.count
	}

	countries, err := s.groupCounts(ctx, `SELECT country, COUNT(*) FROM `+s.leads+`
WHERE country <> '' GROUP BY country ORDER BY COUNT(*) DESC, country ASC LIMIT $1`, s.opts.TopCountries)
	if err != nil {
		return lead.Stats{}, err
	}
	stats.TopCountries = make([]lead.CountryCount, 0, len(countries))
	for _, gc := range countries {
		stats.TopCountries = append(stats.TopCountries, lead.CountryCount{Country: gc.key, Count: gc.count})
	}
	return stats, nil
}

type groupCount struct {
	key   string
	count int
}

func (s *LeadStore) groupCounts(ctx context.Context, query string, args ...any) ([]groupCount, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("group counts: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (groupCount, error) {
		var gc groupCount
		err := row.Scan(&gc.key, &gc.count)
		return gc, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect group counts: %w", err)
	}
	return out, nil
}

// Ping checks connectivity.
func (s *LeadStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *LeadStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func scanLead(row pgx.Row) (lead.Lead, error) {
	var (
		l                                  lead.Lead
		source, emailStatus, contactStatus string
	)
	err := row.Scan(
		&l.Identity, &l.ID, &l.CompanyName, &l.Website, &l.Country, &l.City, &l.Phone, &l.Industry, &l.Address,
		&l.ContactName, &source, &l.SourceURL, &l.SearchQuery, &l.Email, &emailStatus, &contactStatus, &l.Score,
		&l.FirstSeen, &l.LastUpdated, &l.LastContacted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lead.Lead{}, err
		}
		return lead.Lead{}, fmt.Errorf("scan lead: %w", err)
	}
	l.Source = lead.Source(source)
	l.EmailStatus = lead.EmailStatus(emailStatus)
	l.ContactStatus = lead.ContactStatus(contactStatus)
	l.FirstSeen = l.FirstSeen.UTC()
	l.LastUpdated = l.LastUpdated.UTC()
	if l.LastContacted != nil {
		t := l.LastContacted.UTC()
		l.LastContacted = &t
	}
	return l, nil
}
