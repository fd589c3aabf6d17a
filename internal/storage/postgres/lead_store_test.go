package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

var (
	testNow   = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	testEarly = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	noTime    *time.Time
	columns   = []string{
		"identity", "id", "company_name", "website", "country", "city", "phone", "industry", "address",
		"contact_name", "source", "source_url", "search_query", "email", "email_status", "contact_status",
		"score", "first_seen", "last_updated", "last_contacted",
	}
)

func newMockStore(t *testing.T) (*LeadStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewLeadStoreWithPool(mock, LeadStoreConfig{}, Options{
		Clock: fixedClock{now: testNow},
		IDs:   staticIDs{id: "0190b2a4-0000-7000-8000-000000000001"},
	})
	require.NoError(t, err)
	return store, mock
}

func storedRow() *pgxmock.Rows {
	return pgxmock.NewRows(columns).AddRow(
		"acme-textiles.com", "0190b2a4-0000-7000-8000-00000000000a", "Acme Textiles", "https://acme-textiles.com",
		"Germany", "Berlin", "", "Textiles", "", "",
		"directory-europages", "https://www.europages.co.uk/acme", "textile importer Germany", "", "unknown", "new",
		20, testEarly, testEarly, noTime,
	)
}

func TestNewLeadStoreWithPoolValidation(t *testing.T) {
	t.Parallel()
	_, err := NewLeadStoreWithPool(nil, LeadStoreConfig{}, Options{})
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewLeadStoreWithPool(mock, LeadStoreConfig{LeadsTable: "leads; drop"}, Options{})
	require.ErrorContains(t, err, "invalid table name")

	store, err := NewLeadStoreWithPool(mock, LeadStoreConfig{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "leads", store.leads)
	assert.Equal(t, "campaign_sends", store.sends)
	assert.Equal(t, lead.MergeFirstWriter, store.opts.Policy)
	assert.Equal(t, 10, store.opts.TopCountries)
}

func TestNewLeadStoreRequiresDSN(t *testing.T) {
	t.Parallel()
	_, err := NewLeadStore(context.Background(), LeadStoreConfig{}, Options{})
	require.ErrorContains(t, err, "dsn is required")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS leads").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInsertsNewLead(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("nordic-trade.se").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FROM leads WHERE identity = .+ FOR UPDATE").WithArgs("nordic-trade.se").
		WillReturnRows(pgxmock.NewRows(columns))
	mock.ExpectExec("INSERT INTO leads").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := store.Upsert(context.Background(), lead.Lead{
		CompanyName: "Nordic Trade AB",
		Website:     "https://www.nordic-trade.se/",
		Country:     "Sweden",
		Source:      lead.SourceSearch,
	})
	require.NoError(t, err)
	assert.Equal(t, lead.Inserted, res.Outcome)
	assert.Equal(t, "nordic-trade.se", res.Lead.Identity)
	assert.Equal(t, "0190b2a4-0000-7000-8000-000000000001", res.Lead.ID)
	assert.Equal(t, testNow, res.Lead.FirstSeen)
	assert.Equal(t, lead.ContactNew, res.Lead.ContactStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMergesStoredLead(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("acme-textiles.com").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FOR UPDATE").WithArgs("acme-textiles.com").WillReturnRows(storedRow())
	mock.ExpectExec("INSERT INTO leads .+ ON CONFLICT").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := store.Upsert(context.Background(), lead.Lead{
		CompanyName: "ACME TEXTILES GMBH",
		Website:     "https://acme-textiles.com",
		Country:     "Germany",
		City:        "Hamburg",
		Phone:       "+49 30 1234567",
		Email:       "sales@acme-textiles.com",
		EmailStatus: lead.EmailMXConfirmed,
		Source:      lead.SourceSearch,
	})
	require.NoError(t, err)
	assert.Equal(t, lead.Merged, res.Outcome)
	assert.Equal(t, "0190b2a4-0000-7000-8000-00000000000a", res.Lead.ID)
	assert.Equal(t, "Acme Textiles", res.Lead.CompanyName)
	assert.Equal(t, "Berlin", res.Lead.City)
	assert.Equal(t, "+49 30 1234567", res.Lead.Phone)
	assert.Equal(t, "sales@acme-textiles.com", res.Lead.Email)
	assert.Equal(t, lead.EmailMXConfirmed, res.Lead.EmailStatus)
	assert.Equal(t, testEarly, res.Lead.FirstSeen)
	assert.Equal(t, testNow, res.Lead.LastUpdated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRollsBackOnWriteError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(pgxmock.NewRows(columns))
	mock.ExpectExec("INSERT INTO leads").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.Upsert(context.Background(), lead.Lead{CompanyName: "Acme", Website: "acme.com", Source: lead.SourceSearch})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM leads WHERE identity").WithArgs("acme-textiles.com").WillReturnRows(storedRow())
	mock.ExpectQuery("FROM leads WHERE identity").WithArgs("ghost.com").WillReturnRows(pgxmock.NewRows(columns))

	got, err := store.Get(context.Background(), "acme-textiles.com")
	require.NoError(t, err)
	assert.Equal(t, "Acme Textiles", got.CompanyName)
	assert.Equal(t, lead.SourceEuropages, got.Source)
	assert.Equal(t, lead.EmailUnknown, got.EmailStatus)
	assert.Nil(t, got.LastContacted)

	_, err = store.Get(context.Background(), "ghost.com")
	require.ErrorIs(t, err, lead.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindBuildsFilter(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	hasEmail := true

	mock.ExpectQuery(`WHERE lower\(country\) = lower\(\$1\) AND source = \$2 AND email <> '' ORDER BY score DESC, first_seen ASC, identity ASC LIMIT \$3 OFFSET \$4`).
		WithArgs("germany", "directory-europages", 10, 5).
		WillReturnRows(storedRow())

	leads, err := store.Find(context.Background(), lead.Filter{
		Country:  "germany",
		Source:   lead.SourceEuropages,
		HasEmail: &hasEmail,
		Limit:    10,
		Offset:   5,
	})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "acme-textiles.com", leads[0].Identity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFilterClause(t *testing.T) {
	t.Parallel()
	noSite := false
	where, args := filterClause(lead.Filter{
		Identities:    []string{"a.com", "b.com"},
		ContactStatus: lead.ContactEnriched,
		HasWebsite:    &noSite,
	})
	assert.Equal(t, " WHERE identity = ANY($1) AND contact_status = $2 AND website = ''", where)
	assert.Equal(t, []any{[]string{"a.com", "b.com"}, "enriched"}, args)

	where, args = filterClause(lead.Filter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestUpdateEmailNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("ghost.com").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FOR UPDATE").WithArgs("ghost.com").WillReturnRows(pgxmock.NewRows(columns))
	mock.ExpectRollback()

	err := store.UpdateEmail(context.Background(), "ghost.com", "info@ghost.com", lead.EmailMXConfirmed)
	require.ErrorIs(t, err, lead.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateContactStatusWritesRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("acme-textiles.com").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FOR UPDATE").WithArgs("acme-textiles.com").WillReturnRows(storedRow())
	mock.ExpectExec("INSERT INTO leads").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpdateContactStatus(context.Background(), "acme-textiles.com", lead.ContactContacted))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendSend(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO campaign_sends .+ WHERE EXISTS").
		WithArgs("0190b2a4-0000-7000-8000-000000000001", "acme-textiles.com", "initial_contact", "sales@acme-textiles.com",
			testNow, "sent", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO campaign_sends").WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.AppendSend(context.Background(), lead.SendRecord{
		Identity:   "acme-textiles.com",
		TemplateID: "initial_contact",
		Email:      "sales@acme-textiles.com",
		SentAt:     testNow,
		Outcome:    lead.SendSent,
	}))

	err := store.AppendSend(context.Background(), lead.SendRecord{ID: "s2", Identity: "ghost.com", SentAt: testNow, Outcome: lead.SendFailed})
	require.ErrorIs(t, err, lead.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAndCountSends(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	since := testNow.Truncate(24 * time.Hour)
	until := since.Add(24 * time.Hour)

	mock.ExpectQuery(`FROM campaign_sends WHERE identity = \$1 AND sent_at >= \$2 ORDER BY sent_at ASC, id ASC`).
		WithArgs("acme-textiles.com", since).
		WillReturnRows(pgxmock.NewRows([]string{"id", "identity", "template_id", "email", "sent_at", "outcome", "error"}).
			AddRow("s1", "acme-textiles.com", "initial_contact", "sales@acme-textiles.com", testNow, "failed", "451 try later"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM campaign_sends`).WithArgs(since, until).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	records, err := store.ListSends(context.Background(), lead.SendFilter{Identity: "acme-textiles.com", Since: since})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, lead.SendFailed, records[0].Outcome)
	assert.Equal(t, "451 try later", records[0].Error)

	n, err := store.CountSends(context.Background(), since, until)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(`COUNT\(\*\) FILTER`).
		WillReturnRows(pgxmock.NewRows([]string{"total", "with_email", "validated", "contacted"}).AddRow(5, 3, 2, 1))
	mock.ExpectQuery("GROUP BY contact_status").
		WillReturnRows(pgxmock.NewRows([]string{"contact_status", "count"}).AddRow("new", 4).AddRow("contacted", 1))
	mock.ExpectQuery("GROUP BY source").
		WillReturnRows(pgxmock.NewRows([]string{"source", "count"}).AddRow("search", 5))
	mock.ExpectQuery("GROUP BY country").WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"country", "count"}).AddRow("Germany", 3).AddRow("Turkey", 2))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 3, stats.WithEmail)
	assert.Equal(t, 2, stats.Validated)
	assert.Equal(t, 1, stats.Contacted)
	assert.Equal(t, 4, stats.ByContactStatus[lead.ContactNew])
	assert.Equal(t, 5, stats.BySource[lead.SourceSearch])
	assert.Equal(t, []lead.CountryCount{{Country: "Germany", Count: 3}, {Country: "Turkey", Count: 2}}, stats.TopCountries)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingAndClose(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	var nilStore *LeadStore
	assert.NoError(t, nilStore.Close())
}
