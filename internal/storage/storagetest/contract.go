// Package storagetest holds the behavioral contract every lead.Repository
// backend must satisfy.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

// Factory builds an empty repository using policy. It must register cleanup.
type Factory func(t *testing.T, policy lead.MergePolicy) lead.Repository

// Run executes the repository contract against factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("insert then merge", func(t *testing.T) { testInsertThenMerge(t, factory) })
	t.Run("concurrent upserts keep most validated email", func(t *testing.T) { testConcurrentEmails(t, factory) })
	t.Run("concurrent cities first writer", func(t *testing.T) { testConcurrentCities(t, factory, lead.MergeFirstWriter) })
	t.Run("concurrent cities combine", func(t *testing.T) { testConcurrentCities(t, factory, lead.MergeCombine) })
	t.Run("find filters and pages", func(t *testing.T) { testFind(t, factory) })
	t.Run("status updates", func(t *testing.T) { testUpdates(t, factory) })
	t.Run("send log", func(t *testing.T) { testSends(t, factory) })
	t.Run("stats", func(t *testing.T) { testStats(t, factory) })
}

func testInsertThenMerge(t *testing.T, factory Factory) {
	repo := factory(t, lead.MergeFirstWriter)
	ctx := context.Background()

	res, err := repo.Upsert(ctx, lead.Lead{
		CompanyName: "Nordic Textil GmbH",
		Website:     "https://www.nordic-textil.de",
		Country:     "Germany",
		Source:      lead.SourceSearch,
	})
	require.NoError(t, err)
	require.Equal(t, lead.Inserted, res.Outcome)
	require.NotEmpty(t, res.Lead.ID)
	require.Equal(t, "nordic-textil.de", res.Lead.Identity)

	res2, err := repo.Upsert(ctx, lead.Lead{
		CompanyName: "NORDIC",
		Website:     "nordic-textil.de/contact",
		Phone:       "+49 40 1234567",
		Source:      lead.SourceEuropages,
	})
	require.NoError(t, err)
	require.Equal(t, lead.Merged, res2.Outcome)
	require.Equal(t, res.Lead.ID, res2.Lead.ID)

	got, err := repo.Get(ctx, "nordic-textil.de")
	require.NoError(t, err)
	require.Equal(t, "Nordic Textil GmbH", got.CompanyName)
	require.Equal(t, "+49 40 1234567", got.Phone)
	require.Equal(t, lead.SourceSearch, got.Source)
	require.Equal(t, lead.ContactNew, got.ContactStatus)
	require.Equal(t, lead.EmailUnknown, got.EmailStatus)
	require.False(t, got.LastUpdated.Before(got.FirstSeen))

	_, err = repo.Get(ctx, "missing.example")
	require.ErrorIs(t, err, lead.ErrNotFound)

	all, err := repo.Find(ctx, lead.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func testConcurrentEmails(t *testing.T, factory Factory) {
	repo := factory(t, lead.MergeFirstWriter)
	ctx := context.Background()

	contributions := []lead.Lead{
		{CompanyName: "Acme", Website: "acme-textiles.com"},
		{CompanyName: "Acme", Website: "acme-textiles.com", Email: "info@acme-textiles.com", EmailStatus: lead.EmailUnknown},
		{CompanyName: "Acme", Website: "acme-textiles.com", Email: "bad@acme-textiles.com", EmailStatus: lead.EmailInvalid},
		{CompanyName: "Acme", Website: "acme-textiles.com", Email: "sales@acme-textiles.com", EmailStatus: lead.EmailMXConfirmed},
		{CompanyName: "Acme", Website: "acme-textiles.com", Email: "hello@acme-textiles.com", EmailStatus: lead.EmailSyntacticallyValid},
	}

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func(l lead.Lead) {
			defer wg.Done()
			_, err := repo.Upsert(ctx, l)
			assert.NoError(t, err)
		}(contributions[i%len(contributions)])
	}
	wg.Wait()

	all, err := repo.Find(ctx, lead.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "sales@acme-textiles.com", all[0].Email)
	require.Equal(t, lead.EmailMXConfirmed, all[0].EmailStatus)
}

func testConcurrentCities(t *testing.T, factory Factory, policy lead.MergePolicy) {
	repo := factory(t, policy)
	ctx := context.Background()

	cities := []string{"Istanbul", "Bursa"}
	var wg sync.WaitGroup
	for _, city := range cities {
		wg.Add(1)
		go func(city string) {
			defer wg.Done()
			_, err := repo.Upsert(ctx, lead.Lead{
				CompanyName: "Acme Textiles",
				Website:     "https://acme-textiles.com",
				Country:     "Turkey",
				City:        city,
				Source:      lead.SourceSearch,
			})
			assert.NoError(t, err)
		}(city)
	}
	wg.Wait()

	all, err := repo.Find(ctx, lead.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	if policy == lead.MergeCombine {
		require.Contains(t, []string{"Istanbul, Bursa", "Bursa, Istanbul"}, all[0].City)
	} else {
		require.Contains(t, cities, all[0].City)
	}
}

func testFind(t *testing.T, factory Factory) {
	repo := factory(t, lead.MergeFirstWriter)
	ctx := context.Background()

	seed := []lead.Lead{
		{CompanyName: "Nordic Textile Import", Website: "nordic.de", Country: "Germany", Source: lead.SourceSearch,
			Email: "sales@nordic.de", EmailStatus: lead.EmailMXConfirmed, Phone: "+49 40 1"},
		{CompanyName: "Berlin Mode", Website: "berlin-mode.de", Country: "Germany", Source: lead.SourceEuropages},
		{CompanyName: "Lyon Soieries", Country: "France", Source: lead.SourceKompass, Email: "info@lyon.fr"},
	}
	for _, l := range seed {
		_, err := repo.Upsert(ctx, l)
		require.NoError(t, err)
	}

	yes, no := true, false
	germany, err := repo.Find(ctx, lead.Filter{Country: "germany"})
	require.NoError(t, err)
	require.Len(t, germany, 2)
	require.Equal(t, "nordic.de", germany[0].Identity, "highest score first")

	withEmail, err := repo.Find(ctx, lead.Filter{HasEmail: &yes})
	require.NoError(t, err)
	require.Len(t, withEmail, 2)

	noWebsite, err := repo.Find(ctx, lead.Filter{HasWebsite: &no})
	require.NoError(t, err)
	require.Len(t, noWebsite, 1)
	require.Equal(t, "name:lyon soieries|france", noWebsite[0].Identity)

	confirmed, err := repo.Find(ctx, lead.Filter{EmailStatus: lead.EmailMXConfirmed, Source: lead.SourceSearch})
	require.NoError(t, err)
	require.Len(t, confirmed, 1)

	byID, err := repo.Find(ctx, lead.Filter{Identities: []string{"berlin-mode.de", "unknown.de"}})
	require.NoError(t, err)
	require.Len(t, byID, 1)

	page1, err := repo.Find(ctx, lead.Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	page2, err := repo.Find(ctx, lead.Filter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page2, 1)
	require.NotContains(t, []string{page1[0].Identity, page1[1].Identity}, page2[0].Identity)

	none, err := repo.Find(ctx, lead.Filter{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, none)
}

func testUpdates(t *testing.T, factory Factory) {
	repo := factory(t, lead.MergeFirstWriter)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, lead.Lead{CompanyName: "Acme", Website: "acme.com", Email: "info@acme.com"})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateEmail(ctx, "acme.com", "sales@acme.com", lead.EmailMXConfirmed))
	got, err := repo.Get(ctx, "acme.com")
	require.NoError(t, err)
	require.Equal(t, "sales@acme.com", got.Email)
	require.Equal(t, lead.EmailMXConfirmed, got.EmailStatus)

	require.NoError(t, repo.UpdateEmail(ctx, "acme.com", "sales@acme.com", lead.EmailInvalid))
	got, err = repo.Get(ctx, "acme.com")
	require.NoError(t, err)
	require.Equal(t, lead.EmailInvalid, got.EmailStatus)

	require.NoError(t, repo.UpdateContactStatus(ctx, "acme.com", lead.ContactContacted))
	got, err = repo.Get(ctx, "acme.com")
	require.NoError(t, err)
	require.Equal(t, lead.ContactContacted, got.ContactStatus)
	require.NotNil(t, got.LastContacted)

	require.ErrorIs(t, repo.UpdateEmail(ctx, "nope.com", "a@nope.com", lead.EmailUnknown), lead.ErrNotFound)
	require.ErrorIs(t, repo.UpdateContactStatus(ctx, "nope.com", lead.ContactReplied), lead.ErrNotFound)
	require.Error(t, repo.UpdateContactStatus(ctx, "acme.com", "lost"))
	require.Error(t, repo.UpdateEmail(ctx, "acme.com", "a@acme.com", "great"))
}

func testSends(t *testing.T, factory Factory) {
	repo := factory(t, lead.MergeFirstWriter)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, lead.Lead{CompanyName: "Acme", Website: "acme.com"})
	require.NoError(t, err)

	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	records := []lead.SendRecord{
		{ID: "s1", Identity: "acme.com", TemplateID: "initial_contact", Email: "a@acme.com", SentAt: day.Add(-time.Minute), Outcome: lead.SendSent},
		{ID: "s2", Identity: "acme.com", TemplateID: "initial_contact", Email: "a@acme.com", SentAt: day.Add(9 * time.Hour), Outcome: lead.SendFailed, Error: "550"},
		{ID: "s3", Identity: "acme.com", TemplateID: "follow_up_1", Email: "a@acme.com", SentAt: day.Add(10 * time.Hour), Outcome: lead.SendSent},
		{ID: "s4", Identity: "acme.com", TemplateID: "follow_up_1", Email: "a@acme.com", SentAt: day.Add(24 * time.Hour), Outcome: lead.SendSent},
	}
	for _, r := range records {
		require.NoError(t, repo.AppendSend(ctx, r))
	}
	err = repo.AppendSend(ctx, lead.SendRecord{ID: "s5", Identity: "ghost.com", TemplateID: "x", SentAt: day, Outcome: lead.SendSent})
	require.ErrorIs(t, err, lead.ErrNotFound)

	n, err := repo.CountSends(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	sent, err := repo.ListSends(ctx, lead.SendFilter{Identity: "acme.com", TemplateID: "initial_contact", Outcome: lead.SendSent})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	require.Equal(t, "s1", sent[0].ID)

	all, err := repo.ListSends(ctx, lead.SendFilter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"s1", "s2", "s3", "s4"}, ids)
	require.Equal(t, "550", all[1].Error)
	require.True(t, all[1].SentAt.Equal(day.Add(9*time.Hour)))
}

func testStats(t *testing.T, factory Factory) {
	repo := factory(t, lead.MergeFirstWriter)
	ctx := context.Background()

	for i := range 3 {
		_, err := repo.Upsert(ctx, lead.Lead{
			CompanyName: fmt.Sprintf("Firm %d", i),
			Website:     fmt.Sprintf("firm%d.de", i),
			Country:     "Germany",
			Source:      lead.SourceSearch,
			Email:       fmt.Sprintf("info@firm%d.de", i),
			EmailStatus: lead.EmailMXConfirmed,
		})
		require.NoError(t, err)
	}
	_, err := repo.Upsert(ctx, lead.Lead{CompanyName: "Solo", Country: "France", Source: lead.SourceKompass})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateContactStatus(ctx, "firm0.de", lead.ContactContacted))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, stats.Total)
	require.Equal(t, 3, stats.WithEmail)
	require.Equal(t, 3, stats.Validated)
	require.Equal(t, 1, stats.Contacted)
	require.Equal(t, 3, stats.BySource[lead.SourceSearch])
	require.Equal(t, 1, stats.ByContactStatus[lead.ContactContacted])
	require.Equal(t, "Germany", stats.TopCountries[0].Country)
	require.Equal(t, 3, stats.TopCountries[0].Count)
	require.NoError(t, repo.Ping(ctx))
}
