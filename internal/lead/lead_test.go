package lead

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdentityKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		lead Lead
		want string
	}{
		{
			name: "website domain",
			lead: Lead{CompanyName: "Acme", Website: "https://WWW.Acme-Textiles.com:443/about?x=1"},
			want: "acme-textiles.com",
		},
		{
			name: "bare host",
			lead: Lead{CompanyName: "Acme", Website: "acme-textiles.com"},
			want: "acme-textiles.com",
		},
		{
			name: "name and country fallback",
			lead: Lead{CompanyName: "  Acme   Textiles ", Country: "Germany"},
			want: "name:acme textiles|germany",
		},
		{
			name: "unusable website falls back",
			lead: Lead{CompanyName: "Acme", Country: "DE", Website: "localhost"},
			want: "name:acme|de",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, IdentityKey(tc.lead))
		})
	}
}

func TestMergeFirstWriterKeepsStoredFields(t *testing.T) {
	t.Parallel()

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := first.Add(time.Hour)
	stored := Prepare(Lead{
		CompanyName: "Acme Textiles",
		Website:     "https://acme-textiles.com",
		City:        "Istanbul",
		Source:      SourceSearch,
	}, first)
	incoming := Lead{
		CompanyName: "ACME",
		Website:     "https://acme-textiles.com",
		City:        "Bursa",
		Country:     "Turkey",
		Phone:       "+90 212 555 0000",
		Source:      SourceEuropages,
	}

	merged := Merge(stored, incoming, MergeFirstWriter, now)
	require.Equal(t, "Acme Textiles", merged.CompanyName)
	require.Equal(t, "Istanbul", merged.City)
	require.Equal(t, "Turkey", merged.Country)
	require.Equal(t, "+90 212 555 0000", merged.Phone)
	require.Equal(t, SourceSearch, merged.Source)
	require.Equal(t, first, merged.FirstSeen)
	require.Equal(t, now, merged.LastUpdated)
}

func TestMergeCombineJoinsCities(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	stored := Prepare(Lead{CompanyName: "Acme", Website: "acme-textiles.com", City: "Istanbul"}, now)

	merged := Merge(stored, Lead{City: "Bursa"}, MergeCombine, now)
	require.Equal(t, "Istanbul, Bursa", merged.City)

	again := Merge(merged, Lead{City: "bursa"}, MergeCombine, now)
	require.Equal(t, "Istanbul, Bursa", again.City)
}

func TestMergeNeverDowngradesEmail(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	stored := Prepare(Lead{
		CompanyName: "Acme",
		Website:     "acme-textiles.com",
		Email:       "sales@acme-textiles.com",
		EmailStatus: EmailMXConfirmed,
	}, now)

	merged := Merge(stored, Lead{Email: "info@acme-textiles.com", EmailStatus: EmailUnknown}, MergeFirstWriter, now)
	require.Equal(t, "sales@acme-textiles.com", merged.Email)
	require.Equal(t, EmailMXConfirmed, merged.EmailStatus)

	noEmail := Prepare(Lead{CompanyName: "Beta", Website: "beta.com"}, now)
	upgraded := Merge(noEmail, Lead{Email: "Info@Beta.com"}, MergeFirstWriter, now)
	require.Equal(t, "info@beta.com", upgraded.Email)
	require.Equal(t, EmailUnknown, upgraded.EmailStatus)

	better := Merge(upgraded, Lead{Email: "sales@beta.com", EmailStatus: EmailSyntacticallyValid}, MergeFirstWriter, now)
	require.Equal(t, "sales@beta.com", better.Email)
	require.Equal(t, EmailSyntacticallyValid, better.EmailStatus)
}

func TestMergeEnrichedStatusFollowsEmail(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	patch := Lead{Email: "info@acme.com", EmailStatus: EmailSyntacticallyValid, ContactStatus: ContactEnriched}

	fresh := Prepare(Lead{CompanyName: "Acme", Website: "acme.com"}, now)
	taken := Merge(fresh, patch, MergeFirstWriter, now)
	require.Equal(t, "info@acme.com", taken.Email)
	require.Equal(t, ContactEnriched, taken.ContactStatus)

	confirmed := Prepare(Lead{CompanyName: "Acme", Website: "acme.com", Email: "sales@acme.com", EmailStatus: EmailMXConfirmed}, now)
	rejected := Merge(confirmed, patch, MergeFirstWriter, now)
	require.Equal(t, "sales@acme.com", rejected.Email)
	require.Equal(t, ContactNew, rejected.ContactStatus)

	contacted, err := WithContactStatus(fresh, ContactContacted, now)
	require.NoError(t, err)
	kept := Merge(contacted, patch, MergeFirstWriter, now)
	require.Equal(t, ContactContacted, kept.ContactStatus)
}

func TestMergeOrderIndependentEmailRank(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	contributions := []Lead{
		{CompanyName: "Acme", Website: "acme.com"},
		{CompanyName: "Acme", Website: "acme.com", Email: "a@acme.com", EmailStatus: EmailSyntacticallyValid},
		{CompanyName: "Acme", Website: "acme.com", Email: "b@acme.com", EmailStatus: EmailMXConfirmed},
		{CompanyName: "Acme", Website: "acme.com", Email: "c@acme.com", EmailStatus: EmailUnknown},
	}
	orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 0, 3, 1}}
	for _, order := range orders {
		stored := Prepare(contributions[order[0]], now)
		for _, idx := range order[1:] {
			stored = Merge(stored, contributions[idx], MergeFirstWriter, now)
		}
		require.Equal(t, EmailMXConfirmed, stored.EmailStatus)
		require.Equal(t, "b@acme.com", stored.Email)
	}
}

func TestParseMergePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseMergePolicy("")
	require.NoError(t, err)
	require.Equal(t, MergeFirstWriter, p)
	p, err = ParseMergePolicy("Combine")
	require.NoError(t, err)
	require.Equal(t, MergeCombine, p)
	_, err = ParseMergePolicy("last_writer")
	require.Error(t, err)
}

func TestScore(t *testing.T) {
	t.Parallel()

	l := Lead{
		CompanyName: "Nordic Textile Import GmbH",
		Website:     "https://nordic.example",
		Phone:       "+49 30 1234",
		Email:       "sales@nordic.example",
		EmailStatus: EmailMXConfirmed,
	}
	require.Equal(t, 95, Score(l, DefaultWeights))
	require.Equal(t, 0, Score(Lead{CompanyName: "Bakery"}, DefaultWeights))

	l.EmailStatus = EmailInvalid
	require.Equal(t, 65, Score(l, DefaultWeights))
}

func TestComputeStats(t *testing.T) {
	t.Parallel()

	leads := []Lead{
		{Country: "Germany", Email: "a@a.com", EmailStatus: EmailMXConfirmed, ContactStatus: ContactContacted, Source: SourceSearch},
		{Country: "Germany", ContactStatus: ContactNew, Source: SourceEuropages},
		{Country: "France", Email: "b@b.com", EmailStatus: EmailUnknown, ContactStatus: ContactEnriched, Source: SourceSearch},
	}
	stats := ComputeStats(leads, 1)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 2, stats.WithEmail)
	require.Equal(t, 1, stats.Validated)
	require.Equal(t, 1, stats.Contacted)
	require.Equal(t, 2, stats.BySource[SourceSearch])
	require.Equal(t, []CountryCount{{Country: "Germany", Count: 2}}, stats.TopCountries)
}

func TestFilterMatches(t *testing.T) {
	t.Parallel()

	yes := true
	l := Lead{Identity: "acme.com", Country: "Germany", Email: "x@acme.com", Website: "acme.com"}
	require.True(t, Filter{Country: "germany", HasEmail: &yes, HasWebsite: &yes}.Matches(l))
	require.False(t, Filter{Identities: []string{"other.com"}}.Matches(l))
	require.False(t, Filter{Source: SourceKompass}.Matches(l))
}

func TestSearchQueryString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "textile importer Hamburg Germany",
		SearchQuery{Keyword: "textile importer", Country: "Germany", City: "Hamburg"}.String())
	require.Equal(t, "textile importer", SearchQuery{Keyword: "textile importer"}.String())
}

type counterIDs struct{ n int }

func (c *counterIDs) NewID() (string, error) {
	c.n++
	return fmt.Sprintf("id-%d", c.n), nil
}

func TestResolve(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ids := &counterIDs{}

	res, err := Resolve(nil, Lead{CompanyName: "Acme", Website: "acme.com"}, MergeFirstWriter, now, ids)
	require.NoError(t, err)
	require.Equal(t, Inserted, res.Outcome)
	require.Equal(t, "id-1", res.Lead.ID)
	require.Equal(t, "acme.com", res.Lead.Identity)
	require.Equal(t, ContactNew, res.Lead.ContactStatus)

	stored := res.Lead
	res, err = Resolve(&stored, Lead{Phone: "+1 555 0100"}, MergeFirstWriter, now.Add(time.Minute), ids)
	require.NoError(t, err)
	require.Equal(t, Merged, res.Outcome)
	require.Equal(t, "id-1", res.Lead.ID)
	require.Equal(t, "+1 555 0100", res.Lead.Phone)
	require.Equal(t, 1, ids.n)
}

func TestWithEmailMayDowngrade(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	l := Lead{Email: "sales@acme.com", EmailStatus: EmailMXConfirmed}
	got, err := WithEmail(l, "Sales@Acme.com", EmailInvalid, now)
	require.NoError(t, err)
	require.Equal(t, "sales@acme.com", got.Email)
	require.Equal(t, EmailInvalid, got.EmailStatus)

	_, err = WithEmail(l, "x@acme.com", "great", now)
	require.Error(t, err)
}

func TestWithContactStatus(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	got, err := WithContactStatus(Lead{}, ContactContacted, now)
	require.NoError(t, err)
	require.NotNil(t, got.LastContacted)
	require.Equal(t, now, *got.LastContacted)

	got, err = WithContactStatus(got, ContactReplied, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, now, *got.LastContacted)

	_, err = WithContactStatus(got, "lost", now)
	require.Error(t, err)
}
