package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-finder/internal/lead"
	"github.com/JakeFAU/lead-finder/internal/storage/storagetest"
)

func TestLeadStoreContract(t *testing.T) {
	t.Parallel()

	storagetest.Run(t, func(t *testing.T, policy lead.MergePolicy) lead.Repository {
		store := NewLeadStore(LeadStoreOptions{Policy: policy})
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestLeadStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	store := NewLeadStore(LeadStoreOptions{Clock: fixedClock{now: now}})
	ctx := context.Background()

	_, err := store.Upsert(ctx, lead.Lead{CompanyName: "Acme", Website: "acme.com"})
	require.NoError(t, err)
	require.NoError(t, store.UpdateContactStatus(ctx, "acme.com", lead.ContactContacted))

	found, err := store.Find(ctx, lead.Filter{})
	require.NoError(t, err)
	found[0].CompanyName = "changed"

	got, err := store.Get(ctx, "acme.com")
	require.NoError(t, err)
	require.Equal(t, "Acme", got.CompanyName)
	require.Equal(t, now, got.FirstSeen)
	require.Equal(t, now, *got.LastContacted)
}

func TestLeadStoreUpsertHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLeadStore(LeadStoreOptions{}).Upsert(ctx, lead.Lead{CompanyName: "Acme"})
	require.ErrorIs(t, err, context.Canceled)
}
