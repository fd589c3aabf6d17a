package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterSpacesSameDomain(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: 100 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://europages.com/a"))
	first, ok := l.LastRequest("europages.com")
	require.True(t, ok)

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://europages.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	second, ok := l.LastRequest("europages.com")
	require.True(t, ok)
	require.True(t, second.After(first))
}

func TestLimiterDifferentDomainsIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: time.Second})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: time.Hour})
	require.NoError(t, l.Wait(context.Background(), "https://slow.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.com/again"))
}

func TestLimiterReset(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: time.Hour})
	require.NoError(t, l.Wait(context.Background(), "https://kompass.com"))
	l.Reset()

	_, ok := l.LastRequest("kompass.com")
	require.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Wait(ctx, "https://kompass.com"))
}

func TestZeroDelayNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://fast.com"))
	}
}

func TestDomainOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "www.kompass.com", DomainOf("https://WWW.Kompass.com/searchCompanies"))
	require.Equal(t, "unknown", DomainOf("::not a url"))
}
