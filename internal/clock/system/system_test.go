package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

var _ lead.Clock = New()

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after))
}

func TestClockConvertsSourceToUTC(t *testing.T) {
	t.Parallel()

	istanbul := time.FixedZone("TRT", 3*60*60)
	local := time.Date(2026, 3, 2, 9, 0, 0, 0, istanbul)
	got := Clock(func() time.Time { return local }).Now()

	require.Equal(t, time.UTC, got.Location())
	require.Equal(t, 6, got.Hour())
	require.True(t, got.Equal(local))
}

func TestNilClockFallsBackToWallTime(t *testing.T) {
	t.Parallel()

	var c Clock
	require.WithinDuration(t, time.Now(), c.Now(), time.Second)
}
