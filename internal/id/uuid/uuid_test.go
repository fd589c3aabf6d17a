package uuid

import (
	"errors"
	"slices"
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

var _ lead.IDGenerator = NewUUIDGenerator()

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	ids := make([]string, 0, 5)
	for range 5 {
		id, err := gen.NewID()
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.True(t, slices.IsSorted(ids), "v7 ids sort by creation: %v", ids)

	parsed, err := goUUID.Parse(ids[0])
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestGeneratorSourceError(t *testing.T) {
	t.Parallel()

	gen := Generator{source: func() (goUUID.UUID, error) {
		return goUUID.Nil, errors.New("entropy exhausted")
	}}
	_, err := gen.NewID()
	require.ErrorContains(t, err, "generate uuid7: entropy exhausted")
}

func TestZeroGeneratorUsesV7(t *testing.T) {
	t.Parallel()

	id, err := Generator{}.NewID()
	require.NoError(t, err)
	require.Len(t, id, 36)
}
