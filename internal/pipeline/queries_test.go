package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

func TestExpandQueries(t *testing.T) {
	t.Parallel()
	markets := Markets{
		"europe": {
			"Germany":     {"Berlin", "Hamburg"},
			"Netherlands": {"Amsterdam"},
		},
		"usa": {"USA": {"New York"}},
	}
	keywords := []string{"textile importer", "fabric wholesaler", "garment distributor", "apparel buyer"}

	got, err := ExpandQueries(markets, "europe", keywords, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []lead.SearchQuery{
		{Keyword: "textile importer", Country: "Germany"},
		{Keyword: "fabric wholesaler", Country: "Germany"},
		{Keyword: "textile importer", Country: "Netherlands"},
		{Keyword: "fabric wholesaler", Country: "Netherlands"},
	}, got)

	got, err = ExpandQueries(markets, "usa", keywords, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []lead.SearchQuery{
		{Keyword: "textile importer", Country: "USA"},
		{Keyword: "textile importer", Country: "USA", City: "New York"},
	}, got)

	got, err = ExpandQueries(markets, "usa", keywords, 0, false)
	require.NoError(t, err)
	assert.Len(t, got, 4)

	_, err = ExpandQueries(markets, "asia", keywords, 3, false)
	require.ErrorContains(t, err, "unknown market")
	_, err = ExpandQueries(markets, "usa", nil, 3, false)
	require.Error(t, err)
}
