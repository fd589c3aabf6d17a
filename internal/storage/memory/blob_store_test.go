package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

var _ lead.BlobStore = (*BlobStore)(nil)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("<html>acme</html>")
	uri, err := store.PutObject(context.Background(), "pages/search/abc.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://pages/search/abc.html", uri)

	payload[0] = 'X'
	got, ok := store.Object("pages/search/abc.html")
	require.True(t, ok)
	require.Equal(t, "<html>acme</html>", string(got))

	got[0] = 'Y'
	again, _ := store.Object("pages/search/abc.html")
	require.Equal(t, "<html>acme</html>", string(again))

	_, ok = store.Object("missing")
	require.False(t, ok)
	require.Equal(t, []string{"pages/search/abc.html"}, store.Paths())
}
