package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesParallelism(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1})
	require.Error(t, err)

	b, err := New(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, 2, cap(b.slots))
	require.Equal(t, 45*time.Second, b.cfg.NavigationTimeout)
	require.Equal(t, 750*time.Millisecond, b.cfg.SettleDelay)
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	b, err := New(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, b.acquire(ctx))

	b.release()
	require.NoError(t, b.acquire(context.Background()))
}

func TestDocumentResponseKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.listen(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  404,
			URL:     "https://www.kompass.com/searchCompanies?text=x",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	doc.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads.example/frame"},
	})
	doc.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://cdn.example/app.js"},
	})

	status, headers, url := doc.result("https://req", "")
	require.Equal(t, 404, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://www.kompass.com/searchCompanies?text=x", url)
}

func TestDocumentResponseFallbacks(t *testing.T) {
	t.Parallel()

	status, headers, url := (&documentResponse{}).result("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://final", url)

	_, _, url = (&documentResponse{}).result("https://req", "")
	require.Equal(t, "https://req", url)
}

func TestNoopFails(t *testing.T) {
	t.Parallel()

	_, err := Noop{}.Attempt(context.Background(), "https://kompass.com")
	require.ErrorIs(t, err, ErrNotConfigured)
}
