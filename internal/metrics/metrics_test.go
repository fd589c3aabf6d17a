package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	before := testutil.ToFloat64(fetchTotal.WithLabelValues("europages.com", "ok"))
	ObserveFetch("https://www.europages.com/en/search?q=x", "ok")
	ObserveFetch("https://Europages.com/page/2", "ok")
	if got := testutil.ToFloat64(fetchTotal.WithLabelValues("europages.com", "ok")) - before; got != 1 {
		t.Errorf("expected one fetch for bare host, got %f", got)
	}

	sendsBefore := testutil.ToFloat64(campaignSendsTotal.WithLabelValues("initial_contact", "sent"))
	ObserveCampaignSend("initial_contact", "sent")
	if got := testutil.ToFloat64(campaignSendsTotal.WithLabelValues("initial_contact", "sent")) - sendsBefore; got != 1 {
		t.Errorf("expected campaign send counter to advance by 1, got %f", got)
	}

	ObserveRateLimitDelay("kompass.com", 250*time.Millisecond)
	if n := testutil.CollectAndCount(rateLimitDelaySeconds); n == 0 {
		t.Error("expected rate limit histogram to be observed")
	}

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers); got != 1 {
		t.Errorf("expected one active worker, got %f", got)
	}
	DecActiveWorkers()
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://europages.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
