// Package metrics exposes Prometheus collectors for the lead finder.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadfinder_fetch_total",
			Help: "Total number of page fetches, labeled by domain and result.",
		},
		[]string{"domain", "result"},
	)

	fetchRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadfinder_fetch_retries_total",
			Help: "Total number of fetch retries after transient failures.",
		},
		[]string{"domain"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadfinder_rate_limit_delay_seconds",
			Help:    "Histogram of per-domain rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	passesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadfinder_passes_total",
			Help: "Total number of scraping passes, labeled by source and result.",
		},
		[]string{"source", "result"},
	)

	leadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadfinder_leads_total",
			Help: "Total number of lead upserts, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	emailValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadfinder_email_validations_total",
			Help: "Total number of email validations, labeled by resulting status.",
		},
		[]string{"status"},
	)

	dnsLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadfinder_dns_lookups_total",
			Help: "Total number of MX lookups, labeled by result.",
		},
		[]string{"result"},
	)

	campaignSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadfinder_campaign_sends_total",
			Help: "Total number of campaign sends, labeled by template and outcome.",
		},
		[]string{"template", "outcome"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadfinder_active_workers",
			Help: "Number of workers currently running a scraping pass.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one completed fetch.
func ObserveFetch(rawURL, result string) {
	fetchTotal.WithLabelValues(SanitizeSite(rawURL), result).Inc()
}

// ObserveFetchRetry counts one retry.
func ObserveFetchRetry(rawURL string) {
	fetchRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObservePass counts one finished scraping pass.
func ObservePass(source, result string) {
	passesTotal.WithLabelValues(source, result).Inc()
}

// ObserveLead counts one repository upsert.
func ObserveLead(source, outcome string) {
	leadsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveEmailValidation counts one validation result.
func ObserveEmailValidation(status string) {
	emailValidationsTotal.WithLabelValues(status).Inc()
}

// ObserveDNSLookup counts one MX lookup.
func ObserveDNSLookup(result string) {
	dnsLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCampaignSend counts one campaign send attempt.
func ObserveCampaignSend(template, outcome string) {
	campaignSendsTotal.WithLabelValues(template, outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
