// Package api hosts the HTTP server, middleware, and read-only REST handlers
// for operator access. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the repository.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/leads and /v1/leads/{identity} for filtered lead listings.
//   - GET /v1/stats for repository-wide counts.
//   - GET /v1/sends for the campaign send log.
package api
