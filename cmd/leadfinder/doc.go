// Package main hosts the leadfinder command line.
//
// Architecture overview:
//   - Sources: internal/source adapters (search engine, Europages, Kompass) turn a keyword and location into
//     candidate leads, lazily, one listing page at a time. Pages come through internal/fetcher, which applies
//     per-domain spacing, robots.txt, and retries with backoff over Colly or, for configured sources, Chromedp.
//   - Pipeline: internal/pipeline runs one pass per (query, source) pair on a bounded errgroup pool, validates
//     listing emails (syntax plus MX), upserts into the lead repository, and optionally crawls company websites
//     for missing contact details. A repository failure aborts the batch; page failures are counted and logged.
//   - Repository: memory, SQLite (modernc), or Postgres (pgx) implementations of lead.Repository dedupe by
//     website domain, falling back to company name plus country, and merge concurrent discoveries.
//   - Campaign: internal/campaign renders per-language templates and sends through SMTP under a daily cap and a
//     minimum spacing between sends. Dry runs render without sending or recording.
//   - Plumbing: Viper config with LEADFINDER_ env overrides and .env files; zap logs; Prometheus metrics on the
//     read-only HTTP API served by `leadfinder serve`; lead events go to Pub/Sub when a topic is configured.
//
// Quick checklist:
//   - leadfinder search --keyword "textile importer" --country Germany
//   - leadfinder bulk-search --market europe --language de --keywords-per-country 2
//   - leadfinder enrich --limit 100
//   - leadfinder campaign --template initial_contact --limit 20 --dry-run
//   - leadfinder stats | leadfinder leads --country Germany --has-email true
//   - leadfinder serve --config config.yaml
package main
