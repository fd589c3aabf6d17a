package lead

import (
	"context"
	"io"
	"iter"
	"time"
)

// Fetcher retrieves a single page, applying rate limits and retries.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Scraper turns a search query into candidate leads.
//
// Search returns a finite, single-use sequence. Page-level failures are yielded
// as errors with a zero Lead; malformed listings are skipped.
type Scraper interface {
	Source() Source
	Search(ctx context.Context, query SearchQuery) iter.Seq2[Lead, error]
}

// Repository persists and deduplicates leads and campaign send records.
type Repository interface {
	Upsert(ctx context.Context, l Lead) (UpsertResult, error)
	Find(ctx context.Context, filter Filter) ([]Lead, error)
	Get(ctx context.Context, identity string) (Lead, error)
	UpdateEmail(ctx context.Context, identity, email string, status EmailStatus) error
	UpdateContactStatus(ctx context.Context, identity string, status ContactStatus) error
	AppendSend(ctx context.Context, record SendRecord) error
	ListSends(ctx context.Context, filter SendFilter) ([]SendRecord, error)
	CountSends(ctx context.Context, since, until time.Time) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique record identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher emits lead lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw fetched pages.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes content digests used for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}
