package harvest

import (
	"context"
	"io"
	"time"
)

// Fetcher issues exactly one network attempt for a key and returns the raw
// document or a *FetchError. No caching, no tracker updates, no retries.
type Fetcher interface {
	Fetch(ctx context.Context, key WorkKey) (RawDocument, error)
}

// RawStream is an in-flight binary response body. The caller owns Body and
// must close it.
type RawStream struct {
	Key         WorkKey
	Body        io.ReadCloser
	StatusCode  int
	ContentType string
}

// Streamer opens a binary resource for incremental consumption, used for
// audio payloads too large to buffer.
type Streamer interface {
	Open(ctx context.Context, key WorkKey) (*RawStream, error)
}

// Cache is the content-addressed store for raw responses. A hit is valid
// indefinitely; Purge is the explicit refresh path.
type Cache interface {
	Get(ctx context.Context, key WorkKey) (RawDocument, error)
	Put(ctx context.Context, doc RawDocument) error
	// PutStream writes a binary payload incrementally. The entry becomes
	// visible atomically on completion and never before; the returned string
	// is the hex content hash addressing the stored blob.
	PutStream(ctx context.Context, key WorkKey, contentType string, r io.Reader) (string, error)
	Exists(ctx context.Context, key WorkKey) bool
	Purge(ctx context.Context, key WorkKey) error
}

// BlobLocator resolves a cached binary entry to a local file path, for
// handing validated source files to the audio codec.
type BlobLocator interface {
	BlobPath(ctx context.Context, key WorkKey) (string, error)
}

// Tracker is the persistent ledger of work items. Every state change is
// written through before the call returns.
type Tracker interface {
	MarkPending(ctx context.Context, key WorkKey) error
	MarkInProgress(ctx context.Context, key WorkKey) error
	MarkSucceeded(ctx context.Context, key WorkKey) error
	MarkFailed(ctx context.Context, key WorkKey, reason string) error
	Snapshot(ctx context.Context) (Snapshot, error)
	Close() error
}

// Outcome is the feedback a caller reports to the rate limiter after a
// gated request completes.
type Outcome string

// Limiter feedback outcomes.
const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeNetwork     Outcome = "network_error"
)

// Limiter paces outbound requests. Acquire blocks until issuing one request
// is safe; Report adapts the pacing to what the remote did.
type Limiter interface {
	Acquire(ctx context.Context) error
	Report(o Outcome)
	// Saturated reports that the delay floor sits at its configured maximum,
	// the fatal-slowdown signal surfaced through the harvest report.
	Saturated() bool
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// AudioCodec is the consumed transcoding collaborator. It extracts the
// [start, end) span in seconds from the source file into dst. This core only
// supplies validated bounds and source paths.
type AudioCodec interface {
	Extract(ctx context.Context, src string, start, end float64, dst string) error
}

// Sink receives normalized domain entities as they complete. Implementations
// belong to the downstream dataset-formatting stage; the harvest core never
// learns about output layout.
type Sink interface {
	ConsumeCase(ctx context.Context, c *Case) error
	ConsumeArgument(ctx context.Context, a *OralArgument) error
}
