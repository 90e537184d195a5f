// Package publish provides an abstraction for archiving posted entries to
// an external sink (a webhook, a search index, a static-site generator's
// content directory). Implementations are named by the Kind string in a
// feed's publish configuration, handle their own rate limiting and retries,
// and should never block the poster's outgoing-rate lock for longer than
// their own timeout.
package publish

import "context"

// Publisher sends a scope's just-posted entries to an external archive.
// Unlike the IRC post itself, a publish failure never un-posts an entry —
// it is retried by the implementation and ultimately only logged.
type Publisher interface {
	// Publish delivers entries posted to scope. Implementations should
	// apply their own rate limiting and retry transient failures with
	// backoff; a returned error means retries were exhausted.
	Publish(ctx context.Context, scope string, entries []PublishedEntry) error
}

// Drainer is implemented by publishers that buffer failed calls in memory
// for later retry (see BufferedPublisher). The supervisor type-asserts for
// it during graceful shutdown and calls Drain once with a two-minute
// deadline, since a publish target may only be transiently unavailable.
type Drainer interface {
	Drain(ctx context.Context) error
}

// PublishedEntry is the subset of entry.Entry a Publisher needs, kept
// separate so publish implementations don't import the pipeline's entry
// package just to format a webhook payload.
type PublishedEntry struct {
	Title   string
	Summary string
	URL     string
	Feed    string
}
