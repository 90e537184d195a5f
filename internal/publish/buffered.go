package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ircfeedbot/internal/resilience/retry"
)

// BufferedPublisher wraps a Publisher so that entries an underlying call
// fails to deliver are held in memory and prepended to the next call for
// the same scope, rather than lost. Drain flushes everything still pending
// with effectively unlimited retries, for use during graceful shutdown.
type BufferedPublisher struct {
	inner Publisher

	mu      sync.Mutex
	pending map[string][]PublishedEntry
}

// NewBufferedPublisher wraps inner.
func NewBufferedPublisher(inner Publisher) *BufferedPublisher {
	return &BufferedPublisher{inner: inner, pending: make(map[string][]PublishedEntry)}
}

// Publish attempts to deliver scope's previously-failed entries together
// with entries; on failure the combined set is held for the next call.
func (b *BufferedPublisher) Publish(ctx context.Context, scope string, entries []PublishedEntry) error {
	b.mu.Lock()
	combined := append(b.pending[scope], entries...)
	b.mu.Unlock()

	if err := b.inner.Publish(ctx, scope, combined); err != nil {
		b.mu.Lock()
		b.pending[scope] = combined
		b.mu.Unlock()
		return fmt.Errorf("publish %s: %w", scope, err)
	}

	b.mu.Lock()
	delete(b.pending, scope)
	b.mu.Unlock()
	return nil
}

// Drain retries every scope's pending entries until they all succeed or ctx
// is done, for use during graceful shutdown when a target may only be
// transiently unavailable.
func (b *BufferedPublisher) Drain(ctx context.Context) error {
	cfg := retry.Config{
		MaxAttempts:    1000, // retry.Config has no "forever" sentinel; Drain's outer loop below re-invokes until ctx is done.
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}

	for {
		b.mu.Lock()
		scopes := make([]string, 0, len(b.pending))
		for s := range b.pending {
			scopes = append(scopes, s)
		}
		b.mu.Unlock()

		if len(scopes) == 0 {
			return nil
		}

		allFlushed := true
		for _, s := range scopes {
			b.mu.Lock()
			entries := b.pending[s]
			b.mu.Unlock()
			if len(entries) == 0 {
				continue
			}

			err := retry.WithBackoff(ctx, cfg, func() error {
				return b.inner.Publish(ctx, s, entries)
			})
			if err != nil {
				allFlushed = false
				continue
			}
			b.mu.Lock()
			delete(b.pending, s)
			b.mu.Unlock()
		}

		if allFlushed {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
