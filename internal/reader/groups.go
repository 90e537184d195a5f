package reader

import (
	"context"
	"sync"

	"ircfeedbot/internal/config"
	"ircfeedbot/internal/syncx"
)

// GroupBarriers holds one cyclic barrier per feed-group tag, so feeds
// sharing a group announce in the same temporal cluster. Party counts are
// fixed at construction from the configured feed set: a barrier's party
// count never changes at runtime.
type GroupBarriers struct {
	mu       sync.Mutex
	barriers map[string]*syncx.Barrier
}

// NewGroupBarriers builds a barrier for every group name in partyCounts,
// each sized to its party count.
func NewGroupBarriers(partyCounts map[string]int) *GroupBarriers {
	g := &GroupBarriers{barriers: make(map[string]*syncx.Barrier, len(partyCounts))}
	for name, n := range partyCounts {
		if n > 0 {
			g.barriers[name] = syncx.NewBarrier(n)
		}
	}
	return g
}

// Wait blocks on the named group's barrier until every feed with that
// group tag has reached this point in its current cycle. A group name
// with no registered barrier is a no-op (misconfiguration is caught at
// config-validation time, not here).
func (g *GroupBarriers) Wait(ctx context.Context, group string) {
	g.mu.Lock()
	b, ok := g.barriers[group]
	g.mu.Unlock()
	if !ok {
		return
	}

	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// GroupPartyCounts tallies how many feeds in feeds declare each group tag.
func GroupPartyCounts(feeds map[string]*config.Feed) map[string]int {
	counts := make(map[string]int)
	for _, f := range feeds {
		if f.Group != "" {
			counts[f.Group]++
		}
	}
	return counts
}
