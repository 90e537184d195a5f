package syncx

import (
	"context"
	"sync"
)

// Latch is a one-shot gate: closed once via Open, after which every Wait
// call (past, present, and future) returns immediately. Used for join
// events a reader or poster must observe exactly once before its first
// cycle, after which the gate stays open for the process lifetime.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

// NewLatch builds a closed (not yet open) Latch.
func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Open releases every current and future waiter. Safe to call more than
// once; only the first call has an effect.
func (l *Latch) Open() {
	l.once.Do(func() { close(l.ch) })
}

// Wait blocks until Open is called or ctx is done, whichever comes first.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsOpen reports whether Open has been called.
func (l *Latch) IsOpen() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}
