package publish

import "context"

// NoOp is used when a scope configures no publish target. It follows the
// Null Object pattern so callers never need a nil check.
type NoOp struct{}

// NewNoOp creates a new NoOp publisher.
func NewNoOp() *NoOp {
	return &NoOp{}
}

// Publish does nothing and returns nil immediately.
func (n *NoOp) Publish(ctx context.Context, scope string, entries []PublishedEntry) error {
	return nil
}
