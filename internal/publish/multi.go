package publish

import (
	"context"
	"errors"
)

// Multi fans a single Publish call out to every configured target, mirroring
// a feed config's publish map (typically one webhook per notification
// destination). A failure on one target does not stop the others; their
// errors are joined and returned together.
type Multi struct {
	Targets []Publisher
}

// NewMulti builds a Multi publisher over targets.
func NewMulti(targets ...Publisher) *Multi {
	return &Multi{Targets: targets}
}

func (m *Multi) Publish(ctx context.Context, scope string, entries []PublishedEntry) error {
	var errs []error
	for _, target := range m.Targets {
		if err := target.Publish(ctx, scope, entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Drain drains every target that implements Drainer, joining their errors.
func (m *Multi) Drain(ctx context.Context) error {
	var errs []error
	for _, target := range m.Targets {
		if drainer, ok := target.(Drainer); ok {
			if err := drainer.Drain(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
