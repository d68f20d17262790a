package events

import (
	"context"
	"errors"

	"outreach_engine/internal/domain/events"
)

// Fanout delivers every event to all publishers and joins their errors.
type Fanout []events.Publisher

func (f Fanout) Publish(ctx context.Context, e events.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
