package broadcast

import (
	"context"
	"errors"

	"github.com/mcdev12/rubata/go/internal/rubata/events"
)

// Fanout publishes every event to each of its publishers. All publishers are
// tried; their errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, env events.Envelope) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
