package alerting

import (
	"context"
	"errors"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
	"github.com/SteelMorgan/serverpulse-agent/internal/monitor"
)

// Fanout delivers each event to every sink in order and stops at the first failure
type Fanout []monitor.Sink

// Deliver implements monitor.Sink
func (f Fanout) Deliver(ctx context.Context, ev domain.Event) error {
	if len(f) == 0 {
		return errors.New("no sinks configured")
	}
	for _, s := range f {
		if err := s.Deliver(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
