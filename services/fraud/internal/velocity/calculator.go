package velocity

import (
	"github.com/frauddetect-platform/pkg/events"
)

// Calculator enriches events with the current velocity counts for their key.
// It is the stateful half of the pipeline: one update per event, exactly one
// EnrichedEvent out per FraudEvent in, order preserved per key.
type Calculator struct {
	store *Store
}

// NewCalculator creates a calculator backed by store
func NewCalculator(store *Store) *Calculator {
	return &Calculator{store: store}
}

// Enrich updates the velocity state for the event's key and returns the event
// with the post-update per-window counts attached. The snapshot includes the
// event itself. No other side effects.
func (c *Calculator) Enrich(ev *events.FraudEvent) *events.EnrichedEvent {
	counts := c.store.Update(ev.UserID, ev.Timestamp)
	return &events.EnrichedEvent{
		FraudEvent: *ev,
		Velocity:   counts,
	}
}

// Store exposes the underlying store for checkpointing
func (c *Calculator) Store() *Store {
	return c.store
}
