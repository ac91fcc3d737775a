package engine

import (
	"context"

	"nifty-options-engine/internal/models"
)

// Observer receives engine events. Observe is called outside the engine lock
// in the order events were produced.
type Observer interface {
	Observe(ctx context.Context, ev models.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev models.Event)

// Observe calls f(ctx, ev).
func (f ObserverFunc) Observe(ctx context.Context, ev models.Event) { f(ctx, ev) }
