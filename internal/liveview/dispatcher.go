package liveview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"livesync/internal/events"
	"livesync/internal/storage"
)

var errStreamClosed = errors.New("change stream closed")

// Dispatcher feeds the change events of one collection to its live views
// and to the collection's event bus.
type Dispatcher struct {
	registry *Registry
	store    storage.Backend
	bus      *events.Bus
}

// NewDispatcher creates a dispatcher. bus may be nil.
func NewDispatcher(registry *Registry, store storage.Backend, bus *events.Bus) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		store:    store,
		bus:      bus,
	}
}

// Run consumes the store's change stream until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	collection := d.registry.Collection()
	ch, err := d.store.Watch(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to watch collection %s: %w", collection, err)
	}
	slog.Info("[Info][Dispatcher] Watching collection", "collection", collection)

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("[Warn][Dispatcher] Change stream closed", "collection", collection)
				return errStreamClosed
			}
			d.Dispatch(evt)
		}
	}
}

// Dispatch reconciles one change event into every live view of the
// collection and emits it on the event bus.
func (d *Dispatcher) Dispatch(evt storage.Event) {
	collection := d.registry.Collection()
	if evt.Collection != "" && evt.Collection != collection {
		return
	}
	if !evt.Type.IsValid() {
		slog.Warn("[Warn][Dispatcher] Ignoring event", "collection", collection, "type", evt.Type)
		return
	}
	if evt.Collection == "" {
		evt.Collection = collection
	}

	d.registry.dispatch(evt)

	if d.bus != nil {
		if err := d.bus.Emit(events.Kind(evt.Type), evt.Document, nil); err != nil {
			slog.Warn("[Warn][Dispatcher] Failed to emit event", "collection", collection, "type", evt.Type, "error", err)
		}
	}
}
