package services

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Start launches the dispatchers, the event bridge, the connection hub and
// the HTTP listener. A failure of any of them cancels the rest; Wait
// reports it.
func (m *Manager) Start(ctx context.Context) error {
	if m.httpService == nil {
		return errors.New("manager not initialized")
	}
	ctx, m.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	m.group = g

	for name, cs := range m.collections {
		name, d := name, cs.dispatcher
		g.Go(func() error {
			if err := d.Run(gctx); err != nil {
				slog.Error("[Error][Services] Dispatcher stopped", "collection", name, "error", err)
				return err
			}
			return nil
		})
	}
	if m.bridge != nil {
		g.Go(func() error { return m.bridge.Run(gctx) })
	}
	g.Go(func() error { return m.rtServer.Run(gctx) })
	g.Go(func() error { return m.httpService.Start(gctx) })

	slog.Info("[Info][Services] Started", "collections", len(m.collections))
	return nil
}

// Wait blocks until every started task has returned and reports the first
// failure.
func (m *Manager) Wait() error {
	if m.group == nil {
		return nil
	}
	return m.group.Wait()
}
