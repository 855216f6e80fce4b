package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Shutdown stops the listener and the background tasks, then releases the
// live views, the store and the NATS connection.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error

	if m.cancel != nil {
		m.cancel()
	}
	if m.httpService != nil {
		if err := m.httpService.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if m.group != nil {
		slog.Info("[Info][Services] Waiting for background tasks to finish")
		done := make(chan struct{})
		go func() {
			_ = m.group.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("[Warn][Services] Timeout waiting for background tasks")
			errs = append(errs, ctx.Err())
		}
	}

	for _, cs := range m.collections {
		cs.registry.Close()
	}
	if m.store != nil {
		if err := m.store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
		}
	}
	if m.natsConn != nil {
		if err := m.natsConn.Drain(); err != nil {
			m.natsConn.Close()
		}
	}
	return errors.Join(errs...)
}
