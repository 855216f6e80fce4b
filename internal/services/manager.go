// Package services wires storage, live views, events and the HTTP surface
// into one process.
package services

import (
	"context"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"livesync/internal/authz"
	"livesync/internal/config"
	"livesync/internal/events"
	"livesync/internal/events/natsbridge"
	"livesync/internal/identity"
	"livesync/internal/liveview"
	"livesync/internal/query"
	"livesync/internal/realtime"
	"livesync/internal/schema"
	"livesync/internal/server"
	"livesync/internal/storage"
)

// collectionServices are the per-collection pieces.
type collectionServices struct {
	coll       *schema.Collection
	bus        *events.Bus
	registry   *liveview.Registry
	dispatcher *liveview.Dispatcher
}

type Manager struct {
	cfg *config.Config

	schema      *schema.Schema
	store       storage.Backend
	authz       *authz.Engine
	auth        *identity.Authenticator
	engine      *query.Engine
	collections map[string]*collectionServices

	natsConn *nats.Conn
	bridge   *natsbridge.Bridge

	httpService server.Service
	rtServer    *realtime.Server

	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		cfg:         cfg,
		collections: make(map[string]*collectionServices),
	}
}

// Engine returns the CRUD gateway once Init has run.
func (m *Manager) Engine() *query.Engine {
	return m.engine
}

// Registry returns the live view registry of collection.
func (m *Manager) Registry(collection string) (*liveview.Registry, bool) {
	cs, ok := m.collections[collection]
	if !ok {
		return nil, false
	}
	return cs.registry, true
}

// Addr returns the HTTP listen address once started.
func (m *Manager) Addr() string {
	if m.httpService == nil {
		return ""
	}
	return m.httpService.Addr()
}
