package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"livesync/internal/authz"
	"livesync/internal/events"
	"livesync/internal/events/natsbridge"
	"livesync/internal/identity"
	"livesync/internal/liveview"
	"livesync/internal/query"
	"livesync/internal/realtime"
	"livesync/internal/schema"
	"livesync/internal/server"
	"livesync/internal/storage"
	storageconfig "livesync/internal/storage/config"
	"livesync/internal/storage/memory"
	"livesync/internal/storage/mongo"
)

var storageFactory = func(ctx context.Context, cfg storageconfig.Config) (storage.Backend, error) {
	switch cfg.Backend {
	case storageconfig.BackendMemory:
		return memory.NewBackend()
	case storageconfig.BackendMongo:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Mongo.ConnectTimeout)
		defer cancel()
		return mongo.NewBackend(connectCtx, cfg.Mongo.URI, cfg.Mongo.DatabaseName)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

var natsConnect = func(url string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name("livesync"))
}

type indexer interface {
	EnsureIndexes(ctx context.Context, collection string, fields []string) error
}

func (m *Manager) Init(ctx context.Context) error {
	if err := m.initSchema(); err != nil {
		return err
	}
	if err := m.initStorage(ctx); err != nil {
		return err
	}
	if err := m.initCollections(); err != nil {
		return err
	}
	if err := m.initEvents(ctx); err != nil {
		return err
	}
	m.initServer()
	return nil
}

func (m *Manager) initSchema() error {
	s, err := schema.Load(m.cfg.Schema.Path)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	m.schema = s
	slog.Info("[Info][Services] Schema loaded", "path", m.cfg.Schema.Path, "collections", s.Names())
	return nil
}

func (m *Manager) initStorage(ctx context.Context) error {
	store, err := storageFactory(ctx, m.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	m.store = store

	if ix, ok := store.(indexer); ok {
		for _, name := range m.schema.Names() {
			coll, _ := m.schema.Collection(name)
			if len(coll.Indexes) == 0 {
				continue
			}
			if err := ix.EnsureIndexes(ctx, name, coll.Indexes); err != nil {
				return fmt.Errorf("failed to create indexes for %s: %w", name, err)
			}
		}
	}
	slog.Info("[Info][Services] Storage initialized", "backend", m.cfg.Storage.Backend)
	return nil
}

func (m *Manager) initCollections() error {
	az, err := authz.NewEngine(m.schema)
	if err != nil {
		return fmt.Errorf("failed to compile permission rules: %w", err)
	}
	m.authz = az
	m.auth = identity.NewAuthenticator(m.cfg.Identity)

	buses := make(map[string]*events.Bus)
	for _, name := range m.schema.Names() {
		coll, _ := m.schema.Collection(name)
		bus := events.NewBus(name, coll.Events)
		registry := liveview.NewRegistry(m.cfg.Live, coll, m.store, az)
		m.collections[name] = &collectionServices{
			coll:       coll,
			bus:        bus,
			registry:   registry,
			dispatcher: liveview.NewDispatcher(registry, m.store, bus),
		}
		buses[name] = bus
	}
	m.engine = query.NewEngine(m.store, m.schema, az, buses)
	return nil
}

func (m *Manager) initEvents(ctx context.Context) error {
	cfg := m.cfg.Events
	if !cfg.Enabled {
		return nil
	}
	nc, err := natsConnect(cfg.NatsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	m.natsConn = nc

	pub, err := natsbridge.NewPublisher(ctx, nc, cfg)
	if err != nil {
		return err
	}
	m.bridge = natsbridge.New(pub, cfg)
	for _, cs := range m.collections {
		m.bridge.Attach(cs.bus)
	}
	slog.Info("[Info][Services] Publishing events to NATS", "url", cfg.NatsURL, "prefix", cfg.SubjectPrefix)
	return nil
}

func (m *Manager) initServer() {
	m.httpService = server.New(m.cfg.Server, slog.Default())

	endpoints := make([]realtime.Endpoint, 0, len(m.collections))
	for _, cs := range m.collections {
		endpoints = append(endpoints, realtime.Endpoint{
			Collection: cs.coll,
			Registry:   cs.registry,
			Bus:        cs.bus,
			Authz:      m.authz,
		})
	}
	m.rtServer = realtime.NewServer(m.engine, endpoints, m.auth, m.cfg.Realtime, m.cfg.Server.AllowedOrigins)
	m.rtServer.Register(m.httpService)
}
