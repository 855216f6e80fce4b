// Package query validates client queries and runs the permission-checked
// read and write paths against the document store.
package query

import (
	"context"
	"errors"
	"log/slog"

	"livesync/internal/authz"
	"livesync/internal/events"
	"livesync/internal/identity"
	"livesync/internal/metrics"
	"livesync/internal/schema"
	"livesync/internal/storage"
	"livesync/pkg/model"
)

// Engine handles all business logic and coordinates with the storage backend.
type Engine struct {
	storage storage.Backend
	schema  *schema.Schema
	authz   *authz.Engine
	buses   map[string]*events.Bus
}

// NewEngine creates a new Query Engine instance. buses receive the preupdate
// hook and may be nil.
func NewEngine(backend storage.Backend, s *schema.Schema, az *authz.Engine, buses map[string]*events.Bus) *Engine {
	if buses == nil {
		buses = make(map[string]*events.Bus)
	}
	return &Engine{
		storage: backend,
		schema:  s,
		authz:   az,
		buses:   buses,
	}
}

func (e *Engine) Storage() storage.Backend {
	return e.storage
}

// Collection resolves collection metadata.
func (e *Engine) Collection(name string) (*schema.Collection, error) {
	coll, ok := e.schema.Collection(name)
	if !ok {
		return nil, model.Validationf("unknown collection %q", name)
	}
	return coll, nil
}

// Prepare validates a descriptor for a caller, checks read permission and
// narrows the projection to what the caller may see.
func (e *Engine) Prepare(caller identity.Identity, collection string, desc Descriptor) (*schema.Collection, Normalized, error) {
	coll, err := e.Collection(collection)
	if err != nil {
		return nil, Normalized{}, err
	}
	n, err := desc.Normalize()
	if err != nil {
		return nil, Normalized{}, err
	}
	if err := e.authz.Authorize(caller, schema.Read, coll, nil); err != nil {
		return nil, Normalized{}, err
	}
	n.Select = authz.NarrowSelection(n.Select, coll.Fields, caller.Level, schema.Read)
	return coll, n, nil
}

// Result of a one-shot query: documents, or the count when asked for.
type Result struct {
	Docs  []model.Document `json:"docs,omitempty"`
	Count *int             `json:"count,omitempty"`
}

// Query runs a one-shot query.
func (e *Engine) Query(ctx context.Context, caller identity.Identity, collection string, desc Descriptor) (*Result, error) {
	coll, n, err := e.Prepare(caller, collection, desc)
	if err != nil {
		return nil, err
	}

	fp := n.Fingerprint(collection)
	docs, err := e.storage.Find(ctx, n.StorageQuery(collection))
	if err != nil {
		return nil, e.storeError(collection, "find", "", fp, err)
	}

	if n.Count {
		count := len(docs)
		return &Result{Count: &count}, nil
	}
	out := make([]model.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, authz.StripFields(d, coll.Fields, schema.Read, caller.Level))
	}
	return &Result{Docs: out}, nil
}

// Create stores a new document owned by the caller.
func (e *Engine) Create(ctx context.Context, caller identity.Identity, collection string, doc model.Document) (model.Document, error) {
	coll, err := e.writable(collection)
	if err != nil {
		return nil, err
	}
	if err := e.authz.Authorize(caller, schema.Create, coll, doc); err != nil {
		return nil, err
	}

	id := doc.GetID()
	data := authz.StripFields(doc, coll.Fields, schema.Create, caller.Level)
	if data == nil {
		data = model.Document{}
	}
	data.StripProtectedFields()
	if id != "" {
		data.SetID(id)
	}
	if err := data.ValidateDocument(); err != nil {
		return nil, err
	}
	data.GenerateIDIfEmpty()
	if coll.OwnerField != "" && !caller.IsAnonymous() {
		data[coll.OwnerField] = caller.ID
	}
	data[model.FieldVersion] = int64(1)

	if err := e.storage.Create(ctx, collection, data); err != nil {
		if errors.Is(err, model.ErrExists) {
			return nil, err
		}
		return nil, e.storeError(collection, "create", data.GetID(), "", err)
	}
	return authz.StripFields(data, coll.Fields, schema.Read, caller.Level), nil
}

// Update merges patch into the stored document identified by patch's id.
func (e *Engine) Update(ctx context.Context, caller identity.Identity, collection string, patch model.Document) (model.Document, error) {
	coll, err := e.writable(collection)
	if err != nil {
		return nil, err
	}
	id := patch.GetID()
	if id == "" {
		return nil, model.Validationf("update needs a document id")
	}

	current, err := e.load(ctx, collection, id, "update")
	if err != nil {
		return nil, err
	}
	if err := e.authz.Authorize(caller, schema.Update, coll, current); err != nil {
		return nil, err
	}

	changes := authz.StripFields(patch, coll.Fields, schema.Update, caller.Level)
	delete(changes, model.FieldID)
	changes.StripProtectedFields()

	next := current.Clone()
	for k, v := range changes {
		next[k] = v
	}
	version := current.GetVersion()
	if version < 0 {
		version = 0
	}
	next[model.FieldVersion] = version + 1

	if bus, ok := e.buses[collection]; ok {
		if err := bus.Emit(events.KindPreupdate, next, current); err != nil {
			return nil, err
		}
	}

	if err := e.storage.Replace(ctx, collection, next); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, e.storeError(collection, "update", id, "", err)
	}
	return authz.StripFields(next, coll.Fields, schema.Read, caller.Level), nil
}

// Remove deletes a document.
func (e *Engine) Remove(ctx context.Context, caller identity.Identity, collection string, id string) error {
	coll, err := e.writable(collection)
	if err != nil {
		return err
	}
	if id == "" {
		return model.Validationf("remove needs a document id")
	}

	current, err := e.load(ctx, collection, id, "remove")
	if err != nil {
		return err
	}
	if err := e.authz.Authorize(caller, schema.Delete, coll, current); err != nil {
		return err
	}

	if err := e.storage.Delete(ctx, collection, id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return err
		}
		return e.storeError(collection, "remove", id, "", err)
	}
	return nil
}

func (e *Engine) writable(collection string) (*schema.Collection, error) {
	coll, err := e.Collection(collection)
	if err != nil {
		return nil, err
	}
	if coll.ReadOnly {
		return nil, model.PermissionDeniedf("collection %s is read only", collection)
	}
	return coll, nil
}

func (e *Engine) load(ctx context.Context, collection, id, op string) (model.Document, error) {
	doc, err := e.storage.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, e.storeError(collection, op, id, "", err)
	}
	return doc, nil
}

func (e *Engine) storeError(collection, op, id, fingerprint string, err error) error {
	wrapped := model.NewStoreError(op, id, fingerprint, err)
	if model.IsCanceled(err) {
		return wrapped
	}
	metrics.StoreErrors.WithLabelValues(collection, op).Inc()
	slog.Error("[Error][Query] Store operation failed",
		"collection", collection, "op", op, "id", id, "query", fingerprint, "error", err)
	return wrapped
}
