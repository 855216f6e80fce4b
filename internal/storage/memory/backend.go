// Package memory provides an in-process document store. Documents keep their
// insertion order, which is the natural order of unsorted queries.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"livesync/internal/storage"
	"livesync/pkg/model"
)

const watchBufferSize = 1024

var errBackendClosed = errors.New("memory backend closed")

type collection struct {
	order []string
	docs  map[string]model.Document
}

func (c *collection) remove(id string) {
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

type watcher struct {
	collection string
	ch         chan storage.Event
	done       <-chan struct{}
}

// Backend implements storage.Backend in memory.
type Backend struct {
	mu          sync.RWMutex
	collections map[string]*collection

	// emitMu serializes mutation and notification so watchers observe
	// persistence order.
	emitMu sync.Mutex

	watchMu     sync.Mutex
	watchers    map[int]*watcher
	nextWatcher int

	matcher *matcher
	closed  bool
}

var _ storage.Backend = (*Backend)(nil)

// NewBackend creates an empty store.
func NewBackend() (*Backend, error) {
	m, err := newMatcher()
	if err != nil {
		return nil, err
	}
	return &Backend{
		collections: make(map[string]*collection),
		watchers:    make(map[int]*watcher),
		matcher:     m,
	}, nil
}

func (b *Backend) coll(name string, create bool) *collection {
	c, ok := b.collections[name]
	if !ok && create {
		c = &collection{docs: make(map[string]model.Document)}
		b.collections[name] = c
	}
	return c
}

func (b *Backend) Find(ctx context.Context, q storage.Query) ([]model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.WrapError(err)
	}
	prg, err := b.matcher.compile(q.Filters)
	if err != nil {
		return nil, err
	}

	var idSet map[string]bool
	if q.IDs != nil {
		idSet = make(map[string]bool, len(q.IDs))
		for _, id := range q.IDs {
			idSet[id] = true
		}
	}

	b.mu.RLock()
	var results []model.Document
	if c := b.coll(q.Collection, false); c != nil {
		for _, id := range c.order {
			if idSet != nil && !idSet[id] {
				continue
			}
			doc := c.docs[id]
			if matches(prg, doc) {
				results = append(results, deepCopy(doc))
			}
		}
	}
	b.mu.RUnlock()

	storage.SortDocuments(results, q.OrderBy)

	if q.Skip > 0 {
		if q.Skip >= len(results) {
			results = nil
		} else {
			results = results[q.Skip:]
		}
	}
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}

	out := make([]model.Document, 0, len(results))
	for _, d := range results {
		out = append(out, storage.ApplySelect(d, q.Select))
	}
	return storage.Populate(ctx, b, out, q.Populate)
}

func (b *Backend) FindOne(ctx context.Context, q storage.Query) (model.Document, error) {
	q.Limit = 1
	docs, err := b.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, model.ErrNotFound
	}
	return docs[0], nil
}

func (b *Backend) Get(ctx context.Context, collection, id string) (model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.WrapError(err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	c := b.coll(collection, false)
	if c == nil {
		return nil, model.ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return deepCopy(doc), nil
}

func (b *Backend) Create(ctx context.Context, collection string, doc model.Document) error {
	if err := ctx.Err(); err != nil {
		return model.WrapError(err)
	}
	id := doc.GetID()
	if !model.CheckDocumentID(id) {
		return model.Validationf("invalid document id %q", id)
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	c := b.coll(collection, true)
	if _, exists := c.docs[id]; exists {
		b.mu.Unlock()
		return model.ErrExists
	}
	stored := deepCopy(doc)
	c.docs[id] = stored
	c.order = append(c.order, id)
	b.mu.Unlock()

	b.emit(storage.Event{Collection: collection, Type: storage.EventCreate, Document: deepCopy(stored)})
	return nil
}

func (b *Backend) Replace(ctx context.Context, collection string, doc model.Document) error {
	if err := ctx.Err(); err != nil {
		return model.WrapError(err)
	}
	id := doc.GetID()

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	c := b.coll(collection, false)
	if c == nil {
		b.mu.Unlock()
		return model.ErrNotFound
	}
	if _, exists := c.docs[id]; !exists {
		b.mu.Unlock()
		return model.ErrNotFound
	}
	stored := deepCopy(doc)
	c.docs[id] = stored
	b.mu.Unlock()

	b.emit(storage.Event{Collection: collection, Type: storage.EventUpdate, Document: deepCopy(stored)})
	return nil
}

func (b *Backend) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return model.WrapError(err)
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	c := b.coll(collection, false)
	if c == nil {
		b.mu.Unlock()
		return model.ErrNotFound
	}
	if _, exists := c.docs[id]; !exists {
		b.mu.Unlock()
		return model.ErrNotFound
	}
	delete(c.docs, id)
	c.remove(id)
	b.mu.Unlock()

	b.emit(storage.Event{Collection: collection, Type: storage.EventRemove, Document: model.Document{model.FieldID: id}})
	return nil
}

// Watch registers a watcher. The returned channel is closed once ctx is done.
func (b *Backend) Watch(ctx context.Context, collection string) (<-chan storage.Event, error) {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	if b.closed {
		return nil, model.NewStoreError("watch", "", collection, errBackendClosed)
	}

	id := b.nextWatcher
	b.nextWatcher++
	w := &watcher{
		collection: collection,
		ch:         make(chan storage.Event, watchBufferSize),
		done:       ctx.Done(),
	}
	b.watchers[id] = w

	go func() {
		<-ctx.Done()
		b.watchMu.Lock()
		defer b.watchMu.Unlock()
		if _, ok := b.watchers[id]; ok {
			delete(b.watchers, id)
			close(w.ch)
		}
	}()

	return w.ch, nil
}

func (b *Backend) emit(evt storage.Event) {
	evt.Timestamp = time.Now().UnixMilli()

	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	for _, w := range b.watchers {
		if w.collection != "" && w.collection != evt.Collection {
			continue
		}
		select {
		case w.ch <- evt:
		case <-w.done:
			slog.Debug("Dropping change event for cancelled watcher", "collection", evt.Collection, "id", evt.DocumentID())
		}
	}
}

// Close closes every open watch channel.
func (b *Backend) Close(ctx context.Context) error {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	b.closed = true
	for id, w := range b.watchers {
		delete(b.watchers, id)
		close(w.ch)
	}
	return nil
}

func deepCopy(doc model.Document) model.Document {
	if doc == nil {
		return nil
	}
	out := make(model.Document, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[k] = copyValue(item)
		}
		return m
	case model.Document:
		return deepCopy(val)
	case []interface{}:
		s := make([]interface{}, len(val))
		for i, item := range val {
			s[i] = copyValue(item)
		}
		return s
	case []string:
		return append([]string(nil), val...)
	}
	return v
}
