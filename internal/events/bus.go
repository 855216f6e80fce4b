// Package events dispatches named collection events to registered listeners.
package events

import (
	"sort"
	"sync"
	"time"

	"livesync/pkg/model"
)

// Kind names an event a collection can emit.
type Kind string

const (
	KindCreate    Kind = "create"
	KindUpdate    Kind = "update"
	KindRemove    Kind = "remove"
	KindPreupdate Kind = "preupdate"
)

// BuiltinKinds are emitted for every collection.
var BuiltinKinds = []Kind{KindCreate, KindUpdate, KindRemove, KindPreupdate}

type Event struct {
	Collection string         `json:"collection"`
	Kind       Kind           `json:"event"`
	Document   model.Document `json:"document,omitempty"`
	// Previous is set for preupdate: the stored document before the change.
	Previous  model.Document `json:"previous,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

type Listener func(Event)

type ListenerID uint64

// Bus is the listener table of one collection.
type Bus struct {
	collection string
	kinds      map[Kind]bool

	mu        sync.RWMutex
	listeners map[Kind]map[ListenerID]Listener
	next      ListenerID
}

func NewBus(collection string, custom []string) *Bus {
	kinds := make(map[Kind]bool, len(BuiltinKinds)+len(custom))
	for _, k := range BuiltinKinds {
		kinds[k] = true
	}
	for _, c := range custom {
		kinds[Kind(c)] = true
	}
	return &Bus{
		collection: collection,
		kinds:      kinds,
		listeners:  make(map[Kind]map[ListenerID]Listener),
	}
}

func (b *Bus) Collection() string {
	return b.collection
}

// Kinds returns every kind the bus accepts, sorted.
func (b *Bus) Kinds() []Kind {
	out := make([]Kind, 0, len(b.kinds))
	for k := range b.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *Bus) Known(kind Kind) bool {
	return b.kinds[kind]
}

// On registers l for kind.
func (b *Bus) On(kind Kind, l Listener) (ListenerID, error) {
	if !b.kinds[kind] {
		return 0, model.Validationf("collection %s has no event %q", b.collection, kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	if b.listeners[kind] == nil {
		b.listeners[kind] = make(map[ListenerID]Listener)
	}
	b.listeners[kind][id] = l
	return id, nil
}

// OnAll registers l for every kind and returns a function removing it again.
func (b *Bus) OnAll(l Listener) func() {
	kinds := b.Kinds()
	ids := make([]ListenerID, 0, len(kinds))
	for _, k := range kinds {
		id, _ := b.On(k, l)
		ids = append(ids, id)
	}
	return func() {
		for i, k := range kinds {
			b.Off(k, ids[i])
		}
	}
}

// Off removes a listener. Returns false if it was not registered.
func (b *Bus) Off(kind Kind, id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls, ok := b.listeners[kind]
	if !ok {
		return false
	}
	if _, ok := ls[id]; !ok {
		return false
	}
	delete(ls, id)
	if len(ls) == 0 {
		delete(b.listeners, kind)
	}
	return true
}

// Listeners counts the registered listeners per kind. Kinds nobody listens
// to are left out.
func (b *Bus) Listeners() map[Kind]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[Kind]int, len(b.listeners))
	for kind, ls := range b.listeners {
		out[kind] = len(ls)
	}
	return out
}

// Emit calls the listeners of kind synchronously, in registration order.
func (b *Bus) Emit(kind Kind, doc, prev model.Document) error {
	if !b.kinds[kind] {
		return model.Validationf("collection %s has no event %q", b.collection, kind)
	}

	b.mu.RLock()
	ids := make([]ListenerID, 0, len(b.listeners[kind]))
	for id := range b.listeners[kind] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, b.listeners[kind][id])
	}
	b.mu.RUnlock()

	evt := Event{
		Collection: b.collection,
		Kind:       kind,
		Document:   doc,
		Previous:   prev,
		Timestamp:  time.Now().UnixMilli(),
	}
	for _, l := range ls {
		l(evt)
	}
	return nil
}
