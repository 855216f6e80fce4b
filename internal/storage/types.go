package storage

import (
	"context"

	"livesync/pkg/model"
)

// EventType represents the type of change
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventRemove EventType = "remove"
)

// IsValid reports whether t is one of the change kinds a store emits.
func (t EventType) IsValid() bool {
	switch t {
	case EventCreate, EventUpdate, EventRemove:
		return true
	}
	return false
}

// Event represents a completed change, delivered in persistence order.
type Event struct {
	Collection string         `json:"collection"`
	Type       EventType      `json:"type"`
	Document   model.Document `json:"document"` // identity only is guaranteed for removals
	Timestamp  int64          `json:"timestamp"`
}

// DocumentID returns the identity of the changed document.
func (e Event) DocumentID() string {
	return e.Document.GetID()
}

// PopulateSpec expands a reference field into the referenced document(s).
type PopulateSpec struct {
	Path       string         `json:"path"`
	Collection string         `json:"collection"`
	Select     map[string]int `json:"select,omitempty"`
}

// Query represents a lean find against one collection.
type Query struct {
	Collection string         `json:"collection"`
	Filters    model.Filters  `json:"filters,omitempty"`
	IDs        []string       `json:"ids,omitempty"` // restricts the result to these identities
	Select     map[string]int `json:"select,omitempty"`
	OrderBy    []model.Order  `json:"orderBy,omitempty"`
	Skip       int            `json:"skip,omitempty"`
	Limit      int            `json:"limit,omitempty"`
	Populate   []PopulateSpec `json:"populate,omitempty"`
}

// Backend defines the document store the live query engine consumes.
type Backend interface {
	// Find executes a query and returns lean documents.
	Find(ctx context.Context, q Query) ([]model.Document, error)

	// FindOne returns the first match or model.ErrNotFound.
	FindOne(ctx context.Context, q Query) (model.Document, error)

	// Get retrieves a document by identity.
	Get(ctx context.Context, collection, id string) (model.Document, error)

	// Create inserts a new document. Fails with model.ErrExists if it already exists.
	Create(ctx context.Context, collection string, doc model.Document) error

	// Replace overwrites an existing document. Fails with model.ErrNotFound.
	Replace(ctx context.Context, collection string, doc model.Document) error

	// Delete removes a document by identity. Fails with model.ErrNotFound.
	Delete(ctx context.Context, collection, id string) error

	// Watch returns a channel of change events for a collection (or all if empty).
	// Cancelling ctx unregisters the watcher and closes the channel.
	Watch(ctx context.Context, collection string) (<-chan Event, error)

	// Close closes the connection to the backend
	Close(ctx context.Context) error
}
