package query

import (
	"context"

	"github.com/stretchr/testify/mock"

	"livesync/internal/storage"
	"livesync/pkg/model"
)

// MockStorageBackend is a mock implementation of storage.Backend
type MockStorageBackend struct {
	mock.Mock
}

func (m *MockStorageBackend) Find(ctx context.Context, q storage.Query) ([]model.Document, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Document), args.Error(1)
}

func (m *MockStorageBackend) FindOne(ctx context.Context, q storage.Query) (model.Document, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.Document), args.Error(1)
}

func (m *MockStorageBackend) Get(ctx context.Context, collection, id string) (model.Document, error) {
	args := m.Called(ctx, collection, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.Document), args.Error(1)
}

func (m *MockStorageBackend) Create(ctx context.Context, collection string, doc model.Document) error {
	args := m.Called(ctx, collection, doc)
	return args.Error(0)
}

func (m *MockStorageBackend) Replace(ctx context.Context, collection string, doc model.Document) error {
	args := m.Called(ctx, collection, doc)
	return args.Error(0)
}

func (m *MockStorageBackend) Delete(ctx context.Context, collection, id string) error {
	args := m.Called(ctx, collection, id)
	return args.Error(0)
}

func (m *MockStorageBackend) Watch(ctx context.Context, collection string) (<-chan storage.Event, error) {
	args := m.Called(ctx, collection)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan storage.Event), args.Error(1)
}

func (m *MockStorageBackend) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
