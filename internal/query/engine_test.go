package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"livesync/internal/authz"
	"livesync/internal/events"
	"livesync/internal/identity"
	"livesync/internal/schema"
	"livesync/internal/storage"
	"livesync/internal/storage/memory"
	"livesync/pkg/model"
)

const testSchema = `
collections:
  heroes:
    owner_field: owner
    permissions:
      read: 0
      create: 1
      update: 50
      delete: 50
    fields:
      secret:
        read: 10
        update: 10
      rank:
        create: 100
  archive:
    read_only: true
`

func newTestEngine(t *testing.T, backend storage.Backend) (*Engine, *events.Bus) {
	t.Helper()
	s, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)
	az, err := authz.NewEngine(s)
	require.NoError(t, err)
	bus := events.NewBus("heroes", nil)
	return NewEngine(backend, s, az, map[string]*events.Bus{"heroes": bus}), bus
}

func newMemoryEngine(t *testing.T) (*Engine, *events.Bus, *memory.Backend) {
	t.Helper()
	b, err := memory.NewBackend()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	e, bus := newTestEngine(t, b)
	return e, bus, b
}

var (
	player = identity.Identity{ID: "u1", Level: 1}
	admin  = identity.Identity{ID: "root", Level: 100}
	guest  = identity.Identity{}
)

func TestEngine_UnknownCollection(t *testing.T) {
	e, _, _ := newMemoryEngine(t)
	_, err := e.Query(context.Background(), player, "villains", Descriptor{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestEngine_CreateStampsOwnerAndVersion(t *testing.T) {
	ctx := context.Background()
	e, _, b := newMemoryEngine(t)

	out, err := e.Create(ctx, player, "heroes", model.Document{
		"id": "h1", "name": "Ada", "secret": "x", "rank": 9, "owner": "someone-else",
	})
	require.NoError(t, err)
	assert.Equal(t, "h1", out.GetID())
	assert.NotContains(t, out, "secret")

	stored, err := b.Get(ctx, "heroes", "h1")
	require.NoError(t, err)
	assert.Equal(t, "u1", stored["owner"])
	assert.Equal(t, int64(1), stored["version"])
	assert.Equal(t, "x", stored["secret"])
	// rank needs level 100 to be written on create
	assert.NotContains(t, stored, "rank")

	_, err = e.Create(ctx, player, "heroes", model.Document{"id": "h1"})
	assert.ErrorIs(t, err, model.ErrExists)

	generated, err := e.Create(ctx, player, "heroes", model.Document{"name": "Bob"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.GetID())
}

func TestEngine_CreateDenied(t *testing.T) {
	e, _, _ := newMemoryEngine(t)

	_, err := e.Create(context.Background(), guest, "heroes", model.Document{"id": "h1"})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)

	_, err = e.Create(context.Background(), admin, "archive", model.Document{"id": "a1"})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)

	_, err = e.Create(context.Background(), player, "heroes", model.Document{"id": "bad id!"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestEngine_Query(t *testing.T) {
	ctx := context.Background()
	e, _, b := newMemoryEngine(t)
	for _, d := range []model.Document{
		{"id": "a", "health": 3, "secret": "s"},
		{"id": "b", "health": 1, "secret": "s"},
		{"id": "c", "health": 2, "secret": "s"},
	} {
		require.NoError(t, b.Create(ctx, "heroes", d))
	}

	res, err := e.Query(ctx, player, "heroes", Descriptor{Sort: "-health", Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Docs, 2)
	assert.Equal(t, "a", res.Docs[0].GetID())
	assert.Equal(t, "c", res.Docs[1].GetID())
	for _, d := range res.Docs {
		assert.NotContains(t, d, "secret")
	}

	res, err = e.Query(ctx, identity.Identity{ID: "x", Level: 10}, "heroes", Descriptor{Select: "secret", FindOne: true})
	require.NoError(t, err)
	require.Len(t, res.Docs, 1)
	assert.Equal(t, "s", res.Docs[0]["secret"])

	res, err = e.Query(ctx, player, "heroes", Descriptor{Count: true, Filters: model.Filters{{Field: "health", Op: model.OpGte, Value: 2}}})
	require.NoError(t, err)
	require.NotNil(t, res.Count)
	assert.Equal(t, 2, *res.Count)
	assert.Nil(t, res.Docs)
}

func TestEngine_Update(t *testing.T) {
	ctx := context.Background()
	e, bus, b := newMemoryEngine(t)
	require.NoError(t, b.Create(ctx, "heroes", model.Document{"id": "h1", "owner": "u1", "health": 10, "secret": "s", "version": int64(1)}))

	var pre []events.Event
	_, err := bus.On(events.KindPreupdate, func(evt events.Event) { pre = append(pre, evt) })
	require.NoError(t, err)

	out, err := e.Update(ctx, player, "heroes", model.Document{"id": "h1", "health": 20, "secret": "hacked", "version": 99})
	require.NoError(t, err)
	assert.Equal(t, 20, out["health"])
	assert.Equal(t, int64(2), out["version"])

	stored, _ := b.Get(ctx, "heroes", "h1")
	assert.Equal(t, "s", stored["secret"])
	assert.Equal(t, int64(2), stored["version"])

	require.Len(t, pre, 1)
	assert.Equal(t, 10, pre[0].Previous["health"])
	assert.Equal(t, 20, pre[0].Document["health"])

	// Not the owner and below the update threshold.
	_, err = e.Update(ctx, identity.Identity{ID: "u2", Level: 1}, "heroes", model.Document{"id": "h1", "health": 0})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)

	_, err = e.Update(ctx, admin, "heroes", model.Document{"id": "missing"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = e.Update(ctx, admin, "heroes", model.Document{"health": 1})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestEngine_Remove(t *testing.T) {
	ctx := context.Background()
	e, _, b := newMemoryEngine(t)
	require.NoError(t, b.Create(ctx, "heroes", model.Document{"id": "h1", "owner": "u9"}))

	assert.ErrorIs(t, e.Remove(ctx, player, "heroes", "h1"), model.ErrPermissionDenied)
	require.NoError(t, e.Remove(ctx, admin, "heroes", "h1"))
	assert.ErrorIs(t, e.Remove(ctx, admin, "heroes", "h1"), model.ErrNotFound)
	assert.ErrorIs(t, e.Remove(ctx, admin, "heroes", ""), model.ErrValidation)
}

func TestEngine_StoreFailure(t *testing.T) {
	ctx := context.Background()
	backend := new(MockStorageBackend)
	e, _ := newTestEngine(t, backend)

	boom := errors.New("connection reset")
	backend.On("Find", mock.Anything, mock.Anything).Return(nil, boom)
	backend.On("Get", mock.Anything, "heroes", "h1").Return(nil, boom)
	backend.On("Create", mock.Anything, "heroes", mock.Anything).Return(boom)

	_, err := e.Query(ctx, player, "heroes", Descriptor{})
	assert.ErrorIs(t, err, model.ErrStoreFailure)
	assert.ErrorIs(t, err, boom)

	_, err = e.Update(ctx, admin, "heroes", model.Document{"id": "h1"})
	assert.ErrorIs(t, err, model.ErrStoreFailure)

	_, err = e.Create(ctx, player, "heroes", model.Document{"id": "h2"})
	assert.ErrorIs(t, err, model.ErrStoreFailure)

	backend.AssertExpectations(t)
}

func TestEngine_CanceledIsNotAStoreFailure(t *testing.T) {
	backend := new(MockStorageBackend)
	e, _ := newTestEngine(t, backend)
	backend.On("Find", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	_, err := e.Query(context.Background(), player, "heroes", Descriptor{})
	assert.True(t, model.IsCanceled(err))
}
