package liveview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livesync/internal/authz"
	"livesync/internal/identity"
	"livesync/internal/liveview/config"
	"livesync/internal/query"
	"livesync/internal/schema"
	"livesync/internal/storage"
	"livesync/internal/storage/memory"
	"livesync/pkg/model"
)

// gatedBackend holds every Find until gate is closed, then fails with err if set.
type gatedBackend struct {
	storage.Backend
	gate chan struct{}
	err  error
}

func (g *gatedBackend) Find(ctx context.Context, q storage.Query) ([]model.Document, error) {
	<-g.gate
	if g.err != nil {
		return nil, g.err
	}
	return g.Backend.Find(ctx, q)
}

func gated(err error) (*gatedBackend, func(storage.Backend) storage.Backend) {
	g := &gatedBackend{gate: make(chan struct{}), err: err}
	return g, func(b storage.Backend) storage.Backend {
		g.Backend = b
		return g
	}
}

// countingBackend counts Find calls.
type countingBackend struct {
	storage.Backend
	finds atomic.Int64
}

func (c *countingBackend) Find(ctx context.Context, q storage.Query) ([]model.Document, error) {
	c.finds.Add(1)
	return c.Backend.Find(ctx, q)
}

func observer(conn string, index int, ch Channel) Observer {
	return Observer{
		Key:     ObserverKey{ConnID: conn, ClientIndex: index},
		Channel: ch,
	}
}

func TestRegistry_Dedup(t *testing.T) {
	counter := &countingBackend{}
	f := newFixtureWithStore(t, config.DefaultConfig(), func(b storage.Backend) storage.Backend {
		counter.Backend = b
		return counter
	})
	f.seed(hero("A", "health", 100))

	f.attach("c1", 0, 0, query.Descriptor{Sort: "-health", Limit: 2})
	f.attach("c2", 5, 0, query.Descriptor{Sort: []interface{}{"-health"}, Limit: 2})
	f.attach("c3", 0, 0, query.Descriptor{Sort: []string{"-health"}, Limit: 2, Count: false})

	stats := f.registry.Stats()
	assert.Equal(t, 1, stats.Views)
	assert.Equal(t, 3, stats.Attachments)
	assert.Equal(t, 3, stats.Connections)
	assert.Equal(t, "heroes", stats.Collection)
	require.Len(t, stats.Fingerprints, 1)
	assert.Equal(t, int64(1), counter.finds.Load())

	f.attach("c1", 1, 0, query.Descriptor{Sort: "health"})
	assert.Equal(t, 2, f.registry.Stats().Views)

	require.NoError(t, f.registry.Detach(ObserverKey{ConnID: "c1", ClientIndex: 0}))
	require.NoError(t, f.registry.Detach(ObserverKey{ConnID: "c2", ClientIndex: 5}))
	assert.Equal(t, 2, f.registry.Stats().Views)

	require.NoError(t, f.registry.Detach(ObserverKey{ConnID: "c3", ClientIndex: 0}))
	assert.Equal(t, 1, f.registry.Stats().Views)

	err := f.registry.Detach(ObserverKey{ConnID: "c3", ClientIndex: 0})
	assert.ErrorIs(t, err, model.ErrInvalidSubscription)
}

func TestRegistry_AttachmentCeiling(t *testing.T) {
	f := newFixture(t, config.DefaultConfig())
	f.seed(hero("A", "score", 1))

	conn := &recorder{}
	for i := 0; i < 100; i++ {
		// Alternate between two queries so several views share the budget.
		desc := query.Descriptor{Sort: "score", Limit: 10 + i%2}
		_, err := f.registry.Attach(context.Background(), observer("c1", i, conn), desc)
		require.NoError(t, err)
	}
	assert.Equal(t, 100, f.registry.attachments("c1"))

	_, err := f.registry.Attach(context.Background(), observer("c1", 100, conn), query.Descriptor{})
	assert.ErrorIs(t, err, model.ErrLimitExceeded)
	assert.Equal(t, 100, f.registry.attachments("c1"))

	// Other connections are not affected.
	other := &recorder{}
	_, err = f.registry.Attach(context.Background(), observer("c2", 0, other), query.Descriptor{Sort: "score", Limit: 10})
	require.NoError(t, err)

	// The existing attachments keep receiving updates.
	f.update(hero("A", "score", 2))
	f.docsOf(query.Descriptor{Sort: "score", Limit: 10})
	f.docsOf(query.Descriptor{Sort: "score", Limit: 11})

	pushes := conn.all()
	assert.Len(t, pushes, 100)
	seen := make(map[int]bool)
	for _, p := range pushes {
		seen[p.ClientIndex] = true
	}
	assert.Len(t, seen, 100)
	assert.Len(t, other.all(), 1)

	// Re-attaching under a used index replaces instead of counting twice.
	_, err = f.registry.Attach(context.Background(), observer("c1", 0, conn), query.Descriptor{})
	require.NoError(t, err)
	assert.Equal(t, 100, f.registry.attachments("c1"))

	require.NoError(t, f.registry.Detach(ObserverKey{ConnID: "c1", ClientIndex: 1}))
	_, err = f.registry.Attach(context.Background(), observer("c1", 100, conn), query.Descriptor{})
	assert.NoError(t, err)
}

func TestRegistry_CustomCeiling(t *testing.T) {
	f := newFixture(t, config.Config{MaxAttachments: 2})

	for i := 0; i < 2; i++ {
		_, err := f.registry.Attach(context.Background(), observer("c1", i, &recorder{}), query.Descriptor{})
		require.NoError(t, err)
	}
	_, err := f.registry.Attach(context.Background(), observer("c1", 2, &recorder{}), query.Descriptor{})
	assert.ErrorIs(t, err, model.ErrLimitExceeded)
}

func TestRegistry_DetachAll(t *testing.T) {
	f := newFixture(t, config.DefaultConfig())
	f.attach("c1", 0, 0, query.Descriptor{})
	f.attach("c1", 1, 0, query.Descriptor{Sort: "a"})
	f.attach("c2", 0, 0, query.Descriptor{})

	assert.Equal(t, 2, f.registry.Stats().Connections)
	assert.Equal(t, 2, f.registry.DetachAll("c1"))
	assert.Equal(t, 0, f.registry.attachments("c1"))
	stats := f.registry.Stats()
	assert.Equal(t, 1, stats.Views)
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 1, stats.Attachments)
	assert.Equal(t, 0, f.registry.DetachAll("c1"))
}

func TestRegistry_DetachStopsDelivery(t *testing.T) {
	f := newFixture(t, config.DefaultConfig())
	desc := query.Descriptor{}
	rec, _ := f.attach("c1", 0, 0, desc)
	keep, _ := f.attach("c2", 0, 0, desc)

	require.NoError(t, f.registry.Detach(ObserverKey{ConnID: "c1", ClientIndex: 0}))
	f.create(hero("A"))
	f.docsOf(desc)

	assert.Empty(t, rec.all())
	assert.Len(t, keep.all(), 1)
}

func TestRegistry_InvalidDescriptor(t *testing.T) {
	f := newFixture(t, config.DefaultConfig())

	_, err := f.registry.Attach(context.Background(), observer("c1", 0, &recorder{}), query.Descriptor{Sort: "a", Count: true})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.registry.Attach(context.Background(), observer("c1", 0, &recorder{}), query.Descriptor{Sort: []interface{}{1}})
	assert.ErrorIs(t, err, model.ErrValidation)

	assert.Equal(t, 0, f.registry.Stats().Views)
	assert.Equal(t, 0, f.registry.attachments("c1"))
}

func TestRegistry_PermissionDenied(t *testing.T) {
	s, err := schema.Parse([]byte(`
collections:
  vault:
    permissions:
      read: 5
`))
	require.NoError(t, err)
	az, err := authz.NewEngine(s)
	require.NoError(t, err)
	store, err := memory.NewBackend()
	require.NoError(t, err)
	coll, _ := s.Collection("vault")
	r := NewRegistry(config.DefaultConfig(), coll, store, az)
	defer r.Close()

	obs := observer("c1", 0, &recorder{})
	_, err = r.Attach(context.Background(), obs, query.Descriptor{})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)

	obs.Identity = identity.Identity{ID: "u1", Level: 5}
	_, err = r.Attach(context.Background(), obs, query.Descriptor{})
	assert.NoError(t, err)
}

func TestRegistry_FirstExecutionFailure(t *testing.T) {
	boom := errors.New("connection refused")
	g, wrap := gated(boom)
	f := newFixtureWithStore(t, config.DefaultConfig(), wrap)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.registry.Attach(context.Background(), observer(fmt.Sprintf("c%d", i), 0, &recorder{}), query.Descriptor{})
		}(i)
	}
	require.Eventually(t, func() bool { return f.registry.Stats().Attachments == 3 }, time.Second, 5*time.Millisecond)

	close(g.gate)
	wg.Wait()
	for _, err := range errs {
		assert.ErrorIs(t, err, model.ErrStoreFailure)
		assert.ErrorIs(t, err, boom)
	}

	stats := f.registry.Stats()
	assert.Equal(t, 0, stats.Views)
	assert.Equal(t, 0, stats.Attachments)
}

func TestRegistry_AttachWaitsForFirstExecution(t *testing.T) {
	g, wrap := gated(nil)
	f := newFixtureWithStore(t, config.DefaultConfig(), wrap)
	f.seed(hero("A"))

	type result struct {
		snap *Snapshot
		err  error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			snap, err := f.registry.Attach(context.Background(), observer("c1", i, &recorder{}), query.Descriptor{})
			results <- result{snap, err}
		}(i)
	}
	require.Eventually(t, func() bool { return f.registry.attachments("c1") == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.registry.Stats().Views)

	select {
	case <-results:
		t.Fatal("attach resolved before the first execution")
	case <-time.After(20 * time.Millisecond):
	}

	close(g.gate)
	for i := 0; i < 2; i++ {
		res := <-results
		require.NoError(t, res.err)
		assert.Equal(t, []string{"A"}, idsOf(res.snap.Docs))
	}
}

func TestRegistry_AbandonedAttach(t *testing.T) {
	g, wrap := gated(nil)
	f := newFixtureWithStore(t, config.DefaultConfig(), wrap)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.registry.Attach(ctx, observer("c1", 0, &recorder{}), query.Descriptor{})
	assert.ErrorIs(t, err, model.ErrCanceled)
	assert.Equal(t, 0, f.registry.attachments("c1"))

	// The view goes away once its queued attach has been discarded.
	close(g.gate)
	assert.Eventually(t, func() bool { return f.registry.Stats().Views == 0 }, time.Second, 5*time.Millisecond)
}

func TestRegistry_Close(t *testing.T) {
	f := newFixture(t, config.DefaultConfig())
	f.attach("c1", 0, 0, query.Descriptor{})

	f.registry.Close()
	assert.Equal(t, 0, f.registry.Stats().Views)

	_, err := f.registry.Attach(context.Background(), observer("c1", 1, &recorder{}), query.Descriptor{})
	assert.ErrorIs(t, err, model.ErrCanceled)
}
