package liveview

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"livesync/internal/authz"
	"livesync/internal/liveview/config"
	"livesync/internal/metrics"
	"livesync/internal/query"
	"livesync/internal/schema"
	"livesync/internal/storage"
	"livesync/pkg/model"
)

type attachment struct {
	view *View
	req  *attachRequest
}

// Stats describes the live views of one collection.
type Stats struct {
	Collection   string   `json:"collection"`
	Views        int      `json:"views"`
	Attachments  int      `json:"attachments"`
	Connections  int      `json:"connections"`
	Fingerprints []string `json:"fingerprints"`
}

// Registry owns the live views of one collection, one per distinct query.
type Registry struct {
	cfg   config.Config
	coll  *schema.Collection
	store storage.Backend
	authz *authz.Engine

	mu       sync.RWMutex
	views    map[string]*View
	attached map[ObserverKey]*attachment
	perConn  map[string]int
	closed   bool
}

// NewRegistry creates an empty registry for coll.
func NewRegistry(cfg config.Config, coll *schema.Collection, store storage.Backend, az *authz.Engine) *Registry {
	cfg.ApplyDefaults()
	return &Registry{
		cfg:      cfg,
		coll:     coll,
		store:    store,
		authz:    az,
		views:    make(map[string]*View),
		attached: make(map[ObserverKey]*attachment),
		perConn:  make(map[string]int),
	}
}

func (r *Registry) Collection() string {
	return r.coll.Name
}

// Attach registers obs on the live view for desc, creating the view on first
// use, and returns the observer's starting snapshot. It blocks until the view
// has executed its query. Attaching under a key already in use replaces the
// previous attachment.
func (r *Registry) Attach(ctx context.Context, obs Observer, desc query.Descriptor) (*Snapshot, error) {
	n, err := desc.Normalize()
	if err != nil {
		return nil, err
	}
	if err := r.authz.Authorize(obs.Identity, schema.Read, r.coll, nil); err != nil {
		return nil, err
	}
	obs.Count = n.Count
	fp := n.Fingerprint(r.coll.Name)
	req := newAttachRequest(obs)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, model.ErrCanceled
	}
	if prev, ok := r.attached[obs.Key]; ok {
		r.detachLocked(obs.Key, prev)
	}
	if r.perConn[obs.Key.ConnID] >= r.cfg.MaxAttachments {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %d live queries on connection %s",
			model.ErrLimitExceeded, r.cfg.MaxAttachments, obs.Key.ConnID)
	}

	v, ok := r.views[fp]
	if !ok {
		v = newView(r.coll, fp, n, r.store, r.release)
		r.views[fp] = v
		v.start()
		metrics.LiveViews.WithLabelValues(r.coll.Name).Inc()
		slog.Info("[Info][LiveView] Live view created", "collection", r.coll.Name, "query", v.digest)
	}
	if !v.enqueueAttach(req) {
		r.mu.Unlock()
		return nil, v.closedErr()
	}
	r.attached[obs.Key] = &attachment{view: v, req: req}
	r.perConn[obs.Key.ConnID]++
	r.mu.Unlock()

	select {
	case res := <-req.result:
		if res.err != nil {
			r.abandon(obs.Key, req)
			return nil, res.err
		}
		return res.snapshot, nil
	case <-ctx.Done():
		r.abandon(obs.Key, req)
		return nil, model.WrapError(ctx.Err())
	}
}

// Detach removes one attachment. Delivery to it stops before Detach returns.
func (r *Registry) Detach(key ObserverKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attached[key]
	if !ok {
		return fmt.Errorf("%w: no live query at index %d", model.ErrInvalidSubscription, key.ClientIndex)
	}
	r.detachLocked(key, a)
	return nil
}

// DetachAll removes every attachment of a connection and returns how many
// there were.
func (r *Registry) DetachAll(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for key, a := range r.attached {
		if key.ConnID == connID {
			r.detachLocked(key, a)
			count++
		}
	}
	return count
}

func (r *Registry) abandon(key ObserverKey, req *attachRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attached[key]
	if !ok || a.req != req {
		return
	}
	r.detachLocked(key, a)
}

func (r *Registry) detachLocked(key ObserverKey, a *attachment) {
	delete(r.attached, key)
	r.perConn[key.ConnID]--
	if r.perConn[key.ConnID] <= 0 {
		delete(r.perConn, key.ConnID)
	}
	a.req.canceled.Store(true)
	a.view.removeObserver(key)
	r.releaseLocked(a.view)
}

func (r *Registry) release(v *View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(v)
}

func (r *Registry) releaseLocked(v *View) {
	if r.views[v.fingerprint] != v || !v.removable() {
		return
	}
	delete(r.views, v.fingerprint)
	v.destroy()
	metrics.LiveViews.WithLabelValues(r.coll.Name).Dec()
	slog.Info("[Info][LiveView] Live view destroyed", "collection", r.coll.Name, "query", v.digest)
}

// dispatch queues evt on every live view of the collection.
func (r *Registry) dispatch(evt storage.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.views {
		v.enqueueEvent(evt)
	}
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Collection:   r.coll.Name,
		Views:        len(r.views),
		Attachments:  len(r.attached),
		Connections:  len(r.perConn),
		Fingerprints: make([]string, 0, len(r.views)),
	}
	for fp := range r.views {
		s.Fingerprints = append(s.Fingerprints, fp)
	}
	sort.Strings(s.Fingerprints)
	return s
}

// Close destroys every live view. Waiting attachers fail with ErrCanceled.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true

	for fp, v := range r.views {
		delete(r.views, fp)
		v.destroy()
		metrics.LiveViews.WithLabelValues(r.coll.Name).Dec()
	}
	for key, a := range r.attached {
		a.req.canceled.Store(true)
		delete(r.attached, key)
	}
	r.perConn = make(map[string]int)
}
