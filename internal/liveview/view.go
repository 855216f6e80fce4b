// Package liveview keeps the materialized results of live queries current as
// documents change, and pushes privilege-filtered deltas to their observers.
package liveview

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"livesync/internal/authz"
	"livesync/internal/metrics"
	"livesync/internal/query"
	"livesync/internal/schema"
	"livesync/internal/storage"
	"livesync/pkg/model"
)

type state int

const (
	statePending state = iota
	stateReady
	stateFailed
	stateDestroyed
)

func (s state) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	default:
		return "destroyed"
	}
}

// Snapshot is the result an observer starts from: the documents, or their
// number for count queries, and the client index it was attached under.
type Snapshot struct {
	Docs  []model.Document `json:"docs,omitempty"`
	Count *int             `json:"count,omitempty"`
	Index int              `json:"index"`
}

type attachResult struct {
	snapshot *Snapshot
	err      error
}

type attachRequest struct {
	observer Observer
	canceled atomic.Bool
	result   chan attachResult
}

func newAttachRequest(obs Observer) *attachRequest {
	return &attachRequest{observer: obs, result: make(chan attachResult, 1)}
}

type docsResult struct {
	docs []model.Document
	err  error
}

// task is one unit of work for the view's actor. Exactly one field is set.
type task struct {
	event  *storage.Event
	attach *attachRequest
	read   chan docsResult
}

// View is the live result of one distinct query. The document list is owned
// by a single goroutine that executes the query once and then works through
// change events and attach requests strictly in arrival order.
type View struct {
	coll        *schema.Collection
	fingerprint string
	digest      string
	query       query.Normalized
	store       storage.Backend
	tasks       *queue[task]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	// release is called from the actor once the view may be removable.
	release func(*View)

	mu        sync.RWMutex
	state     state
	observers map[ObserverKey]*Observer
	pending   int

	docs []model.Document
}

func newView(coll *schema.Collection, fingerprint string, n query.Normalized, store storage.Backend, release func(*View)) *View {
	ctx, cancel := context.WithCancel(context.Background())
	return &View{
		coll:        coll,
		fingerprint: fingerprint,
		digest:      query.Digest(fingerprint),
		query:       n,
		store:       store,
		tasks:       newQueue[task](),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		release:     release,
		observers:   make(map[ObserverKey]*Observer),
	}
}

func (v *View) start() {
	go v.run()
}

// Fingerprint returns the canonical query the view is keyed by.
func (v *View) Fingerprint() string {
	return v.fingerprint
}

// Digest returns the short hash of the fingerprint used in logs.
func (v *View) Digest() string {
	return v.digest
}

// Observers returns the number of attached observers.
func (v *View) Observers() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.observers)
}

func (v *View) run() {
	defer close(v.done)

	docs, err := v.store.Find(v.ctx, v.windowQuery())
	if err != nil {
		v.fail(err)
		return
	}
	v.docs = docs

	v.mu.Lock()
	if v.state == statePending {
		v.state = stateReady
	}
	v.mu.Unlock()
	slog.Debug("[Debug][LiveView] First execution done", "collection", v.coll.Name, "query", v.digest, "docs", len(docs))

	for {
		t, ok := v.tasks.pop(v.ctx)
		if !ok {
			v.discard(model.ErrCanceled)
			return
		}
		v.handle(t)
	}
}

// windowQuery is the paginated query without projection. Projection is
// applied per observer so that the sort keys stay available to the locator.
func (v *View) windowQuery() storage.Query {
	q := v.query.StorageQuery(v.coll.Name)
	q.Select = nil
	return q
}

func (v *View) fail(err error) {
	if model.IsCanceled(err) || v.ctx.Err() != nil {
		v.discard(model.ErrCanceled)
		return
	}

	metrics.StoreErrors.WithLabelValues(v.coll.Name, "find").Inc()
	slog.Error("[Error][LiveView] First execution failed",
		"collection", v.coll.Name, "query", v.fingerprint, "digest", v.digest, "error", err)

	v.mu.Lock()
	v.state = stateFailed
	v.mu.Unlock()

	v.discard(model.NewStoreError("find", "", v.fingerprint, err))
	v.release(v)
}

// discard closes the task queue and rejects what is left in it.
func (v *View) discard(err error) {
	for _, t := range v.tasks.close() {
		v.reject(t, err)
	}
}

func (v *View) reject(t task, err error) {
	switch {
	case t.attach != nil:
		v.mu.Lock()
		v.pending--
		v.mu.Unlock()
		t.attach.result <- attachResult{err: err}
	case t.read != nil:
		t.read <- docsResult{err: err}
	}
}

func (v *View) closedErr() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state == stateFailed {
		return model.NewStoreError("find", "", v.fingerprint, model.ErrStoreFailure)
	}
	return model.ErrCanceled
}

func (v *View) handle(t task) {
	switch {
	case t.attach != nil:
		v.handleAttach(t.attach)
	case t.event != nil:
		v.reconcile(*t.event)
	case t.read != nil:
		out := make([]model.Document, len(v.docs))
		for i, d := range v.docs {
			out[i] = d.Clone()
		}
		t.read <- docsResult{docs: out}
	}
}

// enqueueAttach registers a pending attacher and queues its request.
func (v *View) enqueueAttach(req *attachRequest) bool {
	v.mu.Lock()
	v.pending++
	v.mu.Unlock()

	if !v.tasks.push(task{attach: req}) {
		v.mu.Lock()
		v.pending--
		v.mu.Unlock()
		return false
	}
	return true
}

func (v *View) enqueueEvent(evt storage.Event) {
	v.tasks.push(task{event: &evt})
}

func (v *View) handleAttach(req *attachRequest) {
	v.mu.Lock()
	v.pending--
	if req.canceled.Load() || v.state == stateDestroyed {
		idle := v.idleLocked()
		v.mu.Unlock()
		req.result <- attachResult{err: model.ErrCanceled}
		if idle {
			v.release(v)
		}
		return
	}

	obs := req.observer
	v.observers[obs.Key] = &obs
	snap := v.snapshot(&obs)
	v.mu.Unlock()

	metrics.Attachments.WithLabelValues(v.coll.Name).Inc()
	req.result <- attachResult{snapshot: snap}
}

func (v *View) snapshot(obs *Observer) *Snapshot {
	snap := &Snapshot{Index: obs.Key.ClientIndex}
	if obs.Count {
		count := len(v.docs)
		snap.Count = &count
		return snap
	}
	snap.Docs = make([]model.Document, 0, len(v.docs))
	for _, d := range v.docs {
		snap.Docs = append(snap.Docs, v.render(d, obs))
	}
	return snap
}

// render projects doc for one observer and removes the fields it may not read.
func (v *View) render(doc model.Document, obs *Observer) model.Document {
	projected := storage.ApplySelect(doc, map[string]int(v.query.Select))
	return authz.StripFields(projected, v.coll.Fields, schema.Read, obs.Identity.Level)
}

func (v *View) removeObserver(key ObserverKey) bool {
	v.mu.Lock()
	_, ok := v.observers[key]
	delete(v.observers, key)
	v.mu.Unlock()

	if ok {
		metrics.Attachments.WithLabelValues(v.coll.Name).Dec()
	}
	return ok
}

func (v *View) idleLocked() bool {
	return len(v.observers) == 0 && v.pending == 0
}

// removable reports whether the registry may drop the view.
func (v *View) removable() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state == stateFailed || v.idleLocked()
}

func (v *View) destroy() {
	v.mu.Lock()
	if v.state == stateDestroyed {
		v.mu.Unlock()
		return
	}
	v.state = stateDestroyed
	dropped := len(v.observers)
	v.observers = make(map[ObserverKey]*Observer)
	v.mu.Unlock()

	if dropped > 0 {
		metrics.Attachments.WithLabelValues(v.coll.Name).Sub(float64(dropped))
	}
	v.cancel()
	v.discard(model.ErrCanceled)
}

func (v *View) indexOf(id string) int {
	for i, d := range v.docs {
		if d.GetID() == id {
			return i
		}
	}
	return -1
}

func (v *View) insertAt(i int, doc model.Document) {
	v.docs = append(v.docs, nil)
	copy(v.docs[i+1:], v.docs[i:])
	v.docs[i] = doc
}

func (v *View) removeAt(i int) {
	copy(v.docs[i:], v.docs[i+1:])
	v.docs[len(v.docs)-1] = nil
	v.docs = v.docs[:len(v.docs)-1]
}

func (v *View) reconcile(evt storage.Event) {
	start := time.Now()
	defer func() {
		metrics.ReconcileLatency.WithLabelValues(v.coll.Name).Observe(time.Since(start).Seconds())
	}()
	metrics.Reconciliations.WithLabelValues(v.coll.Name, string(evt.Type)).Inc()

	id := evt.DocumentID()
	if id == "" {
		return
	}
	cIndex := v.indexOf(id)

	if evt.Type == storage.EventRemove {
		if cIndex == -1 {
			return
		}
		v.removeAt(cIndex)
		v.notify(OpRemove, id, nil, NoPosition)
		if v.query.Limit > 0 {
			v.backfill()
		}
		return
	}

	doc, err := v.recheck(id)
	if err != nil {
		v.storeFailed("recheck", id, err)
		return
	}
	if v.ctx.Err() != nil {
		return
	}

	if doc == nil {
		if evt.Type == storage.EventUpdate && cIndex != -1 {
			v.removeAt(cIndex)
			v.notify(OpUpdate, id, nil, Left)
		}
		return
	}

	op := OpCreate
	if evt.Type == storage.EventUpdate {
		op = OpUpdate
	}
	if len(v.query.OrderBy) > 0 {
		v.placeSorted(op, cIndex, doc)
	} else {
		v.placeUnsorted(op, cIndex, doc)
	}
}

// recheck returns the stored document if it still matches the query, or nil.
func (v *View) recheck(id string) (model.Document, error) {
	q := v.query.MatchQuery(v.coll.Name, id)
	q.Populate = v.query.Populate
	docs, err := v.store.Find(v.ctx, q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

func (v *View) placeSorted(op Op, cIndex int, doc model.Document) {
	orders := v.query.OrderBy
	limit := v.query.Limit

	if cIndex == -1 {
		target := Locate(doc, v.docs, orders)
		if limit > 0 && target >= limit {
			return
		}
		v.insertAt(target, doc)
		if limit > 0 && len(v.docs) > limit {
			v.removeAt(len(v.docs) - 1)
		}
		v.notify(op, doc.GetID(), doc, AtIndex(target))
		return
	}
	if op == OpCreate {
		return
	}

	// The target slot is located among the other documents.
	v.removeAt(cIndex)
	target := Locate(doc, v.docs, orders)
	v.insertAt(target, doc)
	if target == cIndex {
		v.notify(OpUpdate, doc.GetID(), doc, Unchanged(target))
		return
	}
	v.notify(OpUpdate, doc.GetID(), doc, AtIndex(target))
}

func (v *View) placeUnsorted(op Op, cIndex int, doc model.Document) {
	if cIndex == -1 {
		if v.query.Limit > 0 && len(v.docs) >= v.query.Limit {
			return
		}
		v.docs = append(v.docs, doc)
		pos := NoPosition
		if op == OpUpdate {
			pos = Entered
		}
		v.notify(op, doc.GetID(), doc, pos)
		return
	}
	if op == OpCreate {
		return
	}
	v.docs[cIndex] = doc
	v.notify(OpUpdate, doc.GetID(), doc, NoPosition)
}

// backfill fills the last slot of the window after a removal.
func (v *View) backfill() {
	metrics.Backfills.WithLabelValues(v.coll.Name).Inc()

	q := v.query.BackfillQuery(v.coll.Name)
	q.Select = nil
	docs, err := v.store.Find(v.ctx, q)
	if err != nil {
		v.storeFailed("backfill", "", err)
		return
	}
	if v.ctx.Err() != nil || len(docs) == 0 {
		return
	}

	doc := docs[0]
	// The store may already be ahead of the events processed so far.
	if v.indexOf(doc.GetID()) != -1 {
		return
	}
	v.docs = append(v.docs, doc)
	v.notify(OpPush, doc.GetID(), doc, NoPosition)
}

func (v *View) storeFailed(op, id string, err error) {
	if model.IsCanceled(err) {
		return
	}
	metrics.StoreErrors.WithLabelValues(v.coll.Name, op).Inc()
	slog.Error("[Error][LiveView] Store operation failed",
		"collection", v.coll.Name, "op", op, "id", id, "query", v.fingerprint, "digest", v.digest, "error", err)
}

// notify sends one delta to every observer. doc is nil for removals and
// exits, which carry the identity only.
func (v *View) notify(op Op, id string, doc model.Document, pos Position) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state == stateDestroyed || len(v.observers) == 0 {
		return
	}

	for _, obs := range v.observers {
		n := Notification{Op: op, Position: pos}
		switch {
		case obs.Count:
			count := len(v.docs)
			n.Count = &count
		case doc == nil:
			n.Payload = id
		default:
			n.Payload = v.render(doc, obs)
		}
		if err := obs.Channel.Push(obs.Key.ClientIndex, n); err != nil {
			slog.Warn("[Warn][LiveView] Failed to push notification",
				"observer", obs.Key.String(), "op", op, "query", v.digest, "error", err)
		}
	}
	metrics.Notifications.WithLabelValues(v.coll.Name, string(op)).Add(float64(len(v.observers)))
}
