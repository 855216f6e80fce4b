package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"livesync/internal/authz"
	"livesync/internal/events"
	"livesync/internal/identity"
	"livesync/internal/liveview"
	"livesync/internal/query"
	"livesync/internal/schema"
	"livesync/pkg/model"
)

var (
	errSessionClosed = errors.New("session closed")
	errSendOverflow  = errors.New("send buffer full")
)

// Endpoint bundles what a session needs from its collection.
type Endpoint struct {
	Collection *schema.Collection
	Registry   *liveview.Registry
	Bus        *events.Bus
	Authz      *authz.Engine
}

// Session holds the live attachments and event subscriptions of one
// connection. It implements liveview.Channel.
type Session struct {
	id             string
	endpoint       Endpoint
	engine         *query.Engine
	auth           *identity.Authenticator
	requestTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	out  chan Message
	done chan struct{}

	mu     sync.Mutex
	caller identity.Identity
	authed bool
	closed bool
	// pending holds pushes for attachments whose snapshot has not been sent.
	pending map[int][]Message
	subs    map[events.Kind]events.ListenerID
}

// NewSession creates a session. A non-empty token authenticates the
// connection up front.
func NewSession(endpoint Endpoint, engine *query.Engine, auth *identity.Authenticator, sendBuffer int, requestTimeout time.Duration, token string) (*Session, error) {
	s := &Session{
		id:             uuid.NewString(),
		endpoint:       endpoint,
		engine:         engine,
		auth:           auth,
		requestTimeout: requestTimeout,
		out:            make(chan Message, sendBuffer),
		done:           make(chan struct{}),
		pending:        make(map[int][]Message),
		subs:           make(map[events.Kind]events.ListenerID),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if token != "" || !auth.Required() {
		id, err := auth.Authenticate(token)
		if err != nil {
			s.cancel()
			return nil, permissionDenied(err)
		}
		s.caller = id
		s.authed = true
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Outbox yields the messages to write to the connection.
func (s *Session) Outbox() <-chan Message { return s.out }

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Identity() identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caller
}

// Push queues a live view notification. It never blocks; a session that
// cannot keep up is closed.
func (s *Session) Push(clientIndex int, n liveview.Notification) error {
	msg := pushMessage(clientIndex, n)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if held, ok := s.pending[clientIndex]; ok {
		s.pending[clientIndex] = append(held, msg)
		return nil
	}
	return s.enqueueLocked(msg)
}

// Handle runs one request and queues its reply.
func (s *Session) Handle(ctx context.Context, req Request) {
	if req.Method == MethodLiveQuery {
		s.liveQuery(ctx, req)
		return
	}

	result, err := s.call(ctx, req)
	var msg Message
	if err != nil {
		msg = errorMessage(req.ID, err)
	} else {
		msg = resultMessage(req.ID, result)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enqueueLocked(msg)
}

// Reply queues msg unless the session is closed.
func (s *Session) Reply(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enqueueLocked(msg)
}

func (s *Session) call(ctx context.Context, req Request) (interface{}, error) {
	caller, err := s.identityFor(req.Method)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.requestContext(ctx)
	defer cancel()
	name := s.endpoint.Collection.Name

	switch req.Method {
	case MethodAuth:
		var p AuthParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.authenticate(p.Token)

	case MethodQuery:
		var desc query.Descriptor
		if err := decodeParams(req.Params, &desc); err != nil {
			return nil, err
		}
		return s.engine.Query(ctx, caller, name, desc)

	case MethodCreate:
		var doc model.Document
		if err := decodeParams(req.Params, &doc); err != nil {
			return nil, err
		}
		return s.engine.Create(ctx, caller, name, doc)

	case MethodUpdate:
		var patch model.Document
		if err := decodeParams(req.Params, &patch); err != nil {
			return nil, err
		}
		return s.engine.Update(ctx, caller, name, patch)

	case MethodRemove:
		var p RemoveParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.engine.Remove(ctx, caller, name, p.ID); err != nil {
			return nil, err
		}
		return RemoveResult{ID: p.ID}, nil

	case MethodStop:
		var p StopParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.Stop(p.Index); err != nil {
			return nil, err
		}
		return p, nil

	case MethodSubscribe:
		var p SubscribeParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.Subscribe(events.Kind(p.Event)); err != nil {
			return nil, err
		}
		return SubscribeResult{Events: []events.Kind{events.Kind(p.Event)}}, nil

	case MethodSubscribeAll:
		kinds, err := s.SubscribeAll()
		if err != nil {
			return nil, err
		}
		return SubscribeResult{Events: kinds}, nil

	case MethodUnsubscribe:
		var p SubscribeParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return UnsubscribeResult{Removed: s.Unsubscribe(events.Kind(p.Event))}, nil

	case MethodUnsubscribeAll:
		return UnsubscribeResult{Removed: s.UnsubscribeAll()}, nil

	default:
		return nil, model.Validationf("unknown method %q", req.Method)
	}
}

// liveQuery attaches a live view and queues its snapshot ahead of any push
// the view produced meanwhile.
func (s *Session) liveQuery(ctx context.Context, req Request) {
	var p LiveQueryParams
	caller, err := s.identityFor(req.Method)
	if err == nil {
		err = decodeParams(req.Params, &p)
	}
	if err != nil {
		s.Reply(errorMessage(req.ID, err))
		return
	}

	key := liveview.ObserverKey{ConnID: s.id, ClientIndex: p.Index}
	// Stop any attachment at this index first so its pushes cannot be
	// mistaken for pushes of the new one.
	_ = s.endpoint.Registry.Detach(key)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending[p.Index] = nil
	s.mu.Unlock()

	ctx, cancel := s.requestContext(ctx)
	defer cancel()
	snap, err := s.endpoint.Registry.Attach(ctx, liveview.Observer{
		Key:      key,
		Channel:  s,
		Identity: caller,
	}, p.Query)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		// Teardown may have run before this attach landed.
		if err == nil {
			_ = s.endpoint.Registry.Detach(key)
		}
		return
	}
	defer s.mu.Unlock()
	held := s.pending[p.Index]
	delete(s.pending, p.Index)
	if err != nil {
		_ = s.enqueueLocked(errorMessage(req.ID, err))
		return
	}
	if s.enqueueLocked(resultMessage(req.ID, snap)) != nil {
		return
	}
	for _, msg := range held {
		if s.enqueueLocked(msg) != nil {
			return
		}
	}
}

// Stop detaches the live view at clientIndex.
func (s *Session) Stop(clientIndex int) error {
	return s.endpoint.Registry.Detach(liveview.ObserverKey{ConnID: s.id, ClientIndex: clientIndex})
}

// Subscribe registers for a named event, replacing an earlier subscription
// to the same event.
func (s *Session) Subscribe(kind events.Kind) error {
	if !s.endpoint.Bus.Known(kind) {
		return model.Validationf("unknown event %q for collection %s", kind, s.endpoint.Collection.Name)
	}
	if err := s.canRead(); err != nil {
		return err
	}
	return s.subscribe(kind)
}

// SubscribeAll subscribes to every event the collection declares.
func (s *Session) SubscribeAll() ([]events.Kind, error) {
	if err := s.canRead(); err != nil {
		return nil, err
	}
	kinds := s.endpoint.Bus.Kinds()
	for _, kind := range kinds {
		if err := s.subscribe(kind); err != nil {
			return nil, err
		}
	}
	return kinds, nil
}

func (s *Session) subscribe(kind events.Kind) error {
	id, err := s.endpoint.Bus.On(kind, s.deliverEvent)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.endpoint.Bus.Off(kind, id)
		return model.ErrCanceled
	}
	prev, replaced := s.subs[kind]
	s.subs[kind] = id
	s.mu.Unlock()

	if replaced {
		s.endpoint.Bus.Off(kind, prev)
	}
	return nil
}

// Unsubscribe removes the subscription to kind and reports how many were
// removed.
func (s *Session) Unsubscribe(kind events.Kind) int {
	s.mu.Lock()
	id, ok := s.subs[kind]
	delete(s.subs, kind)
	s.mu.Unlock()

	if ok && s.endpoint.Bus.Off(kind, id) {
		return 1
	}
	return 0
}

func (s *Session) UnsubscribeAll() int {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[events.Kind]events.ListenerID)
	s.mu.Unlock()

	return s.offAll(subs)
}

func (s *Session) offAll(subs map[events.Kind]events.ListenerID) int {
	removed := 0
	for kind, id := range subs {
		if s.endpoint.Bus.Off(kind, id) {
			removed++
		}
	}
	return removed
}

func (s *Session) deliverEvent(evt events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[evt.Kind]; !ok {
		return
	}
	coll := s.endpoint.Collection
	payload := authz.StripFields(evt.Document, coll.Fields, schema.Read, s.caller.Level)
	_ = s.enqueueLocked(eventMessage(evt.Kind, payload))
}

// Close detaches every live view and drops every event subscription.
func (s *Session) Close() {
	s.mu.Lock()
	first := s.closeLocked()
	s.mu.Unlock()
	if first {
		s.teardown()
	}
}

func (s *Session) closeLocked() bool {
	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)
	s.cancel()
	return true
}

// teardown runs without s.mu held: views push while holding their own
// locks.
func (s *Session) teardown() {
	detached := s.endpoint.Registry.DetachAll(s.id)

	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[events.Kind]events.ListenerID)
	s.pending = make(map[int][]Message)
	s.mu.Unlock()
	removed := s.offAll(subs)

	slog.Debug("[Debug][WS] Session closed", "session", s.id, "collection", s.endpoint.Collection.Name,
		"attachments", detached, "subscriptions", removed)
}

func (s *Session) enqueueLocked(msg Message) error {
	if s.closed {
		return errSessionClosed
	}
	select {
	case s.out <- msg:
		return nil
	default:
		slog.Warn("[Warn][WS] Send buffer full, closing session", "session", s.id, "collection", s.endpoint.Collection.Name)
		if s.closeLocked() {
			go s.teardown()
		}
		return errSendOverflow
	}
}

func (s *Session) authenticate(token string) (identity.Identity, error) {
	id, err := s.auth.Authenticate(token)
	if err != nil {
		return identity.Identity{}, permissionDenied(err)
	}
	s.mu.Lock()
	s.caller = id
	s.authed = true
	s.mu.Unlock()
	return id, nil
}

func (s *Session) identityFor(method string) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if method != MethodAuth && !s.authed {
		return identity.Identity{}, model.PermissionDeniedf("authentication required")
	}
	return s.caller, nil
}

func (s *Session) canRead() error {
	caller, err := s.identityFor(MethodSubscribe)
	if err != nil {
		return err
	}
	return s.endpoint.Authz.Authorize(caller, schema.Read, s.endpoint.Collection, nil)
}

func (s *Session) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	if s.requestTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.requestTimeout)
		return ctx, func() {
			cancelTimeout()
			stop()
			cancel()
		}
	}
	return ctx, func() {
		stop()
		cancel()
	}
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return model.Validationf("invalid params: %v", err)
	}
	return nil
}

func permissionDenied(err error) error {
	if errors.Is(err, model.ErrPermissionDenied) {
		return err
	}
	return model.PermissionDeniedf("%v", err)
}
