package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const maxDedupEntries = 4096

// DedupHandler passes the first of a run of identical records and drops the
// copies that follow within window. The next record let through for the same
// content carries a "suppressed" attribute with the number of dropped copies.
// Records are identical when level, message and attributes match; the
// timestamp is ignored.
type DedupHandler struct {
	handler slog.Handler
	window  time.Duration
	scope   uint64
	state   *dedupState
}

type dedupState struct {
	mu   sync.Mutex
	now  func() time.Time
	seen map[uint64]*dedupEntry
}

type dedupEntry struct {
	first      time.Time
	suppressed int
}

// NewDedupHandler wraps handler. A window <= 0 disables suppression.
func NewDedupHandler(handler slog.Handler, window time.Duration) *DedupHandler {
	return &DedupHandler{
		handler: handler,
		window:  window,
		state: &dedupState{
			now:  time.Now,
			seen: make(map[uint64]*dedupEntry),
		},
	}
}

func (h *DedupHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *DedupHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.window <= 0 {
		return h.handler.Handle(ctx, r)
	}

	key := h.key(r)
	s := h.state
	s.mu.Lock()
	now := s.now()
	e, ok := s.seen[key]
	if ok && now.Sub(e.first) < h.window {
		e.suppressed++
		s.mu.Unlock()
		return nil
	}
	suppressed := 0
	if ok {
		suppressed = e.suppressed
	}
	if len(s.seen) >= maxDedupEntries {
		s.pruneLocked(now, h.window)
	}
	s.seen[key] = &dedupEntry{first: now}
	s.mu.Unlock()

	if suppressed > 0 {
		r = r.Clone()
		r.AddAttrs(slog.Int("suppressed", suppressed))
	}
	return h.handler.Handle(ctx, r)
}

func (h *DedupHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	d := xxhash.New()
	writeUint64(d, h.scope)
	for _, a := range attrs {
		writeAttr(d, a)
	}
	return &DedupHandler{
		handler: h.handler.WithAttrs(attrs),
		window:  h.window,
		scope:   d.Sum64(),
		state:   h.state,
	}
}

func (h *DedupHandler) WithGroup(name string) slog.Handler {
	d := xxhash.New()
	writeUint64(d, h.scope)
	_, _ = d.WriteString("group:" + name)
	return &DedupHandler{
		handler: h.handler.WithGroup(name),
		window:  h.window,
		scope:   d.Sum64(),
		state:   h.state,
	}
}

func (h *DedupHandler) key(r slog.Record) uint64 {
	d := xxhash.New()
	writeUint64(d, h.scope)
	_, _ = d.WriteString(r.Level.String())
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(d, a)
		return true
	})
	return d.Sum64()
}

// pruneLocked drops entries whose window has passed. If every entry is still
// live the map is reset.
func (s *dedupState) pruneLocked(now time.Time, window time.Duration) {
	for k, e := range s.seen {
		if now.Sub(e.first) >= window {
			delete(s.seen, k)
		}
	}
	if len(s.seen) >= maxDedupEntries {
		s.seen = make(map[uint64]*dedupEntry)
	}
}

func writeAttr(d *xxhash.Digest, a slog.Attr) {
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(a.Key)
	_, _ = d.WriteString("=")
	_, _ = d.WriteString(a.Value.Resolve().String())
}

func writeUint64(d *xxhash.Digest, v uint64) {
	var b [8]byte
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	_, _ = d.Write(b[:])
}
