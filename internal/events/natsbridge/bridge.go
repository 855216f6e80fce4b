// Package natsbridge forwards collection events to NATS subjects of the form
// <prefix>.<collection>.<event>.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"livesync/internal/events"
	"livesync/internal/events/config"
	"livesync/internal/metrics"
)

// Publisher sends one message.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

type corePublisher struct {
	nc *nats.Conn
}

func (p *corePublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return p.nc.Publish(subject, data)
}

type jetStreamPublisher struct {
	js jetstream.JetStream
}

func (p *jetStreamPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := p.js.Publish(ctx, subject, data)
	return err
}

// JetStreamNew is a variable to allow mocking in tests.
var JetStreamNew = func(nc *nats.Conn) (jetstream.JetStream, error) {
	return jetstream.New(nc)
}

// NewPublisher picks core NATS or, when a stream is configured, JetStream.
func NewPublisher(ctx context.Context, nc *nats.Conn, cfg config.Config) (Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if cfg.Stream == "" {
		return &corePublisher{nc: nc}, nil
	}

	js, err := JetStreamNew(nc)
	if err != nil {
		return nil, err
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		Storage:  jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}
	return &jetStreamPublisher{js: js}, nil
}

// Bridge subscribes to every kind of a set of buses and publishes the events
// in order from a single goroutine.
type Bridge struct {
	pub    Publisher
	prefix string
	queue  chan events.Event

	mu   sync.Mutex
	offs []func()
}

func New(pub Publisher, cfg config.Config) *Bridge {
	size := cfg.BufferSize
	if size <= 0 {
		size = 1024
	}
	return &Bridge{
		pub:    pub,
		prefix: cfg.SubjectPrefix,
		queue:  make(chan events.Event, size),
	}
}

// Subject returns the subject an event is published to.
func (b *Bridge) Subject(evt events.Event) string {
	if b.prefix == "" {
		return fmt.Sprintf("%s.%s", evt.Collection, evt.Kind)
	}
	return fmt.Sprintf("%s.%s.%s", b.prefix, evt.Collection, evt.Kind)
}

// Attach starts forwarding every event of bus.
func (b *Bridge) Attach(bus *events.Bus) {
	off := bus.OnAll(b.enqueue)
	b.mu.Lock()
	b.offs = append(b.offs, off)
	b.mu.Unlock()
}

func (b *Bridge) enqueue(evt events.Event) {
	select {
	case b.queue <- evt:
	default:
		metrics.EventsDropped.WithLabelValues(evt.Collection).Inc()
		slog.Warn("[Warn][NATS] Event queue full, dropping event", "collection", evt.Collection, "event", evt.Kind)
	}
}

// Run publishes queued events until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.detach()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-b.queue:
			b.publish(ctx, evt)
		}
	}
}

func (b *Bridge) publish(ctx context.Context, evt events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Error("[Error][NATS] Failed to encode event", "collection", evt.Collection, "event", evt.Kind, "error", err)
		return
	}

	subject := b.Subject(evt)
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.pub.Publish(pubCtx, subject, data); err != nil {
		metrics.EventsPublished.WithLabelValues(evt.Collection, "error").Inc()
		slog.Error("[Error][NATS] Failed to publish event", "subject", subject, "error", err)
		return
	}
	metrics.EventsPublished.WithLabelValues(evt.Collection, "ok").Inc()
}

func (b *Bridge) detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, off := range b.offs {
		off()
	}
	b.offs = nil
}
