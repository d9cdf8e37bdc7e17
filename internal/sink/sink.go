// Package sink delivers received events to outputs: the console, Redis and
// the local archive.
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/oremus-labs/lookout-stream/internal/events"
	"github.com/oremus-labs/lookout-stream/internal/logutil"
	"github.com/oremus-labs/lookout-stream/internal/metrics"
	"github.com/oremus-labs/lookout-stream/internal/queue"
	"github.com/oremus-labs/lookout-stream/internal/store"
)

// Sink receives events in stream order.
type Sink interface {
	Name() string
	Write(ctx context.Context, evt events.Event) error
	Close() error
}

// Fanout writes each event to every sink. A failing sink is logged and
// counted; it never stops delivery to the others.
type Fanout struct {
	sinks []Sink
}

// NewFanout combines sinks; nil entries are skipped.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *Fanout) Name() string { return "fanout" }

// Write delivers evt and returns the joined sink errors, for callers that
// want them; the relay only logs.
func (f *Fanout) Write(ctx context.Context, evt events.Event) error {
	var errs []error
	for _, s := range f.sinks {
		start := time.Now()
		err := s.Write(ctx, evt)
		metrics.ObserveSinkWrite(s.Name(), time.Since(start), err == nil)
		if err != nil {
			logutil.Error("sink_write_failed", err, map[string]interface{}{
				"sink":    s.Name(),
				"eventId": evt.EventID,
			})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Names lists the wrapped sinks.
func (f *Fanout) Names() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Publisher is the subset of events.Bus used by the pub/sub sink.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// PubSub publishes events on the bus (local subscribers and Redis channel).
type PubSub struct {
	bus  Publisher
	name string
}

func NewPubSub(bus Publisher) *PubSub { return &PubSub{bus: bus, name: "redis"} }

// NewBroadcast feeds a bus that only has local subscribers.
func NewBroadcast(bus Publisher) *PubSub { return &PubSub{bus: bus, name: "broadcast"} }

func (p *PubSub) Name() string { return p.name }

func (p *PubSub) Write(ctx context.Context, evt events.Event) error {
	return p.bus.Publish(ctx, evt)
}

func (p *PubSub) Close() error { return nil }

// RedisStream appends events to a Redis Stream.
type RedisStream struct {
	producer *queue.Producer
}

func NewRedisStream(producer *queue.Producer) *RedisStream {
	return &RedisStream{producer: producer}
}

func (r *RedisStream) Name() string { return "redis-stream" }

func (r *RedisStream) Write(ctx context.Context, evt events.Event) error {
	_, err := r.producer.Enqueue(ctx, evt)
	return err
}

func (r *RedisStream) Close() error { return nil }

// Archive stores events in the local SQLite archive and owns the store.
type Archive struct {
	store *store.Store
}

func NewArchive(s *store.Store) *Archive { return &Archive{store: s} }

func (a *Archive) Name() string { return "sqlite" }

func (a *Archive) Write(ctx context.Context, evt events.Event) error {
	return a.store.AppendEvent(&store.Event{
		ID:         evt.ID,
		EventID:    evt.EventID,
		Type:       evt.Type,
		Payload:    evt.Data,
		ReceivedAt: evt.ReceivedAt,
	})
}

func (a *Archive) Close() error { return a.store.Close() }
