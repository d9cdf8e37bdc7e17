package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oremus-labs/lookout-stream/internal/events"
	"github.com/oremus-labs/lookout-stream/internal/lookout"
	"github.com/oremus-labs/lookout-stream/internal/validator"
)

type fakeTokens struct {
	invalidated atomic.Int32
	err         error
}

func (f *fakeTokens) AuthHeader(ctx context.Context) (http.Header, error) {
	if f.err != nil {
		return nil, f.err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer t")
	return h, nil
}

func (f *fakeTokens) Invalidate() {
	f.invalidated.Add(1)
}

type collectSink struct {
	mu     sync.Mutex
	events []events.Event
	onEvt  func(int)
}

func (c *collectSink) Name() string { return "collect" }

func (c *collectSink) Write(ctx context.Context, evt events.Event) error {
	c.mu.Lock()
	c.events = append(c.events, evt)
	n := len(c.events)
	c.mu.Unlock()
	if c.onEvt != nil {
		c.onEvt(n)
	}
	return nil
}

func (c *collectSink) Close() error { return nil }

func (c *collectSink) snapshot() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

func newStream(t *testing.T, handler http.Handler, tokens lookout.HeaderSource) *lookout.EventStream {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	es, err := lookout.NewEventStream(lookout.StreamOptions{
		URL:       ts.URL,
		Tokens:    tokens,
		OnWarning: func(lookout.DecodeWarning) {},
	})
	if err != nil {
		t.Fatalf("NewEventStream: %v", err)
	}
	return es
}

func writeFeed(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/event-stream")
	_, _ = io.WriteString(w, body)
}

func TestRunDeliversEventsWithoutReconnect(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFeed(w, "event: heartbeat\ndata: {}\n\nid: 1\ndata: {\"type\":\"THREAT\"}\n\nid: 2\ndata: {\"type\":\"device\"}\n\n")
	})
	tokens := &fakeTokens{}
	out := &collectSink{}
	r := New(Options{Stream: newStream(t, handler, tokens), Tokens: tokens, Sink: out})

	if err := r.Run(context.Background(), lookout.StreamRequest{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 events got %d", len(got))
	}
	if got[0].EventID != "1" || got[0].Type != "THREAT" || got[1].Type != "DEVICE" {
		t.Fatalf("unexpected events %+v", got)
	}
	status := r.Status()
	if status.Events != 2 || status.LastEventID != "2" || status.State != "closed" || status.Connections != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRunKeepsFrameIDsPerEvent(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFeed(w, "id: 7\ndata: {\"n\":1}\n\ndata: {\"n\":2}\n\n")
	})
	out := &collectSink{}
	r := New(Options{Stream: newStream(t, handler, &fakeTokens{}), Sink: out})

	if err := r.Run(context.Background(), lookout.StreamRequest{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.snapshot()
	if len(got) != 2 || got[0].EventID != "7" || got[1].EventID != "" {
		t.Fatalf("expected ids [7, \"\"], got %+v", got)
	}
	if r.Status().LastEventID != "7" {
		t.Fatalf("resume id should carry over, got %+v", r.Status())
	}
}

func TestRunReconnectsWithLastEventID(t *testing.T) {
	t.Parallel()

	var (
		hits   atomic.Int32
		mu     sync.Mutex
		resume []string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		mu.Lock()
		resume = append(resume, r.URL.Query().Get("id"))
		mu.Unlock()
		writeFeed(w, fmt.Sprintf("id: %d\ndata: {\"n\":%d}\n\n", n, n))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tokens := &fakeTokens{}
	out := &collectSink{onEvt: func(n int) {
		if n == 3 {
			cancel()
		}
	}}
	r := New(Options{
		Stream:     newStream(t, handler, tokens),
		Tokens:     tokens,
		Sink:       out,
		Reconnect:  true,
		MinBackoff: time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	})

	start := time.Now().Add(-time.Hour)
	err := r.Run(ctx, lookout.StreamRequest{StartTime: &start})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(resume) < 3 || resume[0] != "" || resume[1] != "1" || resume[2] != "2" {
		t.Fatalf("expected resume ids [\"\" 1 2], got %q", resume)
	}
	if r.Status().Reconnects < 2 {
		t.Fatalf("expected reconnects to be counted, got %+v", r.Status())
	}
}

func TestRunInvalidatesTokenOnceOnUnauthorized(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	tokens := &fakeTokens{}
	r := New(Options{
		Stream:     newStream(t, handler, tokens),
		Tokens:     tokens,
		Reconnect:  true,
		MinBackoff: time.Millisecond,
	})

	err := r.Run(context.Background(), lookout.StreamRequest{})
	if !lookout.IsTransportError(err) || lookout.StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401 TransportError got %v", err)
	}
	if tokens.invalidated.Load() != 1 {
		t.Fatalf("expected one invalidation got %d", tokens.invalidated.Load())
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 attempts got %d", hits.Load())
	}
}

func TestRunDoesNotRetryAuthErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})
	tokens := &fakeTokens{err: lookout.NewAuthError("token exchange rejected", nil)}
	r := New(Options{Stream: newStream(t, handler, tokens), Tokens: tokens, Reconnect: true})

	err := r.Run(context.Background(), lookout.StreamRequest{})
	if !lookout.IsAuthError(err) {
		t.Fatalf("expected AuthError got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no stream connection, got %d", hits.Load())
	}
	if r.Status().State != "failed" || r.Status().LastError == "" {
		t.Fatalf("unexpected status %+v", r.Status())
	}
}

func TestRunStopsAfterMaxFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	tokens := &fakeTokens{}
	r := New(Options{
		Stream:      newStream(t, handler, tokens),
		Tokens:      tokens,
		Reconnect:   true,
		MinBackoff:  time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
		MaxFailures: 3,
	})

	err := r.Run(context.Background(), lookout.StreamRequest{})
	if lookout.StatusCode(err) != http.StatusBadGateway {
		t.Fatalf("expected 502 got %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts got %d", hits.Load())
	}
}

func TestRunCountsSchemaMismatches(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFeed(w, "data: {\"id\":\"1\",\"type\":\"THREAT\"}\n\ndata: {\"type\":\"THREAT\"}\n\n")
	})
	v, err := validator.NewFromBytes([]byte(`{"type":"object","required":["id"]}`))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	out := &collectSink{}
	r := New(Options{Stream: newStream(t, handler, &fakeTokens{}), Sink: out, Validator: v})

	if err := r.Run(context.Background(), lookout.StreamRequest{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.snapshot()) != 2 {
		t.Fatal("schema mismatches must still be delivered")
	}
	if r.Status().Invalid != 1 {
		t.Fatalf("expected one invalid event, got %+v", r.Status())
	}
}
