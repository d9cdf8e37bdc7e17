package lookout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oremus-labs/lookout-stream/internal/logutil"
	"github.com/oremus-labs/lookout-stream/internal/metrics"
	"github.com/oremus-labs/lookout-stream/internal/sse"
)

// DefaultStreamURL is the production event feed endpoint.
const DefaultStreamURL = "https://api.lookout.com/mra/stream/v2/events"

const heartbeatEvent = "heartbeat"

// Envelope is one decoded event payload. Frames whose data is valid JSON but
// not an object (arrays, strings, numbers, null) are not envelopes; they are
// reported through the decode warning handler and skipped.
type Envelope map[string]interface{}

// HeaderSource supplies the Authorization header for each connection attempt.
type HeaderSource interface {
	AuthHeader(ctx context.Context) (http.Header, error)
}

// State is the lifecycle position of a single stream connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StreamOptions configure an EventStream.
type StreamOptions struct {
	URL    string
	Tokens HeaderSource
	// HTTPClient must not carry a Timeout, which would cut long-lived streams.
	HTTPClient *http.Client
	// IdleTimeout fails a stream that delivers no bytes for this long. Zero disables it.
	IdleTimeout time.Duration
	// OnWarning receives frames whose data could not be decoded. Defaults to a log line.
	OnWarning func(DecodeWarning)
	Now       func() time.Time
}

// EventStream opens connections to the event feed.
type EventStream struct {
	url       string
	tokens    HeaderSource
	client    *http.Client
	idle      time.Duration
	onWarning func(DecodeWarning)
	now       func() time.Time
}

// NewEventStream returns an EventStream bound to a token source.
func NewEventStream(opts StreamOptions) (*EventStream, error) {
	if opts.Tokens == nil {
		return nil, NewConfigError("event stream requires a token provider")
	}
	streamURL := opts.URL
	if streamURL == "" {
		streamURL = DefaultStreamURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	onWarning := opts.OnWarning
	if onWarning == nil {
		onWarning = logWarning
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &EventStream{
		url:       streamURL,
		tokens:    opts.Tokens,
		client:    client,
		idle:      opts.IdleTimeout,
		onWarning: onWarning,
		now:       now,
	}, nil
}

// BuildURL returns the request URL for req.
func (e *EventStream) BuildURL(req StreamRequest) string {
	return BuildURL(e.url, req.StartTime, req.LastEventID, req.EventTypes)
}

// Open validates req, fetches an auth header and connects. The returned Stream
// holds the connection until it ends or Close is called.
func (e *EventStream) Open(ctx context.Context, req StreamRequest) (*Stream, error) {
	if err := req.Validate(e.now()); err != nil {
		return nil, err
	}
	header, err := e.tokens.AuthHeader(ctx)
	if err != nil {
		metrics.ObserveConnection("auth_failed")
		return nil, err
	}

	connCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(connCtx, http.MethodGet, e.BuildURL(req), nil)
	if err != nil {
		cancel()
		return nil, NewTransportError("failed to create stream request", err)
	}
	for key, values := range header {
		httpReq.Header[key] = values
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		cancel()
		metrics.ObserveConnection("failed")
		return nil, NewTransportError("failed to connect to event stream", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := excerpt(resp.Body)
		resp.Body.Close()
		cancel()
		metrics.ObserveConnection(fmt.Sprintf("status_%d", resp.StatusCode))
		return nil, statusError(KindTransport, "event stream request failed", resp, detail)
	}
	metrics.ObserveConnection("connected")

	s := &Stream{
		parent:    ctx,
		body:      resp.Body,
		cancel:    cancel,
		onWarning: e.onWarning,
	}
	var body io.Reader = resp.Body
	if e.idle > 0 {
		s.idle = newIdleReader(resp.Body, e.idle, cancel)
		body = s.idle
	}
	s.dec = sse.NewDecoder(body)
	s.state.Store(int32(StateStreaming))
	return s, nil
}

// StreamEvents opens a stream and yields its envelopes in arrival order. A
// failure to connect is yielded once as the error. Breaking out of the loop
// closes the connection.
func (e *EventStream) StreamEvents(ctx context.Context, req StreamRequest) iter.Seq2[Envelope, error] {
	return func(yield func(Envelope, error) bool) {
		s, err := e.Open(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		for env, err := range s.All() {
			if !yield(env, err) {
				return
			}
		}
	}
}

// Stream is a single open connection to the feed. Next, Event and Err follow
// the bufio.Scanner pattern and must be called from one goroutine; Close may
// be called from any goroutine.
type Stream struct {
	parent    context.Context
	body      io.ReadCloser
	cancel    context.CancelFunc
	dec       *sse.Decoder
	idle      *idleReader
	onWarning func(DecodeWarning)

	state     atomic.Int32
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	current   Envelope
	currentID string
	lastID    atomic.Value
	err       error
}

// Next advances to the next event, skipping heartbeats and undecodable
// frames. It returns false once the stream has ended; Err reports why.
func (s *Stream) Next() bool {
	if s.State() != StateStreaming {
		return false
	}
	if s.idle != nil {
		s.idle.arm()
	}
	for {
		frame, err := s.dec.Next()
		if err != nil {
			s.finish(err)
			return false
		}
		if frame.Event == heartbeatEvent {
			metrics.ObserveHeartbeat()
			continue
		}
		env, err := decodeEnvelope(frame.Data)
		if err != nil {
			metrics.ObserveDecodeFailure()
			s.onWarning(DecodeWarning{EventID: frame.ID, Event: frame.Event, Data: frame.Data, Err: err})
			continue
		}
		if s.idle != nil {
			s.idle.disarm()
		}
		s.current = env
		s.currentID = ""
		if frame.HasID {
			s.currentID = frame.ID
		}
		if frame.ID != "" {
			s.lastID.Store(frame.ID)
		}
		metrics.ObserveEvent(EventTypeOf(env))
		return true
	}
}

// Event returns the envelope produced by the last successful Next.
func (s *Stream) Event() Envelope {
	return s.current
}

// Err returns the terminal failure, or nil after a clean close. When the
// parent context was cancelled it returns the context error.
func (s *Stream) Err() error {
	return s.err
}

// EventID returns the id carried by the current event's own frame, or "" when
// that frame had no id field.
func (s *Stream) EventID() string {
	return s.currentID
}

// LastEventID returns the last-event-id in effect for the most recently
// yielded event, carried over from earlier frames when needed. Pass it as
// StreamRequest.LastEventID to resume.
func (s *Stream) LastEventID() string {
	id, _ := s.lastID.Load().(string)
	return id
}

// State reports the connection state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

// Close releases the connection. It is safe to call more than once and
// concurrently with a blocked Next.
func (s *Stream) Close() error {
	s.closed.Store(true)
	s.state.CompareAndSwap(int32(StateStreaming), int32(StateClosed))
	s.release()
	return s.closeErr
}

// All yields the remaining envelopes and, if the stream failed, the error as
// a final element. The connection is closed when iteration stops.
func (s *Stream) All() iter.Seq2[Envelope, error] {
	return func(yield func(Envelope, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.Event(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (s *Stream) finish(err error) {
	next := StateFailed
	switch {
	case errors.Is(err, io.EOF):
		next = StateClosed
	case s.idle != nil && s.idle.fired.Load():
		s.err = NewTransportError(fmt.Sprintf("event stream idle for %s", s.idle.timeout), err)
	case s.closed.Load():
		next = StateClosed
	case s.parent.Err() != nil:
		next = StateClosed
		s.err = s.parent.Err()
	default:
		s.err = NewTransportError("event stream interrupted", err)
	}
	s.state.Store(int32(next))
	s.release()
}

func (s *Stream) release() {
	s.closeOnce.Do(func() {
		if s.idle != nil {
			s.idle.stop()
		}
		s.closeErr = s.body.Close()
		s.cancel()
	})
}

func decodeEnvelope(data string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, err
	}
	if env == nil {
		return nil, errors.New("event data is not a JSON object")
	}
	return env, nil
}

// EventTypeOf returns the upper-cased "type" field of env, or "OTHER" when it
// is missing or not one of the feed's event types.
func EventTypeOf(env Envelope) string {
	t, _ := env["type"].(string)
	t = strings.ToUpper(t)
	if _, ok := validEventTypes[t]; ok {
		return t
	}
	return "OTHER"
}

func logWarning(w DecodeWarning) {
	logutil.Warn("event_decode_failed", map[string]interface{}{
		"eventId": w.EventID,
		"event":   w.Event,
		"data":    w.Data,
		"error":   w.Err.Error(),
	})
}

// idleReader fails the connection when no bytes arrive for timeout while it
// is armed. Next arms it only while waiting on the server, so time the caller
// spends between calls does not count.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	armed   atomic.Bool
	fired   atomic.Bool
}

func newIdleReader(r io.Reader, timeout time.Duration, onIdle func()) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	ir.timer = time.AfterFunc(timeout, func() {
		if !ir.armed.Load() {
			return
		}
		ir.fired.Store(true)
		onIdle()
	})
	ir.timer.Stop()
	return ir
}

func (ir *idleReader) arm() {
	if ir.fired.Load() {
		return
	}
	ir.armed.Store(true)
	ir.timer.Reset(ir.timeout)
}

func (ir *idleReader) disarm() {
	ir.armed.Store(false)
	ir.timer.Stop()
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 && ir.armed.Load() && !ir.fired.Load() {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

func (ir *idleReader) stop() {
	ir.disarm()
}
