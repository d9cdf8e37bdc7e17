// Package relay drives the event stream for the CLI: it fans envelopes out to
// sinks and, when asked to, reconnects with the last seen event id.
package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/oremus-labs/lookout-stream/internal/events"
	"github.com/oremus-labs/lookout-stream/internal/logutil"
	"github.com/oremus-labs/lookout-stream/internal/lookout"
	"github.com/oremus-labs/lookout-stream/internal/sink"
	"github.com/oremus-labs/lookout-stream/internal/validator"
)

// Opener opens one stream connection.
type Opener interface {
	Open(ctx context.Context, req lookout.StreamRequest) (*lookout.Stream, error)
}

// Invalidator drops a cached token after the feed rejects it.
type Invalidator interface {
	Invalidate()
}

// Options configure the relay.
type Options struct {
	Stream    Opener
	Tokens    Invalidator
	Sink      sink.Sink
	Validator *validator.Validator
	// Reconnect re-opens the stream after it ends or fails with a transport error.
	Reconnect  bool
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// MaxFailures stops reconnecting after this many consecutive failed
	// connections. Zero means no limit.
	MaxFailures int
}

// Status is a point-in-time view of the relay.
type Status struct {
	State       string    `json:"state"`
	LastEventID string    `json:"lastEventId,omitempty"`
	Events      int64     `json:"events"`
	Invalid     int64     `json:"invalid"`
	Connections int64     `json:"connections"`
	Reconnects  int64     `json:"reconnects"`
	LastError   string    `json:"lastError,omitempty"`
	ConnectedAt time.Time `json:"connectedAt,omitempty"`
	LastEventAt time.Time `json:"lastEventAt,omitempty"`
}

// Runner relays events from the feed to a sink.
type Runner struct {
	stream     Opener
	tokens     Invalidator
	sink       sink.Sink
	validator  *validator.Validator
	reconnect  bool
	minBackoff time.Duration
	maxBackoff time.Duration
	maxFailure int

	mu     sync.RWMutex
	status Status
}

// New creates a new Runner.
func New(opts Options) *Runner {
	minBackoff := opts.MinBackoff
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff < minBackoff {
		maxBackoff = 60 * time.Second
		if maxBackoff < minBackoff {
			maxBackoff = minBackoff
		}
	}
	snk := opts.Sink
	if snk == nil {
		snk = sink.NewFanout()
	}
	return &Runner{
		stream:     opts.Stream,
		tokens:     opts.Tokens,
		sink:       snk,
		validator:  opts.Validator,
		reconnect:  opts.Reconnect,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		maxFailure: opts.MaxFailures,
		status:     Status{State: lookout.StateIdle.String()},
	}
}

// Status returns a copy of the current status.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Run streams until the feed ends (or, with reconnect, until ctx is done or a
// non-retryable error occurs). Config and auth failures are never retried.
func (r *Runner) Run(ctx context.Context, req lookout.StreamRequest) error {
	backoff := r.minBackoff
	failures := 0
	invalidated := false

	for {
		delivered, err := r.runOnce(ctx, &req)
		if ctx.Err() != nil {
			r.setState(lookout.StateClosed, nil)
			return ctx.Err()
		}
		if !r.reconnect {
			return err
		}
		if lookout.IsConfigError(err) || lookout.IsAuthError(err) {
			return err
		}
		if delivered > 0 {
			backoff = r.minBackoff
			failures = 0
			invalidated = false
		}
		if lookout.StatusCode(err) == http.StatusUnauthorized && r.tokens != nil {
			if invalidated {
				return err
			}
			logutil.Warn("stream_token_rejected", map[string]interface{}{"action": "reauthenticate"})
			r.tokens.Invalidate()
			invalidated = true
			continue
		}
		if err != nil {
			failures++
			if r.maxFailure > 0 && failures >= r.maxFailure {
				return err
			}
		}

		fields := map[string]interface{}{
			"lastEventId": req.LastEventID,
			"delay":       backoff.String(),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		logutil.Info("stream_reconnecting", fields)
		r.mu.Lock()
		r.status.Reconnects++
		r.mu.Unlock()

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.setState(lookout.StateClosed, nil)
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, req *lookout.StreamRequest) (int, error) {
	r.setState(lookout.StateConnecting, nil)
	s, err := r.stream.Open(ctx, *req)
	if err != nil {
		r.setState(lookout.StateFailed, err)
		return 0, err
	}
	defer s.Close()

	r.mu.Lock()
	r.status.State = lookout.StateStreaming.String()
	r.status.Connections++
	r.status.ConnectedAt = time.Now().UTC()
	r.mu.Unlock()
	logutil.Info("stream_connected", map[string]interface{}{"lastEventId": req.LastEventID})

	delivered := 0
	for s.Next() {
		env := s.Event()
		id := s.LastEventID()
		if id != "" {
			// Once an id is known it supersedes the start time, which could
			// otherwise age out of the replay window between reconnects.
			req.LastEventID = id
			req.StartTime = nil
		}
		r.check(env, s.EventID())
		evt := events.New(s.EventID(), lookout.EventTypeOf(env), env)
		_ = r.sink.Write(ctx, evt)
		delivered++

		r.mu.Lock()
		r.status.Events++
		r.status.LastEventID = req.LastEventID
		r.status.LastEventAt = evt.ReceivedAt
		r.mu.Unlock()
	}

	err = s.Err()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.setState(s.State(), nil)
		return delivered, err
	}
	r.setState(s.State(), err)
	if err == nil {
		logutil.Info("stream_closed", map[string]interface{}{"events": delivered})
	} else {
		logutil.Error("stream_failed", err, map[string]interface{}{"events": delivered})
	}
	return delivered, err
}

func (r *Runner) check(env lookout.Envelope, id string) {
	if r.validator == nil {
		return
	}
	res := r.validator.Validate(env)
	if res.Valid {
		return
	}
	r.mu.Lock()
	r.status.Invalid++
	r.mu.Unlock()
	logutil.Warn("event_schema_mismatch", map[string]interface{}{
		"eventId": id,
		"errors":  res.Errors,
	})
}

func (r *Runner) setState(state lookout.State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.State = state.String()
	if err != nil {
		r.status.LastError = err.Error()
	}
}
