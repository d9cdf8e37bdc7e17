// Package api serves the status endpoints that sit beside a running relay.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/oremus-labs/lookout-stream/internal/events"
	"github.com/oremus-labs/lookout-stream/internal/relay"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusSource reports relay progress.
type StatusSource interface {
	Status() relay.Status
}

// Subscriber hands out live event feeds.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan events.Event, func())
}

// Options configures the HTTP server wiring.
type Options struct {
	// APIToken protects /status and /events when set.
	APIToken string
	Status   StatusSource
	Events   Subscriber
	// Sinks lists the active sink names for /status.
	Sinks []string
	// KeepAlive is the comment interval on /events. Defaults to 15s.
	KeepAlive time.Duration
}

// Server wraps the Gin engine and associated configuration.
type Server struct {
	engine    *gin.Engine
	status    StatusSource
	events    Subscriber
	sinks     []string
	keepAlive time.Duration
	started   time.Time
}

// NewServer constructs a Server with all HTTP routes configured.
func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	s := &Server{
		status:    opts.Status,
		events:    opts.Events,
		sinks:     opts.Sinks,
		keepAlive: keepAlive,
		started:   time.Now().UTC(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware(), metricsMiddleware(), requestLogger())

	engine.GET("/healthz", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := engine.Group("/")
	protected.Use(authMiddleware(opts.APIToken))
	protected.GET("/status", s.getStatus)
	protected.GET("/events", s.streamEvents)

	s.engine = engine
	return s
}

// Engine exposes the underlying Gin engine for advanced use (testing, etc.).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	state := "unknown"
	if s.status != nil {
		state = s.status.Status().State
	}
	code := http.StatusOK
	if state == "failed" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": state})
}

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{
		"startedAt": s.started,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"sinks":     s.sinks,
	}
	if s.status != nil {
		resp["relay"] = s.status.Status()
	}
	c.JSON(http.StatusOK, resp)
}

// streamEvents re-broadcasts relayed events to local SSE clients.
func (s *Server) streamEvents(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event feed unavailable"})
		return
	}
	ctx := c.Request.Context()
	ch, cancel := s.events.Subscribe(ctx)
	defer cancel()
	eventSubscribers.Inc()
	defer eventSubscribers.Dec()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case evt, ok := <-ch:
			if !ok {
				return false
			}
			c.Render(-1, sse.Event{
				Id:    evt.EventID,
				Event: strings.ToLower(evt.Type),
				Data:  evt.Data,
			})
			return true
		case <-ticker.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			return true
		}
	})
}
