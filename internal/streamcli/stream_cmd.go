package streamcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oremus-labs/lookout-stream/internal/api"
	"github.com/oremus-labs/lookout-stream/internal/logutil"
	"github.com/oremus-labs/lookout-stream/internal/lookout"
	"github.com/oremus-labs/lookout-stream/internal/relay"
	"github.com/oremus-labs/lookout-stream/internal/validator"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	streamOpts   streamFlags
	streamSinks  []string
	schemaPath   string
	metricsAddr  string
	statusToken  string
	reconnect    bool
	maxFailures  int
	idleOverride time.Duration
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream events from the feed",
	Example: `  lookout-stream stream --current
  lookout-stream stream --historical --start-time "3 days ago" --event-types THREAT,DEVICE
  lookout-stream stream --current --sink stdout --sink sqlite --reconnect --metrics-addr :9090`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStream(cmd); err != nil {
			exitWithError(cmd, describe(err))
		}
	},
}

func init() {
	streamCmd.Flags().BoolVar(&streamOpts.Current, "current", false, "Stream events from now on")
	streamCmd.Flags().BoolVar(&streamOpts.Historical, "historical", false, "Replay events from --start-time")
	streamCmd.Flags().StringVar(&streamOpts.StartTime, "start-time", "", "Replay start (ISO-8601, free-form date, or e.g. \"3 days ago\"); within the last 10 days")
	streamCmd.Flags().StringSliceVar(&streamOpts.EventTypes, "event-types", nil, "Event types to include: DEVICE, THREAT, AUDIT")
	streamCmd.Flags().StringVar(&streamOpts.LastEventID, "last-event-id", "", "Resume after this event id")
	streamCmd.Flags().StringSliceVar(&streamSinks, "sink", nil, "Event sinks: stdout, redis, redis-stream, sqlite (repeatable)")
	streamCmd.Flags().StringVar(&schemaPath, "schema", "", "JSON schema to check envelopes against (warn only)")
	streamCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /healthz, /status, /metrics and /events on this address")
	streamCmd.Flags().StringVar(&statusToken, "status-token", "", "Bearer token required by /status and /events")
	streamCmd.Flags().BoolVar(&reconnect, "reconnect", false, "Reconnect with the last event id when the stream drops")
	streamCmd.Flags().IntVar(&maxFailures, "max-failures", 0, "Give up after this many consecutive failed reconnects (0 = never)")
	streamCmd.Flags().DurationVar(&idleOverride, "idle-timeout", 0, "Fail the connection when no bytes arrive for this long")
}

func runStream(cmd *cobra.Command) error {
	cfg, profile, err := resolvedSettings()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	flags := streamOpts
	if len(flags.EventTypes) == 0 {
		flags.EventTypes = profile.EventTypes
	}
	req, err := buildRequest(flags, time.Now().UTC())
	if err != nil {
		return err
	}

	format := outputFormat
	if format == "" {
		format = profile.Output
	}
	sinkList := streamSinks
	if len(sinkList) == 0 {
		sinkList = profile.Sinks
	}
	idle := cfg.IdleTimeout
	if idleOverride > 0 {
		idle = idleOverride
	}
	if schemaPath == "" {
		schemaPath = cfg.EventSchemaPath
	}
	addr := metricsAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}

	tokens, err := lookout.NewTokenProvider(lookout.ProviderOptions{
		AppKey:      cfg.AppKey,
		TokenURL:    cfg.TokenURL(),
		HTTPClient:  &http.Client{Timeout: cfg.HTTPTimeout},
		RefreshSkew: cfg.TokenRefreshSkew,
	})
	if err != nil {
		return err
	}
	feed, err := lookout.NewEventStream(lookout.StreamOptions{
		URL:         cfg.StreamURL(),
		Tokens:      tokens,
		IdleTimeout: idle,
	})
	if err != nil {
		return err
	}
	schema, err := validator.New(schemaPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := buildOutputs(ctx, cfg, sinkList, format, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer out.Close()

	runner := relay.New(relay.Options{
		Stream:      feed,
		Tokens:      tokens,
		Sink:        out.fanout,
		Validator:   schema,
		Reconnect:   reconnect,
		MaxFailures: maxFailures,
	})

	printBanner(cmd.ErrOrStderr(), req, out.fanout.Names())

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()
	if addr != "" {
		server := api.NewServer(api.Options{
			APIToken: statusToken,
			Status:   runner,
			Events:   out.bus,
			Sinks:    out.fanout.Names(),
		})
		logutil.Info("status_server_listening", map[string]interface{}{"addr": addr})
		g.Go(func() error {
			return server.Serve(serverCtx, addr)
		})
	}
	g.Go(func() error {
		defer stopServer()
		return runner.Run(gctx, req)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "\nStream interrupted by user")
		return nil
	}
	return err
}

func printBanner(w io.Writer, req lookout.StreamRequest, sinks []string) {
	fmt.Fprintln(w, "Starting event stream...")
	if req.StartTime != nil {
		fmt.Fprintf(w, "From: %s\n", req.StartTime.Format(time.RFC3339))
	}
	if req.LastEventID != "" {
		fmt.Fprintf(w, "Resuming after: %s\n", req.LastEventID)
	}
	if len(req.EventTypes) > 0 {
		fmt.Fprintf(w, "Event types: %s\n", strings.Join(req.EventTypes, ", "))
	}
	fmt.Fprintf(w, "Sinks: %s\n", strings.Join(sinks, ", "))
}

// describe prefixes feed errors with the category the user acts on.
func describe(err error) error {
	var lerr *lookout.Error
	if !errors.As(err, &lerr) {
		return err
	}
	switch lerr.Kind {
	case lookout.KindConfig:
		return fmt.Errorf("configuration error: %w", err)
	case lookout.KindAuth, lookout.KindTransport:
		return fmt.Errorf("API request error: %w", err)
	default:
		return err
	}
}
