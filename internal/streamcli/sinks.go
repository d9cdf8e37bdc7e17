package streamcli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/oremus-labs/lookout-stream/config"
	"github.com/oremus-labs/lookout-stream/internal/events"
	"github.com/oremus-labs/lookout-stream/internal/queue"
	"github.com/oremus-labs/lookout-stream/internal/redisx"
	"github.com/oremus-labs/lookout-stream/internal/sink"
	"github.com/oremus-labs/lookout-stream/internal/store"
	"github.com/redis/go-redis/v9"
)

var sinkNames = []string{"stdout", "redis", "redis-stream", "sqlite"}

func knownSink(name string) bool {
	for _, known := range sinkNames {
		if strings.EqualFold(name, known) {
			return true
		}
	}
	return false
}

// outputs is everything the stream command writes events to.
type outputs struct {
	fanout *sink.Fanout
	bus    *events.Bus
	redis  redis.UniversalClient
}

func (o *outputs) Close() error {
	err := o.fanout.Close()
	if o.redis != nil {
		if cerr := o.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// buildOutputs wires the named sinks. A local bus is always created so the
// status server can re-broadcast events; it only reaches Redis when the
// redis sink is selected.
func buildOutputs(ctx context.Context, cfg *config.Config, names []string, format string, out io.Writer) (*outputs, error) {
	if len(names) == 0 {
		names = []string{"stdout"}
	}
	selected := make(map[string]bool)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if !knownSink(name) {
			return nil, fmt.Errorf("unknown sink %q (expected one of %s)", name, strings.Join(sinkNames, ", "))
		}
		selected[name] = true
	}

	o := &outputs{}
	var sinks []sink.Sink
	if selected["stdout"] {
		console, err := sink.NewConsole(out, format)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, console)
	}

	if selected["redis"] || selected["redis-stream"] {
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis sinks require REDIS_ADDR")
		}
		client, err := redisx.NewClient(ctx, redisx.Config{
			Addr:        cfg.RedisAddr,
			Username:    cfg.RedisUsername,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			TLSEnabled:  cfg.RedisTLSEnabled,
			TLSInsecure: cfg.RedisTLSInsecure,
		})
		if err != nil {
			return nil, err
		}
		o.redis = client
	}

	busOpts := events.Options{
		Logger:  log.New(os.Stderr, "", log.LstdFlags),
		Channel: cfg.EventsChannel,
	}
	if selected["redis"] {
		busOpts.Client = o.redis
	}
	o.bus = events.NewBus(busOpts)
	if selected["redis"] {
		sinks = append(sinks, sink.NewPubSub(o.bus))
	} else {
		sinks = append(sinks, sink.NewBroadcast(o.bus))
	}

	if selected["redis-stream"] {
		sinks = append(sinks, sink.NewRedisStream(queue.NewProducer(o.redis, cfg.RedisEventStream, 0)))
	}

	if selected["sqlite"] {
		st, err := store.Open(cfg.DataStoreDSN, cfg.DataStoreDriver)
		if err != nil {
			if o.redis != nil {
				_ = o.redis.Close()
			}
			return nil, fmt.Errorf("open event archive: %w", err)
		}
		sinks = append(sinks, sink.NewArchive(st))
	}

	o.fanout = sink.NewFanout(sinks...)
	return o, nil
}
