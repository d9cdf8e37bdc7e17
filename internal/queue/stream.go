package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oremus-labs/lookout-stream/internal/events"
	"github.com/redis/go-redis/v9"
)

// Producer appends received events to a Redis Stream for downstream consumers.
type Producer struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewProducer constructs a producer for the provided stream. maxLen caps the
// stream length approximately; zero leaves it unbounded.
func NewProducer(client redis.UniversalClient, stream string, maxLen int64) *Producer {
	if stream == "" {
		stream = "lookout:events"
	}
	return &Producer{client: client, stream: stream, maxLen: maxLen}
}

// Stream returns the Redis Stream key.
func (p *Producer) Stream() string {
	return p.stream
}

// Enqueue appends evt and returns the Redis entry id.
func (p *Producer) Enqueue(ctx context.Context, evt events.Event) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("queue producer not configured")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		ID:     "*",
		Values: map[string]interface{}{
			"type":    evt.Type,
			"eventId": evt.EventID,
			"data":    data,
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Result()
}
