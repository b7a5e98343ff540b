package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events to a Redis stream so a reconnecting SSE
// client or the trace collector can replay from a durable channel. It
// is itself just another subscriber of the Bus — durability is opt-in,
// never a requirement of the bus (spec 4.9's "lossy projection" holds).
type RedisSink struct {
	client   *redis.Client
	streamID func(Event) string
}

// RedisSinkOption configures a RedisSink at construction time.
type RedisSinkOption func(*RedisSink)

// WithStreamID overrides the default `session/<SessionID>` stream name.
func WithStreamID(f func(Event) string) RedisSinkOption {
	return func(s *RedisSink) { s.streamID = f }
}

// NewRedisSink wraps an already-connected redis.Client.
func NewRedisSink(client *redis.Client, opts ...RedisSinkOption) *RedisSink {
	s := &RedisSink{
		client: client,
		streamID: func(ev Event) string {
			return fmt.Sprintf("session/%s", ev.SessionID)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run subscribes to the bus for runID and forwards every event to the
// configured Redis stream until the subscription's channel closes or
// ctx is cancelled.
func (s *RedisSink) Run(ctx context.Context, bus *Bus, runID string) error {
	sub := bus.Subscribe(runID)
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := s.send(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (s *RedisSink) send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	stream := s.streamID(ev)
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"type": string(ev.Kind),
			"data": payload,
		},
	}).Err()
}
