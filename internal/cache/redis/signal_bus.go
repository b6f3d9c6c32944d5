package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// latestTTL bounds how long the last message of a channel is replayed to
// new subscribers.
const latestTTL = 10 * time.Minute

// SignalBus implements domain.SignalBus over Redis Pub/Sub. The most recent
// payload of every channel is also kept under a plain key so a subscriber
// that joins late can start from the current state.
type SignalBus struct {
	c *Client
}

// NewSignalBus creates a SignalBus backed by c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

func (sb *SignalBus) channel(name string) string {
	return sb.c.Key("ch", name)
}

func (sb *SignalBus) latestKey(name string) string {
	return sb.c.Key("latest", name)
}

// Publish stores payload as the channel's latest message and broadcasts it.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := sb.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sb.latestKey(channel), payload, latestTTL)
		p.Publish(ctx, sb.channel(channel), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Latest returns the last payload published on channel, or
// domain.ErrNotFound.
func (sb *SignalBus) Latest(ctx context.Context, channel string) ([]byte, error) {
	b, err := sb.c.rdb.Get(ctx, sb.latestKey(channel)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: latest %s: %w", channel, err)
	}
	return b, nil
}

// Subscribe returns a channel of payloads published on channel. It is closed
// when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.c.rdb.Subscribe(ctx, sb.channel(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
