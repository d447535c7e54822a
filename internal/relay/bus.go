package relay

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bus carries broadcast frames between relay instances. Every instance
// publishes persisted messages to the bus and delivers whatever it receives
// from its subscription to its own connections.
type Bus interface {
	Publish(ctx context.Context, frame []byte) error
	Subscribe(ctx context.Context) (<-chan []byte, error)
}

type RedisBus struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisBus(client *redis.Client, channel string, log *zap.Logger) *RedisBus {
	return &RedisBus{client: client, channel: channel, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, frame []byte) error {
	if err := b.client.Publish(ctx, b.channel, frame).Err(); err != nil {
		return errors.Wrapf(err, "publish to %s", b.channel)
	}
	return nil
}

// Subscribe returns frames published by any instance, including this one.
// The channel closes when ctx is done or the subscription breaks.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrapf(err, "subscribe to %s", b.channel)
	}

	out := make(chan []byte, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					b.log.Warn("redis subscription closed", zap.String("channel", b.channel))
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
