package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisChannelPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher fans out through a Redis Pub/Sub channel. The client is
// shared with the rest of the process and is not closed here.
type RedisPublisher struct {
	client  redisChannelPublisher
	channel string
}

// NewRedisPublisher publishes to channel via client.
func NewRedisPublisher(client redisChannelPublisher, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := env.marshal()
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", p.channel, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return nil }
