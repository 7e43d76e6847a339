package marketdata

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// Publisher fans applied updates out to interested processes. Publishing is
// fire-and-forget: failures are logged by the caller and never block the
// feed.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// RedisPublisher publishes JSON payloads on redis pub/sub channels.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher wraps a redis client as a Publisher.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish marshals the payload and publishes it on the channel.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, channel, b).Err()
}
