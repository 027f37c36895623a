package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type RedisConfig struct {
	Address string
	Channel string
}

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher publishes events on a redis pub/sub channel.
type RedisPublisher struct {
	config *RedisConfig
	client redisClient
}

func newRedisPublisher(config *RedisConfig) (*RedisPublisher, error) {
	if config == nil || config.Channel == "" {
		return nil, errors.New("redis events require a channel")
	}

	client := redis.NewClient(&redis.Options{Addr: config.Address})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", config.Address)
	}

	return &RedisPublisher{config: config, client: client}, nil
}

func (r *RedisPublisher) Publish(ctx context.Context, event *CompletionEvent) error {
	data, err := encodeEvent(event)

	if err != nil {
		return err
	}

	return errors.Wrapf(r.client.Publish(ctx, r.config.Channel, data).Err(), "failed to publish %s to redis", event.ID)
}

func (r *RedisPublisher) Stop() error {
	log.Info().Msg("closing redis publisher")
	return r.client.Close()
}
