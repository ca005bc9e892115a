package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"collabhub/internal/models"
)

// RedisSink publishes events as JSON on a pub/sub channel.
type RedisSink struct {
	rdb     *redis.Client
	channel string
}

func NewRedisSink(rdb *redis.Client, channel string) *RedisSink {
	return &RedisSink{rdb: rdb, channel: channel}
}

func (s *RedisSink) Send(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.channel, data).Err()
}
