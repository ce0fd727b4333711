package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream entry field names written by RedisProducer.
const (
	RedisKeyField     = "key"
	RedisPayloadField = "payload"
)

// RedisProducer appends records to a Redis stream named after the topic.
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer accepts either host:port or a redis:// URL and verifies
// the server answers before returning.
func NewRedisProducer(ctx context.Context, addr string) (*RedisProducer, error) {
	var opts *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisProducer{client: rdb}, nil
}

func (p *RedisProducer) Produce(ctx context.Context, topic, key string, value []byte) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			RedisKeyField:     key,
			RedisPayloadField: value,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd to %s: %w", topic, err)
	}
	return nil
}

func (p *RedisProducer) Close() error {
	return p.client.Close()
}
