package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ksred/null-ledger/internal/events"
)

// streamMaxLen caps the event stream via XADD MAXLEN ~.
const streamMaxLen int64 = 100_000

// RedisConfig holds connection and routing settings for RedisPublisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Stream receives every event durably. Empty disables the stream.
	Stream string
	// Channel receives every event via pub/sub. Empty disables it.
	Channel string
}

// RedisPublisher writes events to a Redis stream and a pub/sub channel.
type RedisPublisher struct {
	rdb     *redis.Client
	stream  string
	channel string
}

// NewRedisPublisher connects and pings Redis.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisPublisherFromClient(rdb, cfg.Stream, cfg.Channel), nil
}

// NewRedisPublisherFromClient wraps an existing client.
func NewRedisPublisherFromClient(rdb *redis.Client, stream, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, stream: stream, channel: channel}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, env events.Envelope) error {
	if p.stream != "" {
		err := p.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]any{
				"sequence":    strconv.FormatUint(env.Sequence, 10),
				"type":        env.Type,
				"payload":     string(env.Payload),
				"occurred_at": env.OccurredAt.UnixMilli(),
			},
		}).Err()
		if err != nil {
			return fmt.Errorf("redis: xadd %s: %w", p.stream, err)
		}
	}

	if p.channel != "" {
		body, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("redis: encode envelope: %w", err)
		}
		if err := p.rdb.Publish(ctx, p.channel, body).Err(); err != nil {
			return fmt.Errorf("redis: publish %s: %w", p.channel, err)
		}
	}
	return nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
