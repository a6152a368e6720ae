// Package redis wraps the Redis client used for notification egress: matched
// and pending message events go out on per-subscription streams, with Pub/Sub
// as a lightweight broadcast channel.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sodazone/xcmon/pkg/utils"
)

// DefaultStreamMaxLen caps per-subscription notification streams. Consumers
// that lag further than this lose entries.
const DefaultStreamMaxLen = 10000

// Client wraps the Redis client for notification delivery (Streams and
// Pub/Sub).
type Client struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64 // 0 = unlimited
}

// NewClient creates a Redis client from environment variables:
//   - XCMON_REDIS_HOST: Redis host (default: "localhost")
//   - XCMON_REDIS_PORT: Redis port (default: "6379")
//   - XCMON_REDIS_PASSWORD: Redis password (default: "")
//   - XCMON_REDIS_DB: Redis database number (default: "0")
//   - XCMON_REDIS_STREAM_MAXLEN: max entries per stream (default: 10000, 0 = unlimited)
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("XCMON_REDIS_HOST", "localhost")
	port := utils.Env("XCMON_REDIS_PORT", "6379")
	password := utils.Env("XCMON_REDIS_PASSWORD", "")
	db := utils.EnvInt("XCMON_REDIS_DB", 0)
	streamMaxLen := utils.EnvInt64("XCMON_REDIS_STREAM_MAXLEN", DefaultStreamMaxLen)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db),
		zap.Int64("streamMaxLen", streamMaxLen))

	return &Client{
		client:       rdb,
		logger:       logger,
		streamMaxLen: streamMaxLen,
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Publish publishes a message to a Pub/Sub channel. Best-effort: errors are
// logged but not returned so a slow broker cannot stall ingestion.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// XAdd appends an entry to a stream, trimming with approximate MAXLEN when
// configured. Returns the entry ID or an error.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if c.streamMaxLen > 0 {
		args.MaxLen = c.streamMaxLen
		args.Approx = true
	}
	return c.client.XAdd(ctx, args).Result()
}

// XLen returns the number of entries in a stream.
func (c *Client) XLen(ctx context.Context, stream string) (int64, error) {
	return c.client.XLen(ctx, stream).Result()
}

// XRange returns up to count entries from a stream between two IDs,
// inclusive. Use "-" and "+" to cover the whole stream.
func (c *Client) XRange(ctx context.Context, stream, start, end string, count int64) ([]redis.XMessage, error) {
	return c.client.XRangeN(ctx, stream, start, end, count).Result()
}
