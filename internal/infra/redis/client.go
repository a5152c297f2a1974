package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/core/months"
)

// attemptScoreStep separates retry generations in the queue score. Months
// on their first attempt always pop before months that already failed.
const attemptScoreStep = 1_000_000

// Client wraps Redis operations for the month requeue channel.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func queueKey(pipeline string) string {
	return fmt.Sprintf("requeue_months:%s", pipeline)
}

// monthScore orders the queue chronologically within an attempt generation.
func monthScore(m domain.Month, attempt int) float64 {
	return float64(attempt)*attemptScoreStep + float64(m.Year*100+m.Month)
}

func attemptFromScore(score float64) int {
	return int(score) / attemptScoreStep
}

// PushMonth adds a month to the requeue channel. attempt is how many times
// the month has already been retried through the queue.
func (c *Client) PushMonth(ctx context.Context, pipeline string, m domain.Month, attempt int) error {
	key := queueKey(pipeline)
	if err := c.rdb.ZAdd(ctx, key, redis.Z{
		Score:  monthScore(m, attempt),
		Member: m.Key(),
	}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// PopMonth pops the next month from the queue (lowest score = fewest
// attempts, then oldest month).
func (c *Client) PopMonth(
	ctx context.Context,
	pipeline string,
) (m domain.Month, attempt int, found bool, err error) {
	key := queueKey(pipeline)

	// Get the first element (lowest score)
	results, err := c.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return domain.Month{}, 0, false, fmt.Errorf("zrange failed: %w", err)
	}

	if len(results) == 0 {
		return domain.Month{}, 0, false, nil
	}

	member, ok := results[0].Member.(string)
	if !ok {
		return domain.Month{}, 0, false, fmt.Errorf("unexpected queue member type %T", results[0].Member)
	}

	m, err = months.ParseMonthKey(member)
	if err != nil {
		// Drop the garbage member so it cannot wedge the queue
		c.rdb.ZRem(ctx, key, member)
		return domain.Month{}, 0, false, fmt.Errorf("invalid month key in queue: %w", err)
	}

	// Remove from queue
	if err := c.rdb.ZRem(ctx, key, member).Err(); err != nil {
		return domain.Month{}, 0, false, fmt.Errorf("zrem failed: %w", err)
	}

	return m, attemptFromScore(results[0].Score), true, nil
}

// ListMonths returns all queued month keys in pop order.
func (c *Client) ListMonths(ctx context.Context, pipeline string) ([]string, error) {
	key := queueKey(pipeline)
	return c.rdb.ZRange(ctx, key, 0, -1).Result()
}

// Count returns the number of queued months.
func (c *Client) Count(ctx context.Context, pipeline string) (int, error) {
	count, err := c.rdb.ZCard(ctx, queueKey(pipeline)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}

// Clear removes all months from the queue.
func (c *Client) Clear(ctx context.Context, pipeline string) error {
	return c.rdb.Del(ctx, queueKey(pipeline)).Err()
}
