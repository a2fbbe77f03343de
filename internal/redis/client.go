package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/saviobatista/heli-tracker/internal/types"
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client caches fetched traces and "no data" markers per aircraft and date
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

func traceKey(icao string, date time.Time) string {
	return fmt.Sprintf("trace:%s:%s", icao, date.UTC().Format("2006-01-02"))
}

func noDataKey(icao string, date time.Time) string {
	return fmt.Sprintf("nodata:%s:%s", icao, date.UTC().Format("2006-01-02"))
}

// StoreTrace caches a trace for one aircraft and date
func (c *Client) StoreTrace(ctx context.Context, icao string, date time.Time, trace *types.RawTrace, ttl time.Duration) error {
	data, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	return c.client.Set(ctx, traceKey(icao, date), data, ttl).Err()
}

// GetTrace returns the cached trace, or nil when nothing is cached
func (c *Client) GetTrace(ctx context.Context, icao string, date time.Time) (*types.RawTrace, error) {
	data, err := c.client.Get(ctx, traceKey(icao, date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trace data: %w", err)
	}

	var trace types.RawTrace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace data: %w", err)
	}
	return &trace, nil
}

// MarkNoData records that the site has no trace for an aircraft and date
func (c *Client) MarkNoData(ctx context.Context, icao string, date time.Time, ttl time.Duration) error {
	return c.client.Set(ctx, noDataKey(icao, date), "1", ttl).Err()
}

// HasNoData reports whether a "no data" marker is cached
func (c *Client) HasNoData(ctx context.Context, icao string, date time.Time) (bool, error) {
	val, err := c.client.Get(ctx, noDataKey(icao, date)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get no-data marker: %w", err)
	}
	return val == "1", nil
}

// Invalidate drops every cached entry for an aircraft and date
func (c *Client) Invalidate(ctx context.Context, icao string, date time.Time) error {
	return c.client.Del(ctx, traceKey(icao, date), noDataKey(icao, date)).Err()
}
