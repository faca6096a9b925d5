// Package cache provides the Cache Client (§4.J): a thin go-redis wrapper
// the History Provider uses to cut repeated round trips to the relational
// store. The Rule Store does not use it. The caller treats a cache miss or
// a nil Client as transparent and falls back to the store — nothing here
// is part of the system's correctness guarantees.
//
// Grounded on the teacher's internal/queue/redis_stream.go CacheClient,
// trimmed to a Get/Set/SetNX/Delete surface; the list/hash helpers the teacher carried for its dashboard
// analytics have no caller here and were dropped rather than kept unused.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/riskshield/txscore/configs"
)

// Client wraps a redis.Client with JSON marshaling helpers.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis using cfg.URL and verifies reachability with a
// short-lived ping.
func New(cfg configs.CacheConfig) (*Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Set stores value, JSON-encoded, under key with the given expiration.
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, expiration).Err()
}

// Get decodes the JSON value stored at key into dest. redis.Nil is
// returned unwrapped so callers can use errors.Is(err, redis.Nil) to
// detect a clean cache miss.
func (c *Client) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetNX sets value only if key does not already exist.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return c.rdb.SetNX(ctx, key, data, expiration).Result()
}

// Delete removes one or more keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// IsMiss reports whether err represents a clean cache miss (key absent),
// as opposed to a transport or encoding failure.
func IsMiss(err error) bool {
	return err == redis.Nil
}
