// Package redis provides hot-path caching for SoloForge: rolling hashrate
// samples, the live session snapshot, and lifetime counters.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the miner
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFromURL creates a Redis client from a redis:// URL
func NewClientFromURL(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Session snapshot

// SetSessionSnapshot stores the live session state with expiration. A stale
// snapshot expiring is the signal that the miner went away.
func (c *Client) SetSessionSnapshot(ctx context.Context, miningAddress string, data any, expiration time.Duration) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	key := fmt.Sprintf("session:%s", miningAddress)
	if err := c.rdb.Set(ctx, key, jsonData, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set session snapshot: %w", err)
	}

	return nil
}

// GetSessionSnapshot retrieves the live session state
func (c *Client) GetSessionSnapshot(ctx context.Context, miningAddress string, dest any) error {
	key := fmt.Sprintf("session:%s", miningAddress)
	jsonData, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("session snapshot not found")
		}
		return fmt.Errorf("failed to get session snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(jsonData), dest); err != nil {
		return fmt.Errorf("failed to unmarshal session snapshot: %w", err)
	}

	return nil
}

// DeleteSessionSnapshot removes the live session state
func (c *Client) DeleteSessionSnapshot(ctx context.Context, miningAddress string) error {
	key := fmt.Sprintf("session:%s", miningAddress)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete session snapshot: %w", err)
	}
	return nil
}

// Hashrate series

// AddHashrateSample appends one hashrate sample to the rolling window,
// trimming samples older than the window.
func (c *Client) AddHashrateSample(ctx context.Context, miningAddress string, hashrate float64, window time.Duration) error {
	key := fmt.Sprintf("hashrate:%s", miningAddress)
	timestamp := time.Now().Unix()

	member := &redis.Z{
		Score:  float64(timestamp),
		Member: hashrate,
	}

	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, *member)
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", timestamp-int64(window.Seconds())))
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add hashrate sample: %w", err)
	}

	return nil
}

// GetAverageHashrate calculates the average hashrate over a time window
func (c *Client) GetAverageHashrate(ctx context.Context, miningAddress string, window time.Duration) (float64, error) {
	key := fmt.Sprintf("hashrate:%s", miningAddress)
	minScore := time.Now().Add(-window).Unix()

	values, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", minScore),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get hashrate samples: %w", err)
	}

	if len(values) == 0 {
		return 0, nil
	}

	var total float64
	for _, val := range values {
		if hashrate, err := strconv.ParseFloat(val, 64); err == nil {
			total += hashrate
		}
	}

	return total / float64(len(values)), nil
}

// Counters

// IncrementBlocksFound bumps the lifetime found-block counter
func (c *Client) IncrementBlocksFound(ctx context.Context, miningAddress string) (int64, error) {
	key := fmt.Sprintf("blocks_found:%s", miningAddress)
	val, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment blocks found: %w", err)
	}
	return val, nil
}

// GetBlocksFound retrieves the lifetime found-block counter
func (c *Client) GetBlocksFound(ctx context.Context, miningAddress string) (int64, error) {
	key := fmt.Sprintf("blocks_found:%s", miningAddress)
	val, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get blocks found: %w", err)
	}
	return val, nil
}
