package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"snapaid/internal/config"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "snapaid:"

// Client wraps the go-redis client. A nil *Client is valid and behaves as an
// always-missing cache, so callers do not need to branch on redis being configured.
type Client struct {
	inner *redis.Client
}

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = redis.Nil

var errNotInitialized = errors.New("redis client not initialized")

// ErrGuardChanged is returned by SetJSONIfUnchanged when the guard key moved.
var ErrGuardChanged = errors.New("redis guard key changed")

// NewRedisClient creates the redis client from app config and pings it.
func NewRedisClient(cfg config.RedisConfig) (*Client, error) {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{inner: client}, nil
}

// Key namespaces a logical key.
func Key(parts ...string) string {
	k := keyPrefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// Set stores a key with TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return c.inner.Set(ctx, key, value, ttl).Err()
}

// Get fetches the key as string.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c == nil || c.inner == nil {
		return "", ErrCacheMiss
	}
	return c.inner.Get(ctx, key).Result()
}

// SetJSON marshals value and stores it with TTL.
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// GetJSON loads key into dst. A missing key returns ErrCacheMiss.
func (c *Client) GetJSON(ctx context.Context, key string, dst interface{}) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Del removes provided keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c == nil || c.inner == nil || len(keys) == 0 {
		return nil
	}
	return c.inner.Del(ctx, keys...).Err()
}

// Close closes client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

// Bump increments a counter key and refreshes its TTL.
func (c *Client) Bump(ctx context.Context, key string, ttl time.Duration) error {
	if c == nil || c.inner == nil {
		return nil
	}
	_, err := c.inner.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, key)
		p.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

// SetJSONIfUnchanged stores value under key only while guard still holds
// want ("" for a missing guard). A concurrent change to guard aborts the write.
func (c *Client) SetJSONIfUnchanged(ctx context.Context, guard, want, key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = c.inner.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, guard).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != want {
			return ErrGuardChanged
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}, guard)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrGuardChanged
	}
	return err
}
