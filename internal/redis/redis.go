// Package redis is the shared cache and broadcast layer used when several
// server instances serve the same documents.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"edurag/internal/config"

	redis "github.com/redis/go-redis/v9"
)

// Client wraps the go-redis client so callers never touch connection options.
type Client struct {
	inner *redis.Client
	addr  string
}

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = redis.Nil

var errNotInitialized = errors.New("redis client not initialized")

const connectTimeout = 3 * time.Second

// NewRedisClient connects using the redis section of the app config and
// pings once before returning.
func NewRedisClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	rc := cfg.Redis
	if rc.Host == "" {
		rc.Host = "127.0.0.1"
	}
	if rc.Port == 0 {
		rc.Port = 6379
	}
	addr := fmt.Sprintf("%s:%d", rc.Host, rc.Port)

	inner := redis.NewClient(&redis.Options{
		Addr:        addr,
		Username:    rc.Username,
		Password:    rc.Password,
		DB:          rc.DB,
		DialTimeout: connectTimeout,
	})
	c := &Client{inner: inner, addr: addr}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		inner.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) ready() error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return nil
}

// Addr is the host:port the client talks to.
func (c *Client) Addr() string {
	if c == nil {
		return ""
	}
	return c.addr
}

// SetJSON stores v encoded as JSON. A zero ttl keeps the key forever.
func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.inner.Set(ctx, key, data, ttl).Err()
}

// GetJSON decodes the value under key into v. A missing key returns
// ErrCacheMiss.
func (c *Client) GetJSON(ctx context.Context, key string, v any) error {
	if err := c.ready(); err != nil {
		return err
	}
	data, err := c.inner.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Del removes keys; missing keys are ignored.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.inner.Del(ctx, keys...).Err()
}

// Mark adds member to set, or removes it when in is false.
func (c *Client) Mark(ctx context.Context, set, member string, in bool) error {
	if err := c.ready(); err != nil {
		return err
	}
	if in {
		return c.inner.SAdd(ctx, set, member).Err()
	}
	return c.inner.SRem(ctx, set, member).Err()
}

// Members counts the members of set.
func (c *Client) Members(ctx context.Context, set string) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	n, err := c.inner.SCard(ctx, set).Result()
	return int(n), err
}

// PublishJSON broadcasts v encoded as JSON on channel.
func (c *Client) PublishJSON(ctx context.Context, channel string, v any) error {
	if err := c.ready(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.inner.Publish(ctx, channel, data).Err()
}

// Subscribe opens a subscription and waits for the server to confirm it,
// so no message published after the call returns is missed. The caller
// closes it.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	ps := c.inner.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return ps, nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.inner.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", c.addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

// Raw exposes the go-redis client for operations not wrapped here.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.inner
}
