package redis

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edurag/internal/config"
)

func TestNilClientGuards(t *testing.T) {
	var c *Client
	ctx := context.Background()
	assert.Error(t, c.SetJSON(ctx, "k", "v", time.Second))
	var out string
	assert.Error(t, c.GetJSON(ctx, "k", &out))
	assert.Error(t, c.PublishJSON(ctx, "ch", "x"))
	assert.Error(t, c.Mark(ctx, "set", "1", true))
	_, err := c.Members(ctx, "set")
	assert.Error(t, err)
	assert.Error(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
	assert.Nil(t, c.Raw())
	assert.Empty(t, c.Addr())
}

func TestNewRedisClientRequiresConfig(t *testing.T) {
	_, err := NewRedisClient(nil)
	require.Error(t, err)
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	c, err := NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Raw().FlushDB(context.Background()).Err())
	return c
}

func TestJSONRoundTripAndMiss(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	type entry struct {
		Progress int    `json:"progress"`
		Stage    string `json:"stage"`
	}
	require.NoError(t, c.SetJSON(ctx, "doc:1", entry{Progress: 40, Stage: "embedding"}, time.Minute))

	var got entry
	require.NoError(t, c.GetJSON(ctx, "doc:1", &got))
	assert.Equal(t, entry{Progress: 40, Stage: "embedding"}, got)

	require.NoError(t, c.Del(ctx, "doc:1"))
	assert.ErrorIs(t, c.GetJSON(ctx, "doc:1", &got), ErrCacheMiss)
}

func TestMarkAndMembers(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Mark(ctx, "active", "1", true))
	require.NoError(t, c.Mark(ctx, "active", "2", true))
	require.NoError(t, c.Mark(ctx, "active", "1", false))
	n, err := c.Members(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPublishReachesSubscriber(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ps, err := c.Subscribe(ctx, "updates")
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, c.PublishJSON(ctx, "updates", map[string]int{"document_id": 7}))
	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"document_id":7}`, msg.Payload)
}
