package progress

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
	"edurag/internal/redis"
)

func exerciseTracker(t *testing.T, tr Tracker) {
	ctx := context.Background()

	_, ok, err := tr.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tr.Set(ctx, Entry{DocumentID: 1, Progress: 0, Stage: StageQueued, Status: "pending", Filename: "a.pdf"}))
	require.NoError(t, tr.Set(ctx, Entry{DocumentID: 1, Progress: 5, Stage: StageExtracting, Status: "processing"}))
	require.NoError(t, tr.Set(ctx, Entry{DocumentID: 2, Progress: 100, Stage: StageCompleted, Status: "completed"}))

	got, ok, err := tr.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, got.Progress)
	assert.Equal(t, "a.pdf", got.Filename, "filename carried over from earlier entry")
	assert.False(t, got.UpdatedAt.IsZero())

	active, err := tr.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	require.NoError(t, tr.Delete(ctx, 1))
	_, ok, err = tr.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func exerciseSubscribe(t *testing.T, tr Tracker) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	ch, cancel, err := tr.Subscribe(ctx, 9)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, tr.Set(context.Background(), Entry{DocumentID: 8, Progress: 50, Stage: StageEmbedding}))
	require.NoError(t, tr.Set(context.Background(), Entry{DocumentID: 9, Progress: 100, Stage: StageCompleted}))

	select {
	case e := <-ch:
		assert.Equal(t, int64(9), e.DocumentID)
		assert.Equal(t, StageCompleted, e.Stage)
	case <-time.After(2 * time.Second):
		t.Fatal("no progress update received")
	}
}

func TestMemoryTracker(t *testing.T) {
	exerciseTracker(t, NewMemoryTracker())
}

func TestMemoryTrackerSubscribe(t *testing.T) {
	exerciseSubscribe(t, NewMemoryTracker())
}

func TestMemorySubscriberSeesLatestOnly(t *testing.T) {
	tr := NewMemoryTracker()
	ch, cancel, err := tr.Subscribe(context.Background(), 3)
	require.NoError(t, err)
	defer cancel()

	for p := 10; p <= 90; p += 10 {
		require.NoError(t, tr.Set(context.Background(), Entry{DocumentID: 3, Progress: p, Stage: StageEmbedding}))
	}
	e := <-ch
	assert.Equal(t, 90, e.Progress)
}

func TestMemoryCancelStopsDelivery(t *testing.T) {
	tr := NewMemoryTracker()
	_, cancel, err := tr.Subscribe(context.Background(), 4)
	require.NoError(t, err)
	cancel()
	cancel()

	tr.mu.RLock()
	defer tr.mu.RUnlock()
	assert.Empty(t, tr.subs)
}

func newRedisTracker(t *testing.T) *RedisTracker {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed progress tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Raw().FlushDB(ctx).Err())
	return NewRedisTracker(client, nil)
}

func TestRedisTracker(t *testing.T) {
	exerciseTracker(t, newRedisTracker(t))
}

func TestRedisTrackerSubscribe(t *testing.T) {
	exerciseSubscribe(t, newRedisTracker(t))
}
