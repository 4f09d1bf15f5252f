package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"edurag/internal/logger"
	"edurag/internal/redis"
)

const (
	redisUpdatesChannel = "progress:updates"
	redisActiveSet      = "progress:active"
	redisEntryTTL       = 24 * time.Hour
)

// RedisTracker shares progress between server replicas: entries are cached
// as JSON and every update is broadcast on a pub/sub channel.
type RedisTracker struct {
	client *redis.Client
	log    *logger.Logger
}

func NewRedisTracker(client *redis.Client, log *logger.Logger) *RedisTracker {
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisTracker{client: client, log: log.With("component", "progress_redis")}
}

func entryKey(docID int64) string {
	return fmt.Sprintf("progress:doc:%d", docID)
}

func (r *RedisTracker) Set(ctx context.Context, e Entry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	if e.Filename == "" {
		if prev, ok, err := r.Get(ctx, e.DocumentID); err == nil && ok {
			e.Filename = prev.Filename
		}
	}
	if err := r.client.SetJSON(ctx, entryKey(e.DocumentID), e, redisEntryTTL); err != nil {
		return fmt.Errorf("store progress: %w", err)
	}
	if err := r.client.Mark(ctx, redisActiveSet, fmt.Sprint(e.DocumentID), !e.Stage.Terminal()); err != nil {
		r.log.Warn("progress active set update failed", "document_id", e.DocumentID, "error", err)
	}
	if err := r.client.PublishJSON(ctx, redisUpdatesChannel, e); err != nil {
		r.log.Warn("progress publish failed", "document_id", e.DocumentID, "error", err)
	}
	return nil
}

func (r *RedisTracker) Get(ctx context.Context, docID int64) (Entry, bool, error) {
	var e Entry
	err := r.client.GetJSON(ctx, entryKey(docID), &e)
	if errors.Is(err, redis.ErrCacheMiss) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("load progress: %w", err)
	}
	return e, true, nil
}

func (r *RedisTracker) Delete(ctx context.Context, docID int64) error {
	if err := r.client.Del(ctx, entryKey(docID)); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	return r.client.Mark(ctx, redisActiveSet, fmt.Sprint(docID), false)
}

func (r *RedisTracker) Active(ctx context.Context) (int, error) {
	return r.client.Members(ctx, redisActiveSet)
}

// Subscribe listens on the shared updates channel and forwards entries of
// docID.
func (r *RedisTracker) Subscribe(ctx context.Context, docID int64) (<-chan Entry, func(), error) {
	pubsub, err := r.client.Subscribe(ctx, redisUpdatesChannel)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe progress: %w", err)
	}

	out := make(chan Entry, 1)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var e Entry
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					r.log.Warn("progress decode failed", "error", err)
					continue
				}
				if e.DocumentID == docID {
					offer(out, e)
				}
			}
		}
	}()
	return out, cancel, nil
}
