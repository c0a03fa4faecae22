// Package queue provides the durable crawl task queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopspider/shopspider/internal/crawler"
)

// tasksKey is the Redis list backing the queue. Renaming it strands
// queued tasks.
const tasksKey = "task_queue"

// pollTimeout bounds each blocking pop so Dequeue notices context
// cancellation promptly.
const pollTimeout = time.Second

// commander is the subset of redis.Client the queue uses.
type commander interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// RedisQueue implements crawler.TaskQueue on a Redis list. Accepted
// tasks survive a process restart; an engine slot picks them up on the
// next run.
type RedisQueue struct {
	client commander
}

// NewRedis constructs a Redis-backed queue.
func NewRedis(client commander) *RedisQueue {
	return &RedisQueue{client: client}
}

// Enqueue pushes a task onto the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, req crawler.TaskRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal task request: %w", err)
	}
	if err := q.client.LPush(ctx, tasksKey, payload).Err(); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Dequeue blocks until a task is available, oldest first, or the
// context finishes.
func (q *RedisQueue) Dequeue(ctx context.Context) (crawler.TaskRequest, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.TaskRequest{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		vals, err := q.client.BRPop(ctx, pollTimeout, tasksKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return crawler.TaskRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return crawler.TaskRequest{}, fmt.Errorf("queue dequeue: %w", err)
		}
		// BRPop replies [key, value].
		if len(vals) != 2 {
			return crawler.TaskRequest{}, fmt.Errorf("queue dequeue: unexpected reply of %d elements", len(vals))
		}
		var req crawler.TaskRequest
		if err := json.Unmarshal([]byte(vals[1]), &req); err != nil {
			return crawler.TaskRequest{}, fmt.Errorf("unmarshal task request: %w", err)
		}
		return req, nil
	}
}
