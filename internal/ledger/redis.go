// Package ledger implements the shared crawl ledger: the cross-task
// visited set, per-task retry and progress counters, the pending-task
// buffer and a small response cache.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopspider/shopspider/internal/crawler"
)

// Redis key shapes. Renaming these invalidates live ledger state.
const (
	visitedSetKey     = "crawled_urls"
	retryKeyPrefix    = "retry_count:"
	progressKeyPrefix = "task_progress:"
	pendingTasksKey   = "pending_tasks"

	processedField = "processed_urls"
	totalField     = "total_urls"
)

// Scope selects whether URL dedup is shared across tasks or namespaced
// per task.
type Scope string

// Supported dedup scopes.
const (
	ScopeGlobal Scope = "global"
	ScopeTask   Scope = "task"
)

// Options configures a Redis ledger.
type Options struct {
	VisitedScope Scope
	VisitedTTL   time.Duration
}

// Redis implements crawler.Ledger on a Redis backend. All operations
// map to single atomic Redis commands.
type Redis struct {
	client *redis.Client
	opts   Options
}

// NewRedis constructs a Redis-backed ledger.
func NewRedis(client *redis.Client, opts Options) *Redis {
	if opts.VisitedScope == "" {
		opts.VisitedScope = ScopeGlobal
	}
	if opts.VisitedTTL <= 0 {
		opts.VisitedTTL = 24 * time.Hour
	}
	return &Redis{client: client, opts: opts}
}

func (r *Redis) visitedKey(taskID string) string {
	if r.opts.VisitedScope == ScopeTask {
		return visitedSetKey + ":" + taskID
	}
	return visitedSetKey
}

// IsVisited reports whether url is in the visited set.
func (r *Redis) IsVisited(ctx context.Context, taskID, url string) (bool, error) {
	member, err := r.client.SIsMember(ctx, r.visitedKey(taskID), url).Result()
	if err != nil {
		return false, fmt.Errorf("visited check: %w", err)
	}
	return member, nil
}

// MarkVisited adds url to the visited set and refreshes the set's TTL.
func (r *Redis) MarkVisited(ctx context.Context, taskID, url string) error {
	key := r.visitedKey(taskID)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, url)
	pipe.Expire(ctx, key, r.opts.VisitedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark visited: %w", err)
	}
	return nil
}

// RetryCount returns the attempt count for (taskID, url).
func (r *Redis) RetryCount(ctx context.Context, taskID, url string) (int64, error) {
	val, err := r.client.HGet(ctx, retryKeyPrefix+taskID, url).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("retry count: %w", err)
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse retry count: %w", err)
	}
	return count, nil
}

// IncrRetry increments and returns the attempt count for (taskID, url).
func (r *Redis) IncrRetry(ctx context.Context, taskID, url string) (int64, error) {
	count, err := r.client.HIncrBy(ctx, retryKeyPrefix+taskID, url, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("incr retry: %w", err)
	}
	return count, nil
}

// InitProgress creates the task's counters (processed=0, total=1).
func (r *Redis) InitProgress(ctx context.Context, taskID string) error {
	err := r.client.HSet(ctx, progressKeyPrefix+taskID, processedField, 0, totalField, 1).Err()
	if err != nil {
		return fmt.Errorf("init progress: %w", err)
	}
	return nil
}

// IncrProcessed increments the task's processed_urls counter.
func (r *Redis) IncrProcessed(ctx context.Context, taskID string) error {
	if err := r.client.HIncrBy(ctx, progressKeyPrefix+taskID, processedField, 1).Err(); err != nil {
		return fmt.Errorf("incr processed: %w", err)
	}
	return nil
}

// AddDiscovered adds n to the task's total_urls counter.
func (r *Redis) AddDiscovered(ctx context.Context, taskID string, n int64) error {
	if n <= 0 {
		return nil
	}
	if err := r.client.HIncrBy(ctx, progressKeyPrefix+taskID, totalField, n).Err(); err != nil {
		return fmt.Errorf("add discovered: %w", err)
	}
	return nil
}

// Progress reads the task's counters; missing counters read as zero.
func (r *Redis) Progress(ctx context.Context, taskID string) (crawler.Progress, error) {
	vals, err := r.client.HGetAll(ctx, progressKeyPrefix+taskID).Result()
	if err != nil {
		return crawler.Progress{}, fmt.Errorf("read progress: %w", err)
	}
	var progress crawler.Progress
	if raw, ok := vals[processedField]; ok {
		progress.Processed, _ = strconv.ParseInt(raw, 10, 64)
	}
	if raw, ok := vals[totalField]; ok {
		progress.Total, _ = strconv.ParseInt(raw, 10, 64)
	}
	return progress, nil
}

// ClearTask removes the task's progress and retry state, plus its
// visited set when dedup is task-scoped.
func (r *Redis) ClearTask(ctx context.Context, taskID string) error {
	keys := []string{progressKeyPrefix + taskID, retryKeyPrefix + taskID}
	if r.opts.VisitedScope == ScopeTask {
		keys = append(keys, r.visitedKey(taskID))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear task: %w", err)
	}
	return nil
}

// PushPendingTask buffers a newly submitted task for the ingestion sweep.
func (r *Redis) PushPendingTask(ctx context.Context, task crawler.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal pending task: %w", err)
	}
	if err := r.client.LPush(ctx, pendingTasksKey, payload).Err(); err != nil {
		return fmt.Errorf("push pending task: %w", err)
	}
	return nil
}

// PopPendingTasks drains up to max buffered tasks, oldest first.
func (r *Redis) PopPendingTasks(ctx context.Context, max int) ([]crawler.Task, error) {
	var tasks []crawler.Task
	for len(tasks) < max {
		raw, err := r.client.RPop(ctx, pendingTasksKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return tasks, fmt.Errorf("pop pending task: %w", err)
		}
		var task crawler.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return tasks, fmt.Errorf("unmarshal pending task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// CacheGet returns the cached payload for key, or (nil, nil) on a miss.
func (r *Redis) CacheGet(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return raw, nil
}

// CacheSet stores payload under key for ttl.
func (r *Redis) CacheSet(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
