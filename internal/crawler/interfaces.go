package crawler

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// Ledger is the shared crawl ledger: the cross-task visited set,
// per-task retry counters, per-task progress counters, the pending-task
// buffer and a small response cache. Every operation is atomic at the
// ledger level; no in-process locking is required around it.
type Ledger interface {
	// IsVisited reports whether url is in the (unexpired) visited set.
	IsVisited(ctx context.Context, taskID, url string) (bool, error)
	// MarkVisited adds url to the visited set with the configured expiry.
	MarkVisited(ctx context.Context, taskID, url string) error

	// RetryCount returns the attempt count for (taskID, url), zero when absent.
	RetryCount(ctx context.Context, taskID, url string) (int64, error)
	// IncrRetry increments and returns the attempt count for (taskID, url).
	IncrRetry(ctx context.Context, taskID, url string) (int64, error)

	// InitProgress creates the task's counters (processed=0, total=1).
	InitProgress(ctx context.Context, taskID string) error
	// IncrProcessed increments the task's processed_urls counter.
	IncrProcessed(ctx context.Context, taskID string) error
	// AddDiscovered adds n to the task's total_urls counter.
	AddDiscovered(ctx context.Context, taskID string, n int64) error
	// Progress reads the task's counters; missing counters read as zero.
	Progress(ctx context.Context, taskID string) (Progress, error)

	// ClearTask removes the task's progress and retry state (and its
	// visited set when dedup is task-scoped).
	ClearTask(ctx context.Context, taskID string) error

	// PushPendingTask buffers a newly submitted task for the ingestion sweep.
	PushPendingTask(ctx context.Context, task Task) error
	// PopPendingTasks drains up to max buffered tasks, oldest first.
	PopPendingTasks(ctx context.Context, max int) ([]Task, error)

	// CacheGet returns the cached payload for key, or (nil, nil) on a miss.
	CacheGet(ctx context.Context, key string) ([]byte, error)
	// CacheSet stores payload under key for ttl.
	CacheSet(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// TaskStore persists task metadata. The crawl engine is the sole writer
// of status transitions and timestamps. MarkRunning carries the start
// URL because the engine can reach it before the ingestion sweep has
// inserted the row.
type TaskStore interface {
	UpsertPending(ctx context.Context, tasks []Task) error
	MarkRunning(ctx context.Context, taskID, startURL string, at time.Time) error
	MarkFinished(ctx context.Context, taskID string, status TaskStatus, at time.Time, errMsg string) error
	GetTask(ctx context.Context, taskID string) (Task, error)
}

// ProductSink performs idempotent bulk persistence of extracted records.
type ProductSink interface {
	Persist(ctx context.Context, products []Product) error
}

// ProductStore reads persisted product rows for the API surface.
type ProductStore interface {
	ListProducts(ctx context.Context, limit, offset int) ([]Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
}

// Fetcher fetches a URL and returns the body plus metadata. Network
// errors and non-2xx responses are returned as errors.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// RuleProvider resolves the extraction selectors for a domain.
type RuleProvider interface {
	RulesFor(domain string) SiteRule
}

// TaskQueue provides enqueue/dequeue semantics for crawl tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, req TaskRequest) error
	Dequeue(ctx context.Context) (TaskRequest, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
