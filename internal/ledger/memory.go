package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspider/shopspider/internal/crawler"
)

// Memory is an in-process crawler.Ledger for tests and local runs. The
// visited set tracks per-entry expiry, which is strictly tighter than
// the Redis set-level TTL.
type Memory struct {
	mu       sync.Mutex
	opts     Options
	visited  map[string]map[string]time.Time
	retries  map[string]map[string]int64
	progress map[string]*crawler.Progress
	pending  []crawler.Task
	cache    map[string]cacheEntry
	now      func() time.Time
}

type cacheEntry struct {
	payload []byte
	expires time.Time
}

// NewMemory constructs an in-memory ledger.
func NewMemory(opts Options) *Memory {
	if opts.VisitedScope == "" {
		opts.VisitedScope = ScopeGlobal
	}
	if opts.VisitedTTL <= 0 {
		opts.VisitedTTL = 24 * time.Hour
	}
	return &Memory{
		opts:     opts,
		visited:  make(map[string]map[string]time.Time),
		retries:  make(map[string]map[string]int64),
		progress: make(map[string]*crawler.Progress),
		cache:    make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// SetClock overrides the time source, for expiry tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) visitedScope(taskID string) string {
	if m.opts.VisitedScope == ScopeTask {
		return taskID
	}
	return ""
}

// IsVisited reports whether url is in the unexpired visited set.
func (m *Memory) IsVisited(_ context.Context, taskID, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.visited[m.visitedScope(taskID)]
	if !ok {
		return false, nil
	}
	expiry, ok := set[url]
	if !ok {
		return false, nil
	}
	if m.now().After(expiry) {
		delete(set, url)
		return false, nil
	}
	return true, nil
}

// MarkVisited adds url to the visited set with the configured expiry.
func (m *Memory) MarkVisited(_ context.Context, taskID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := m.visitedScope(taskID)
	if m.visited[scope] == nil {
		m.visited[scope] = make(map[string]time.Time)
	}
	m.visited[scope][url] = m.now().Add(m.opts.VisitedTTL)
	return nil
}

// RetryCount returns the attempt count for (taskID, url).
func (m *Memory) RetryCount(_ context.Context, taskID, url string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries[taskID][url], nil
}

// IncrRetry increments and returns the attempt count for (taskID, url).
func (m *Memory) IncrRetry(_ context.Context, taskID, url string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retries[taskID] == nil {
		m.retries[taskID] = make(map[string]int64)
	}
	m.retries[taskID][url]++
	return m.retries[taskID][url], nil
}

// InitProgress creates the task's counters (processed=0, total=1).
func (m *Memory) InitProgress(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[taskID] = &crawler.Progress{Processed: 0, Total: 1}
	return nil
}

// IncrProcessed increments the task's processed_urls counter.
func (m *Memory) IncrProcessed(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.progress[taskID]; ok {
		p.Processed++
	}
	return nil
}

// AddDiscovered adds n to the task's total_urls counter.
func (m *Memory) AddDiscovered(_ context.Context, taskID string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.progress[taskID]; ok {
		p.Total += n
	}
	return nil
}

// Progress reads the task's counters; missing counters read as zero.
func (m *Memory) Progress(_ context.Context, taskID string) (crawler.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.progress[taskID]; ok {
		return *p, nil
	}
	return crawler.Progress{}, nil
}

// ClearTask removes the task's progress and retry state, plus its
// visited set when dedup is task-scoped.
func (m *Memory) ClearTask(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.progress, taskID)
	delete(m.retries, taskID)
	if m.opts.VisitedScope == ScopeTask {
		delete(m.visited, taskID)
	}
	return nil
}

// PushPendingTask buffers a newly submitted task for the ingestion sweep.
func (m *Memory) PushPendingTask(_ context.Context, task crawler.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, task)
	return nil
}

// PopPendingTasks drains up to max buffered tasks, oldest first.
func (m *Memory) PopPendingTasks(_ context.Context, max int) ([]crawler.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := min(max, len(m.pending))
	if n == 0 {
		return nil, nil
	}
	tasks := append([]crawler.Task(nil), m.pending[:n]...)
	m.pending = m.pending[n:]
	return tasks, nil
}

// CacheGet returns the cached payload for key, or (nil, nil) on a miss.
func (m *Memory) CacheGet(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.cache[key]
	if !ok || m.now().After(entry.expires) {
		delete(m.cache, key)
		return nil, nil
	}
	return entry.payload, nil
}

// CacheSet stores payload under key for ttl.
func (m *Memory) CacheSet(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = cacheEntry{payload: payload, expires: m.now().Add(ttl)}
	return nil
}

// HasTaskState reports whether any progress or retry state remains for
// taskID. Test helper for the guaranteed-cleanup invariant.
func (m *Memory) HasTaskState(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, hasProgress := m.progress[taskID]
	_, hasRetries := m.retries[taskID]
	return hasProgress || hasRetries
}
