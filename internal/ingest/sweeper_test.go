package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopspider/shopspider/internal/crawler"
	"github.com/shopspider/shopspider/internal/ledger"
	storemem "github.com/shopspider/shopspider/internal/storage/memory"
)

func TestSweepMovesTasksToStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	led := ledger.NewMemory(ledger.Options{})
	store := storemem.NewTaskStore()
	s := New(led, store, time.Second, 100, zap.NewNop())

	require.NoError(t, led.PushPendingTask(ctx, crawler.Task{ID: "t1", StartURL: "https://a.example"}))
	require.NoError(t, led.PushPendingTask(ctx, crawler.Task{ID: "t2", StartURL: "https://b.example"}))

	s.Sweep(ctx)

	task, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusPending, task.Status)
	_, err = store.GetTask(ctx, "t2")
	require.NoError(t, err)

	// Buffer drained.
	rest, err := led.PopPendingTasks(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, rest)
}

type failingTaskStore struct {
	mu    sync.Mutex
	fails int
	inner crawler.TaskStore
}

func (s *failingTaskStore) UpsertPending(ctx context.Context, tasks []crawler.Task) error {
	s.mu.Lock()
	fail := s.fails > 0
	if fail {
		s.fails--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("db down")
	}
	return s.inner.UpsertPending(ctx, tasks)
}

func (s *failingTaskStore) MarkRunning(ctx context.Context, id, startURL string, at time.Time) error {
	return s.inner.MarkRunning(ctx, id, startURL, at)
}

func (s *failingTaskStore) MarkFinished(ctx context.Context, id string, st crawler.TaskStatus, at time.Time, msg string) error {
	return s.inner.MarkFinished(ctx, id, st, at, msg)
}

func (s *failingTaskStore) GetTask(ctx context.Context, id string) (crawler.Task, error) {
	return s.inner.GetTask(ctx, id)
}

func TestSweepRequeuesOnStoreFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	led := ledger.NewMemory(ledger.Options{})
	store := &failingTaskStore{fails: 1, inner: storemem.NewTaskStore()}
	s := New(led, store, time.Second, 100, zap.NewNop())

	require.NoError(t, led.PushPendingTask(ctx, crawler.Task{ID: "t1", StartURL: "https://a.example"}))

	s.Sweep(ctx) // store fails, task requeued
	_, err := store.GetTask(ctx, "t1")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	s.Sweep(ctx) // retried and lands
	task, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusPending, task.Status)
}

func TestRunFlushesOnShutdown(t *testing.T) {
	t.Parallel()

	led := ledger.NewMemory(ledger.Options{})
	store := storemem.NewTaskStore()
	s := New(led, store, time.Hour, 100, zap.NewNop())

	require.NoError(t, led.PushPendingTask(context.Background(), crawler.Task{ID: "t1", StartURL: "https://a.example"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}

	_, err := store.GetTask(context.Background(), "t1")
	require.NoError(t, err, "final sweep must drain the buffer")
}
