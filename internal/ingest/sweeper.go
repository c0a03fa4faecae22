// Package ingest moves buffered task submissions from the ledger into
// the task store.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shopspider/shopspider/internal/crawler"
)

// Sweeper periodically drains the ledger's pending-task buffer and
// upserts the drained tasks into the task store. Database writes stay
// off the submit path; the API only touches the ledger.
type Sweeper struct {
	ledger    crawler.Ledger
	tasks     crawler.TaskStore
	interval  time.Duration
	batchSize int
	log       *zap.Logger
}

// New constructs a Sweeper.
func New(ledger crawler.Ledger, tasks crawler.TaskStore, interval time.Duration, batchSize int, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Sweeper{
		ledger:    ledger,
		tasks:     tasks,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

// Run sweeps on a ticker until the context finishes, then performs one
// final sweep so buffered submissions survive a clean shutdown.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.Sweep(flushCtx)
			cancel()
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep drains one batch. A store failure pushes the drained tasks back
// so nothing is lost; they will be retried on the next tick.
func (s *Sweeper) Sweep(ctx context.Context) {
	tasks, err := s.ledger.PopPendingTasks(ctx, s.batchSize)
	if err != nil {
		s.log.Error("pop pending tasks failed", zap.Error(err))
	}
	if len(tasks) == 0 {
		return
	}

	if err := s.tasks.UpsertPending(ctx, tasks); err != nil {
		s.log.Error("upsert pending tasks failed", zap.Int("count", len(tasks)), zap.Error(err))
		for _, task := range tasks {
			if pushErr := s.ledger.PushPendingTask(ctx, task); pushErr != nil {
				s.log.Error("requeue pending task failed",
					zap.String("task_id", task.ID), zap.Error(pushErr))
			}
		}
		return
	}
	s.log.Debug("swept pending tasks", zap.Int("count", len(tasks)))
}
