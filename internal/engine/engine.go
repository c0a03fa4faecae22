package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shopspider/shopspider/internal/crawler"
	"github.com/shopspider/shopspider/internal/metrics"
)

// Config holds the engine's tunables.
type Config struct {
	BatchSize       int
	Concurrency     int
	FlushThreshold  int
	MaxPagesDefault int
	// MinDelay and MaxDelay bound the random pause between batches.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Engine drives one crawl task at a time: it owns the frontier and the
// product buffer, fans page visits out to a bounded worker pool and
// merges results single-threaded between batches.
type Engine struct {
	cfg    Config
	unit   *Unit
	ledger crawler.Ledger
	tasks  crawler.TaskStore
	sink   crawler.ProductSink
	clock  crawler.Clock
	log    *zap.Logger
}

// New constructs an Engine. Zero config fields get conservative defaults.
func New(cfg Config, unit *Unit, ledger crawler.Ledger, tasks crawler.TaskStore, sink crawler.ProductSink, clock crawler.Clock, log *zap.Logger) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 100
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 1000
	}
	if cfg.MaxPagesDefault <= 0 {
		cfg.MaxPagesDefault = 10
	}
	return &Engine{
		cfg:    cfg,
		unit:   unit,
		ledger: ledger,
		tasks:  tasks,
		sink:   sink,
		clock:  clock,
		log:    log,
	}
}

// Run executes one crawl task to completion and records the terminal
// status. Ledger task state is cleared on every exit path, using a
// background context so cleanup survives cancellation.
func (e *Engine) Run(ctx context.Context, req crawler.TaskRequest) error {
	log := e.log.With(zap.String("task_id", req.TaskID), zap.String("start_url", req.StartURL))

	runErr := e.run(ctx, req, log)

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.ledger.ClearTask(cleanupCtx, req.TaskID); err != nil {
		log.Error("failed to clear task ledger state", zap.Error(err))
	}

	now := e.clock.Now()
	if runErr != nil {
		log.Error("crawl task failed", zap.Error(runErr))
		if err := e.tasks.MarkFinished(cleanupCtx, req.TaskID, crawler.TaskStatusFailed, now, runErr.Error()); err != nil {
			log.Error("failed to record task failure", zap.Error(err))
		}
		return runErr
	}

	if err := e.tasks.MarkFinished(cleanupCtx, req.TaskID, crawler.TaskStatusCompleted, now, ""); err != nil {
		log.Error("failed to record task completion", zap.Error(err))
		return err
	}
	log.Info("crawl task completed")
	return nil
}

func (e *Engine) run(ctx context.Context, req crawler.TaskRequest, log *zap.Logger) error {
	maxPages := int64(req.MaxPages)
	if maxPages <= 0 {
		maxPages = int64(e.cfg.MaxPagesDefault)
	}

	if err := e.tasks.MarkRunning(ctx, req.TaskID, req.StartURL, e.clock.Now()); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if err := e.ledger.InitProgress(ctx, req.TaskID); err != nil {
		return fmt.Errorf("init progress: %w", err)
	}

	frontier := []crawler.FrontierEntry{{URL: req.StartURL, Depth: 0}}
	enqueued := map[string]struct{}{req.StartURL: {}}
	var buffer []crawler.Product

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		progress, err := e.ledger.Progress(ctx, req.TaskID)
		if err != nil {
			return fmt.Errorf("read progress: %w", err)
		}
		remaining := maxPages - progress.Processed
		if remaining <= 0 {
			log.Info("page budget reached", zap.Int64("processed", progress.Processed))
			break
		}

		size := min(e.cfg.BatchSize, len(frontier), int(remaining))
		batch := frontier[:size]
		frontier = frontier[size:]

		results := make([]Result, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.Concurrency)
		for i, entry := range batch {
			g.Go(func() error {
				res, err := e.unit.Do(gctx, req.TaskID, entry)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// Single-writer merge: only this goroutine touches the
		// frontier and the buffer.
		var discovered int64
		for i, res := range results {
			if res.Product != nil {
				buffer = append(buffer, *res.Product)
			}
			if res.Retry {
				frontier = append(frontier, batch[i])
			}
			for _, link := range res.NewURLs {
				if _, dup := enqueued[link]; dup {
					continue
				}
				enqueued[link] = struct{}{}
				frontier = append(frontier, crawler.FrontierEntry{URL: link, Depth: batch[i].Depth + 1})
				discovered++
			}
		}
		if discovered > 0 {
			if err := e.ledger.AddDiscovered(ctx, req.TaskID, discovered); err != nil {
				return fmt.Errorf("add discovered: %w", err)
			}
		}

		if len(buffer) >= e.cfg.FlushThreshold {
			e.flush(ctx, req.TaskID, buffer, log)
			buffer = buffer[:0]
		}

		if len(frontier) > 0 {
			if err := e.pause(ctx); err != nil {
				return err
			}
		}
	}

	if len(buffer) > 0 {
		e.flush(ctx, req.TaskID, buffer, log)
	}
	return nil
}

// flush persists the buffered products. Sink failures are logged but do
// not fail the task; the sink retries chunk by chunk internally.
func (e *Engine) flush(ctx context.Context, taskID string, products []crawler.Product, log *zap.Logger) {
	if err := e.sink.Persist(ctx, products); err != nil {
		log.Error("product flush failed",
			zap.String("task_id", taskID),
			zap.Int("count", len(products)),
			zap.Error(err))
		return
	}
	metrics.ObserveFlush(len(products))
	log.Debug("flushed products", zap.Int("count", len(products)))
}

// pause sleeps a random politeness delay between batches, honoring
// cancellation.
func (e *Engine) pause(ctx context.Context) error {
	minDelay, maxDelay := e.cfg.MinDelay, e.cfg.MaxDelay
	if maxDelay <= minDelay {
		maxDelay = minDelay
	}
	delay := minDelay
	if span := maxDelay - minDelay; span > 0 {
		delay += rand.N(span)
	}
	if delay <= 0 {
		return nil
	}
	metrics.ObservePolitenessDelay(delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
