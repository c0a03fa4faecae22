// Package dispatcher fans crawl tasks out to a pool of engines.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shopspider/shopspider/internal/crawler"
	"github.com/shopspider/shopspider/internal/metrics"
)

// Runner executes one crawl task to completion.
type Runner interface {
	Run(ctx context.Context, req crawler.TaskRequest) error
}

// Dispatcher pulls tasks off the queue and hands each to a Runner. One
// goroutine per engine slot; each slot crawls one task at a time.
type Dispatcher struct {
	queue   crawler.TaskQueue
	runner  Runner
	engines int
	log     *zap.Logger
}

// New creates a Dispatcher with the given number of engine slots.
func New(queue crawler.TaskQueue, runner Runner, engines int, log *zap.Logger) *Dispatcher {
	if engines <= 0 {
		engines = 1
	}
	return &Dispatcher{
		queue:   queue,
		runner:  runner,
		engines: engines,
		log:     log,
	}
}

// Run starts all engine slots and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.engines; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			d.loop(ctx, slot)
		}(i)
	}
	<-ctx.Done()
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, slot int) {
	log := d.log.With(zap.Int("engine_slot", slot))
	for {
		req, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		log.Debug("dequeued task", zap.String("task_id", req.TaskID))

		metrics.IncActiveEngines()
		err = d.runner.Run(ctx, req)
		metrics.DecActiveEngines()
		if err != nil {
			metrics.ObserveTask(string(crawler.TaskStatusFailed))
			continue
		}
		metrics.ObserveTask(string(crawler.TaskStatusCompleted))
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, req crawler.TaskRequest) error {
	if err := d.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
