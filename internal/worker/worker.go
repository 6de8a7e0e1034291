// Package worker implements the task consumption loop: a pool of
// goroutines dequeues stage tasks from the broker, dispatches them to
// the pipeline, and applies the per-stage retry policy.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/catalog-crawler/internal/catalog"
	"github.com/crawlkit/catalog-crawler/internal/metrics"
	"github.com/crawlkit/catalog-crawler/internal/pipeline"
)

// Stage backoffs, longest for the most expensive stage to redo.
var defaultBackoffs = map[string]time.Duration{
	catalog.QueueCrawl:  60 * time.Second,
	catalog.QueueFanOut: 30 * time.Second,
	catalog.QueueDetail: 15 * time.Second,
}

// Pipeline is the set of stage handlers the worker dispatches to.
type Pipeline interface {
	Crawl(ctx context.Context, startURL string) (pipeline.CrawlResult, error)
	FanOut(ctx context.Context, jobID string) (pipeline.FanOutResult, error)
	Detail(ctx context.Context, jobID, rawID string) (pipeline.DetailResult, error)
}

// Config controls Worker behavior.
type Config struct {
	// Concurrency is the number of consumer goroutines.
	Concurrency int
	// MaxRetries is the number of re-deliveries after the first attempt.
	MaxRetries int
	// Backoffs overrides the per-queue retry delay; missing queues fall
	// back to the defaults.
	Backoffs map[string]time.Duration
}

// Worker consumes stage tasks and executes them against the pipeline.
type Worker struct {
	broker   catalog.Broker
	pipeline Pipeline
	cfg      Config
	logger   *zap.Logger

	retryWG sync.WaitGroup
}

// New constructs a Worker.
func New(broker catalog.Broker, p Pipeline, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{
		broker:   broker,
		pipeline: p,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming tasks on all stage queues until the context
// finishes. Pending retry timers are drained before returning.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.consume(ctx, id)
		}(i)
	}
	wg.Wait()
	w.retryWG.Wait()
}

func (w *Worker) consume(ctx context.Context, id int) {
	logger := w.logger.With(zap.Int("worker", id))
	for {
		task, err := w.broker.Dequeue(ctx, catalog.Queues...)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		logger.Debug("dequeued task",
			zap.String("task_id", task.ID),
			zap.String("task", task.Name),
			zap.Int("attempt", task.Attempt),
		)
		w.execute(ctx, task, logger)
	}
}

func (w *Worker) execute(ctx context.Context, task catalog.Task, logger *zap.Logger) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	result, err := w.dispatch(ctx, task)
	if err != nil {
		metrics.ObserveTask(task.Queue, "failure")
		w.handleFailure(ctx, task, err, logger)
		return
	}

	metrics.ObserveTask(task.Queue, "success")
	if task.ID != "" {
		if err := w.broker.StoreResult(ctx, task.ID, result); err != nil {
			logger.Warn("store result failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, task catalog.Task) (any, error) {
	switch task.Name {
	case catalog.TaskCrawl:
		if len(task.Args) < 1 {
			return nil, errMalformed(task)
		}
		return w.pipeline.Crawl(ctx, task.Args[0])
	case catalog.TaskFanOut:
		if len(task.Args) < 1 {
			return nil, errMalformed(task)
		}
		return w.pipeline.FanOut(ctx, task.Args[0])
	case catalog.TaskDetail:
		if len(task.Args) < 2 {
			return nil, errMalformed(task)
		}
		return w.pipeline.Detail(ctx, task.Args[0], task.Args[1])
	default:
		return nil, fmt.Errorf("unknown task %q", task.Name)
	}
}

// handleFailure re-enqueues the task after the stage backoff, or parks
// it on the dead-letter list once the retries are spent.
func (w *Worker) handleFailure(ctx context.Context, task catalog.Task, taskErr error, logger *zap.Logger) {
	if task.Attempt >= w.cfg.MaxRetries {
		logger.Error("task retries exhausted",
			zap.String("task_id", task.ID),
			zap.String("task", task.Name),
			zap.Int("attempt", task.Attempt),
			zap.Error(taskErr),
		)
		if err := w.broker.DeadLetter(ctx, task, taskErr.Error()); err != nil {
			logger.Error("dead letter failed", zap.String("task_id", task.ID), zap.Error(err))
		}
		metrics.ObserveTask(task.Queue, "dead_letter")
		return
	}

	backoff := w.backoff(task.Queue)
	logger.Warn("task failed, scheduling retry",
		zap.String("task_id", task.ID),
		zap.String("task", task.Name),
		zap.Int("attempt", task.Attempt),
		zap.Duration("backoff", backoff),
		zap.Error(taskErr),
	)
	metrics.ObserveTaskRetry(task.Queue)

	retry := task
	retry.Attempt++
	w.retryWG.Add(1)
	go func() {
		defer w.retryWG.Done()
		timer := time.NewTimer(backoff)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			logger.Warn("retry abandoned on shutdown", zap.String("task_id", retry.ID))
			return
		case <-timer.C:
		}
		if _, err := w.broker.Enqueue(context.WithoutCancel(ctx), retry); err != nil {
			logger.Error("retry enqueue failed", zap.String("task_id", retry.ID), zap.Error(err))
		}
	}()
}

func (w *Worker) backoff(queue string) time.Duration {
	if d, ok := w.cfg.Backoffs[queue]; ok {
		return d
	}
	if d, ok := defaultBackoffs[queue]; ok {
		return d
	}
	return 30 * time.Second
}

func errMalformed(task catalog.Task) error {
	return fmt.Errorf("task %q: malformed args %v", task.Name, task.Args)
}
