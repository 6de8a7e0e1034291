// Package memory provides an in-process Broker for development and
// tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/crawlkit/catalog-crawler/internal/catalog"
)

// DeadTask is a task parked after retry exhaustion.
type DeadTask struct {
	Task   catalog.Task
	Reason string
}

// Broker is a mutex-and-cond FIFO per named queue.
type Broker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queues  map[string][]catalog.Task
	results map[string]any
	dead    map[string][]DeadTask
	closed  bool
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	b := &Broker{
		queues:  make(map[string][]catalog.Task),
		results: make(map[string]any),
		dead:    make(map[string][]DeadTask),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Enqueue appends the task to its queue.
func (b *Broker) Enqueue(_ context.Context, task catalog.Task) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", errors.New("broker closed")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	b.queues[task.Queue] = append(b.queues[task.Queue], task)
	b.cond.Broadcast()
	return task.ID, nil
}

// Dequeue pops the oldest task across the named queues, blocking until
// one arrives, the broker closes, or the context ends.
func (b *Broker) Dequeue(ctx context.Context, queues ...string) (catalog.Task, error) {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return catalog.Task{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		for _, q := range queues {
			if items := b.queues[q]; len(items) > 0 {
				task := items[0]
				b.queues[q] = items[1:]
				return task, nil
			}
		}
		if b.closed {
			return catalog.Task{}, errors.New("broker closed")
		}
		b.cond.Wait()
	}
}

// StoreResult keeps the task outcome for inspection.
func (b *Broker) StoreResult(_ context.Context, taskID string, result any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[taskID] = result
	return nil
}

// DeadLetter parks the task on the queue's dead list.
func (b *Broker) DeadLetter(_ context.Context, task catalog.Task, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dead[task.Queue] = append(b.dead[task.Queue], DeadTask{Task: task, Reason: reason})
	return nil
}

// Result returns the stored outcome for a task id.
func (b *Broker) Result(taskID string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.results[taskID]
	return r, ok
}

// DeadLetters returns the parked tasks for a queue.
func (b *Broker) DeadLetters(queue string) []DeadTask {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DeadTask, len(b.dead[queue]))
	copy(out, b.dead[queue])
	return out
}

// Pending reports the number of waiting tasks on a queue.
func (b *Broker) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Close wakes all blocked consumers; further operations fail.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.cond.Broadcast()
}
