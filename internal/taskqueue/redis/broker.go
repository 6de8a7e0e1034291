// Package redisbroker implements catalog.Broker on Redis lists. One
// list per named queue gives at-least-once delivery; task results live
// in the result backend under a TTL, and exhausted tasks are parked on a
// per-queue dead-letter list.
package redisbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/crawlkit/catalog-crawler/internal/catalog"
)

const (
	queueKeyPrefix  = "queue:"
	resultKeyPrefix = "task:result:"
	deadSuffix      = ":dead"
)

// Config controls broker connections.
type Config struct {
	// BrokerURL is a redis:// URL for the task lists.
	BrokerURL string
	// ResultBackendURL is a redis:// URL for task results; falls back
	// to the broker connection when empty.
	ResultBackendURL string
	// ResultTTL bounds how long task results are kept.
	ResultTTL time.Duration
}

// Broker is the Redis-backed task queue.
type Broker struct {
	client    *redis.Client
	results   *redis.Client
	resultTTL time.Duration
}

// New connects the broker and result-backend clients.
func New(cfg Config) (*Broker, error) {
	opts, err := redis.ParseURL(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	client := redis.NewClient(opts)

	results := client
	if cfg.ResultBackendURL != "" && cfg.ResultBackendURL != cfg.BrokerURL {
		resOpts, err := redis.ParseURL(cfg.ResultBackendURL)
		if err != nil {
			return nil, fmt.Errorf("parse result backend url: %w", err)
		}
		results = redis.NewClient(resOpts)
	}

	ttl := cfg.ResultTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Broker{client: client, results: results, resultTTL: ttl}, nil
}

// Ping verifies broker connectivity, used by the health endpoint.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases both connections.
func (b *Broker) Close() error {
	if b.results != b.client {
		if err := b.results.Close(); err != nil {
			return fmt.Errorf("close result backend: %w", err)
		}
	}
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("close broker: %w", err)
	}
	return nil
}

// Enqueue publishes the task onto its queue list and returns the task
// id, assigning one when the task carries none.
func (b *Broker) Enqueue(ctx context.Context, task catalog.Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	if err := b.client.LPush(ctx, queueKeyPrefix+task.Queue, payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", task.Name, err)
	}
	return task.ID, nil
}

// Dequeue blocks on the named queues until a task arrives or the
// context ends.
func (b *Broker) Dequeue(ctx context.Context, queues ...string) (catalog.Task, error) {
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queueKeyPrefix + q
	}
	res, err := b.client.BRPop(ctx, 0, keys...).Result()
	if err != nil {
		return catalog.Task{}, fmt.Errorf("dequeue: %w", err)
	}
	// BRPOP returns [key, value].
	var task catalog.Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return catalog.Task{}, fmt.Errorf("unmarshal task: %w", err)
	}
	return task, nil
}

// StoreResult writes the task outcome to the result backend.
func (b *Broker) StoreResult(ctx context.Context, taskID string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := b.results.Set(ctx, resultKeyPrefix+taskID, payload, b.resultTTL).Err(); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}

// DeadLetter parks a retry-exhausted task on the queue's dead list for
// external inspection.
func (b *Broker) DeadLetter(ctx context.Context, task catalog.Task, reason string) error {
	entry := struct {
		Task     catalog.Task `json:"task"`
		Reason   string       `json:"reason"`
		FailedAt time.Time    `json:"failed_at"`
	}{task, reason, time.Now().UTC()}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	key := queueKeyPrefix + task.Queue + deadSuffix
	if err := b.client.LPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("dead letter %s: %w", task.ID, err)
	}
	return nil
}
