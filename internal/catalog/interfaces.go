package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrNotFound is returned by Store lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Store persists jobs, raw items, processed items, and metrics. All
// operations are synchronous; failures propagate as errors and are never
// swallowed. Identifiers are opaque string tokens.
type Store interface {
	CreateJob(ctx context.Context, url string) (string, error)
	GetJob(ctx context.Context, jobID string) (Job, error)
	// SetJobStatus updates status, optional error message, and optional
	// completion time. The update matches on id only, so a duplicate
	// call on an already-terminal job re-sets the same fields and is
	// harmless.
	SetJobStatus(ctx context.Context, jobID string, status JobStatus, errMsg string, completedAt *time.Time) error
	UpdateJobMetrics(ctx context.Context, jobID string, pages, itemsFound int) error

	CreateMetrics(ctx context.Context, jobID string) (string, error)
	GetMetrics(ctx context.Context, jobID string) (Metrics, error)
	UpdateMetrics(ctx context.Context, jobID string, patch MetricsPatch) error

	// SaveRawItems inserts the batch all-or-nothing and returns the
	// assigned ids in input order.
	SaveRawItems(ctx context.Context, jobID string, items []ItemSummary) ([]string, error)
	GetRawItem(ctx context.Context, rawID string) (RawItem, error)
	UnprocessedRawItems(ctx context.Context, jobID string) ([]RawItem, error)
	CountUnprocessed(ctx context.Context, jobID string) (int, error)
	MarkRawProcessed(ctx context.Context, rawID string) error

	SaveProcessedItem(ctx context.Context, item ProcessedItem) (string, error)
	CountProcessed(ctx context.Context, jobID string) (int, error)
}

// Broker provides at-least-once task delivery over named queues.
type Broker interface {
	// Enqueue publishes the task and returns its id.
	Enqueue(ctx context.Context, task Task) (string, error)
	// Dequeue blocks until a task is available on one of the queues or
	// the context ends.
	Dequeue(ctx context.Context, queues ...string) (Task, error)
	// StoreResult records the task outcome in the result backend.
	StoreResult(ctx context.Context, taskID string, result any) error
	// DeadLetter parks a task whose retries are exhausted.
	DeadLetter(ctx context.Context, task Task, reason string) error
}

// Fetcher performs one HTTP GET and returns the parsed document. A
// transport error, timeout, or non-2xx status yields an error the
// caller treats as "no content", not a crash.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque unique string ids.
type IDGenerator interface {
	NewID() (string, error)
}
