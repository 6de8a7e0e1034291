// Package memory provides an in-memory Store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crawlkit/catalog-crawler/internal/catalog"
)

// Store is a mutex-guarded, map-backed implementation of catalog.Store.
// Timestamps come from the injected Clock and ids from the injected
// IDGenerator so they line up with the rest of the pipeline.
type Store struct {
	mu        sync.RWMutex
	clock     catalog.Clock
	ids       catalog.IDGenerator
	jobs      map[string]catalog.Job
	metrics   map[string]catalog.Metrics // keyed by job id
	rawItems  map[string]catalog.RawItem
	rawOrder  map[string][]string // job id -> raw ids in insert order
	processed map[string]catalog.ProcessedItem
}

// NewStore constructs an empty Store.
func NewStore(clock catalog.Clock, ids catalog.IDGenerator) *Store {
	return &Store{
		clock:     clock,
		ids:       ids,
		jobs:      make(map[string]catalog.Job),
		metrics:   make(map[string]catalog.Metrics),
		rawItems:  make(map[string]catalog.RawItem),
		rawOrder:  make(map[string][]string),
		processed: make(map[string]catalog.ProcessedItem),
	}
}

// CreateJob inserts a new in-progress job for the URL.
func (s *Store) CreateJob(_ context.Context, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	s.jobs[id] = catalog.Job{
		ID:        id,
		SourceURL: url,
		Status:    catalog.JobStatusInProgress,
		CreatedAt: s.clock.Now().UTC(),
	}
	return id, nil
}

// Jobs returns a snapshot of every stored job, in no particular order.
func (s *Store) Jobs() []catalog.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]catalog.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// ProcessedItems returns a snapshot of the processed items for a job.
func (s *Store) ProcessedItems(jobID string) []catalog.ProcessedItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []catalog.ProcessedItem
	for _, item := range s.processed {
		if item.JobID == jobID {
			items = append(items, item)
		}
	}
	return items
}

// GetJob fetches a job by id.
func (s *Store) GetJob(_ context.Context, jobID string) (catalog.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return catalog.Job{}, fmt.Errorf("job %s: %w", jobID, catalog.ErrNotFound)
	}
	return job, nil
}

// SetJobStatus updates status fields, matching on id only. Re-setting an
// already-terminal job to the same terminal state is a harmless
// overwrite.
func (s *Store) SetJobStatus(
	_ context.Context,
	jobID string,
	status catalog.JobStatus,
	errMsg string,
	completedAt *time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, catalog.ErrNotFound)
	}
	job.Status = status
	if errMsg != "" {
		job.ErrorMessage = errMsg
	}
	if completedAt != nil {
		ts := completedAt.UTC()
		job.CompletedAt = &ts
	}
	s.jobs[jobID] = job
	return nil
}

// UpdateJobMetrics records the per-page counters on the job row.
func (s *Store) UpdateJobMetrics(_ context.Context, jobID string, pages, itemsFound int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, catalog.ErrNotFound)
	}
	job.PagesScraped = pages
	job.ItemsFound = itemsFound
	s.jobs[jobID] = job
	return nil
}

// CreateMetrics inserts the metrics row paired with the job.
func (s *Store) CreateMetrics(_ context.Context, jobID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate metrics id: %w", err)
	}
	s.metrics[jobID] = catalog.Metrics{
		ID:        id,
		JobID:     jobID,
		StartTime: s.clock.Now().UTC(),
	}
	return id, nil
}

// GetMetrics fetches the metrics row for a job.
func (s *Store) GetMetrics(_ context.Context, jobID string) (catalog.Metrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[jobID]
	if !ok {
		return catalog.Metrics{}, fmt.Errorf("metrics for job %s: %w", jobID, catalog.ErrNotFound)
	}
	return m, nil
}

// UpdateMetrics applies the non-nil patch fields.
func (s *Store) UpdateMetrics(_ context.Context, jobID string, patch catalog.MetricsPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metrics[jobID]
	if !ok {
		return fmt.Errorf("metrics for job %s: %w", jobID, catalog.ErrNotFound)
	}
	if patch.TotalPages != nil {
		m.TotalPages = *patch.TotalPages
	}
	if patch.SuccessfulPages != nil {
		m.SuccessfulPages = *patch.SuccessfulPages
	}
	if patch.FailedPages != nil {
		m.FailedPages = *patch.FailedPages
	}
	if patch.TotalRawItems != nil {
		m.TotalRawItems = *patch.TotalRawItems
	}
	if patch.TotalProcessedItems != nil {
		m.TotalProcessedItems = *patch.TotalProcessedItems
	}
	if patch.EndTime != nil {
		ts := patch.EndTime.UTC()
		m.EndTime = &ts
	}
	if patch.DurationSeconds != nil {
		d := *patch.DurationSeconds
		m.DurationSeconds = &d
	}
	s.metrics[jobID] = m
	return nil
}

// SaveRawItems inserts the batch and returns ids in input order.
func (s *Store) SaveRawItems(_ context.Context, jobID string, items []catalog.ItemSummary) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(items))
	now := s.clock.Now().UTC()
	for _, item := range items {
		id, err := s.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate raw item id: %w", err)
		}
		s.rawItems[id] = catalog.RawItem{
			ID:          id,
			JobID:       jobID,
			PageURL:     item.PageURL,
			Title:       item.Title,
			ItemURL:     item.ItemURL,
			ImageURL:    item.ImageURL,
			Price:       item.Price,
			StockStatus: item.StockStatus,
			Rating:      item.Rating,
			CreatedAt:   now,
		}
		s.rawOrder[jobID] = append(s.rawOrder[jobID], id)
		ids = append(ids, id)
	}
	return ids, nil
}

// GetRawItem fetches a raw item by id.
func (s *Store) GetRawItem(_ context.Context, rawID string) (catalog.RawItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.rawItems[rawID]
	if !ok {
		return catalog.RawItem{}, fmt.Errorf("raw item %s: %w", rawID, catalog.ErrNotFound)
	}
	return item, nil
}

// UnprocessedRawItems lists the job's raw items still awaiting detail
// processing, in insert order.
func (s *Store) UnprocessedRawItems(_ context.Context, jobID string) ([]catalog.RawItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.RawItem
	for _, id := range s.rawOrder[jobID] {
		if item := s.rawItems[id]; !item.IsProcessed {
			out = append(out, item)
		}
	}
	return out, nil
}

// CountUnprocessed counts raw items not yet processed for the job.
func (s *Store) CountUnprocessed(_ context.Context, jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, id := range s.rawOrder[jobID] {
		if !s.rawItems[id].IsProcessed {
			count++
		}
	}
	return count, nil
}

// MarkRawProcessed flips the processed flag. The flip is monotonic: a
// second call leaves the item processed and keeps the original
// timestamp.
func (s *Store) MarkRawProcessed(_ context.Context, rawID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.rawItems[rawID]
	if !ok {
		return fmt.Errorf("raw item %s: %w", rawID, catalog.ErrNotFound)
	}
	if !item.IsProcessed {
		item.IsProcessed = true
		now := s.clock.Now().UTC()
		item.ProcessedAt = &now
		s.rawItems[rawID] = item
	}
	return nil
}

// SaveProcessedItem inserts the processed record and returns its id.
func (s *Store) SaveProcessedItem(_ context.Context, item catalog.ProcessedItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate processed item id: %w", err)
		}
		item.ID = id
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.clock.Now().UTC()
	}
	s.processed[item.ID] = item
	return item.ID, nil
}

// CountProcessed counts processed items for the job.
func (s *Store) CountProcessed(_ context.Context, jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, item := range s.processed {
		if item.JobID == jobID {
			count++
		}
	}
	return count, nil
}
