// Package pipeline implements the three crawl stages: catalog page
// traversal, per-job fan-out, and per-item detail fetching. Each stage
// is a unit of retryable work executed by the worker; all mutations go
// through the injected Store and stage chaining goes through the
// injected Broker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/catalog-crawler/internal/catalog"
	"github.com/crawlkit/catalog-crawler/internal/extractor"
	"github.com/crawlkit/catalog-crawler/internal/progress"
)

// Config holds the stage knobs.
type Config struct {
	// BaseURL resolves listing image links; typically the shop root.
	BaseURL string
	// RequestDelay is the politeness pause applied after every page
	// fetch and every detail fetch. Not cancellable mid-wait.
	RequestDelay time.Duration
}

// Pipeline executes the crawl stages against injected collaborators.
type Pipeline struct {
	store   catalog.Store
	broker  catalog.Broker
	fetcher catalog.Fetcher
	clock   catalog.Clock
	events  progress.Emitter
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Pipeline. events may be nil, in which case no
// progress is reported.
func New(
	store catalog.Store,
	broker catalog.Broker,
	fetcher catalog.Fetcher,
	clock catalog.Clock,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:   store,
		broker:  broker,
		fetcher: fetcher,
		clock:   clock,
		events:  events,
		cfg:     cfg,
		logger:  logger,
	}
}

func (p *Pipeline) emit(evt progress.Event) {
	if p.events == nil {
		return
	}
	evt.TS = p.clock.Now()
	p.events.Emit(evt)
}

// CrawlResult summarizes one crawl-stage invocation.
type CrawlResult struct {
	PagesProcessed int    `json:"pages_processed"`
	Status         string `json:"status"`
}

// FanOutResult summarizes one fan-out invocation.
type FanOutResult struct {
	JobID          string `json:"job_id"`
	ItemsToProcess int    `json:"items_to_process"`
	Status         string `json:"status"`
}

// DetailResult summarizes one detail invocation.
type DetailResult struct {
	JobID     string `json:"job_id"`
	RawItemID string `json:"raw_item_id"`
	Status    string `json:"status"`
	Remaining int    `json:"remaining"`
}

// Crawl walks the catalog from startURL, one page at a time. Every page
// gets its own Job and Metrics pair. A fetch failure or any error while
// processing a page marks that page's Job failed and aborts the rest of
// the traversal; retries happen only at the task level, which restarts
// the whole walk.
func (p *Pipeline) Crawl(ctx context.Context, startURL string) (CrawlResult, error) {
	currentURL := startURL
	pages := 0

	for currentURL != "" {
		nextURL, jobID, err := p.crawlPage(ctx, currentURL)
		if err != nil {
			p.logger.Error("page processing failed",
				zap.String("url", currentURL),
				zap.String("job_id", jobID),
				zap.Error(err),
			)
			if jobID != "" {
				if serr := p.store.SetJobStatus(ctx, jobID, catalog.JobStatusFailed, err.Error(), nil); serr != nil {
					p.logger.Error("fail status update", zap.String("job_id", jobID), zap.Error(serr))
				}
				p.emit(progress.Event{JobID: jobID, Stage: progress.StagePageError, URL: currentURL, Note: err.Error()})
				p.emit(progress.Event{JobID: jobID, Stage: progress.StageJobFailed, Note: err.Error()})
			}
			break
		}
		pages++
		currentURL = nextURL
		if currentURL != "" {
			p.delay()
		}
	}

	p.logger.Info("crawl finished", zap.String("start_url", startURL), zap.Int("pages", pages))
	return CrawlResult{PagesProcessed: pages, Status: "completed"}, nil
}

// crawlPage handles one catalog page: job + metrics creation, fetch,
// extraction, persistence, and fan-out. Returns the next page URL.
func (p *Pipeline) crawlPage(ctx context.Context, pageURL string) (nextURL, jobID string, err error) {
	jobID, err = p.store.CreateJob(ctx, pageURL)
	if err != nil {
		return "", "", fmt.Errorf("create job: %w", err)
	}
	if _, err := p.store.CreateMetrics(ctx, jobID); err != nil {
		return "", jobID, fmt.Errorf("create metrics: %w", err)
	}
	p.emit(progress.Event{JobID: jobID, Stage: progress.StageJobStart, URL: pageURL})

	doc, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return "", jobID, fmt.Errorf("failed to get content for %s: %w", pageURL, err)
	}

	items := extractor.Listing(doc, pageURL, p.cfg.BaseURL)
	if len(items) == 0 {
		// Zero extractable items is a valid terminal state.
		now := p.clock.Now()
		if err := p.store.SetJobStatus(ctx, jobID, catalog.JobStatusCompleted, "", &now); err != nil {
			return "", jobID, fmt.Errorf("complete empty page: %w", err)
		}
		p.logger.Warn("no items found on page", zap.String("url", pageURL), zap.String("job_id", jobID))
		p.emit(progress.Event{JobID: jobID, Stage: progress.StageJobDone, Note: "no items extracted"})
	} else {
		if _, err := p.store.SaveRawItems(ctx, jobID, items); err != nil {
			return "", jobID, fmt.Errorf("save raw items: %w", err)
		}
		if err := p.store.UpdateJobMetrics(ctx, jobID, 1, len(items)); err != nil {
			return "", jobID, fmt.Errorf("update job metrics: %w", err)
		}
		one := 1
		count := len(items)
		if err := p.store.UpdateMetrics(ctx, jobID, catalog.MetricsPatch{
			TotalPages:      &one,
			SuccessfulPages: &one,
			TotalRawItems:   &count,
		}); err != nil {
			return "", jobID, fmt.Errorf("update metrics: %w", err)
		}
		if _, err := p.broker.Enqueue(ctx, catalog.Task{
			Queue: catalog.QueueFanOut,
			Name:  catalog.TaskFanOut,
			Args:  []string{jobID},
		}); err != nil {
			return "", jobID, fmt.Errorf("enqueue fan-out: %w", err)
		}
		p.logger.Info("page processed",
			zap.String("url", pageURL),
			zap.String("job_id", jobID),
			zap.Int("items", len(items)),
		)
	}
	p.emit(progress.Event{JobID: jobID, Stage: progress.StagePageDone, URL: pageURL, Items: len(items)})

	return extractor.NextPageURL(doc, pageURL), jobID, nil
}

// FanOut enqueues one detail task per unprocessed raw item of the job.
// A job with nothing left to process is completed immediately, which
// keeps redelivered fan-out tasks harmless.
func (p *Pipeline) FanOut(ctx context.Context, jobID string) (FanOutResult, error) {
	items, err := p.store.UnprocessedRawItems(ctx, jobID)
	if err != nil {
		return FanOutResult{}, fmt.Errorf("list unprocessed: %w", err)
	}

	if len(items) == 0 {
		now := p.clock.Now()
		if err := p.store.SetJobStatus(ctx, jobID, catalog.JobStatusCompleted, "", &now); err != nil {
			return FanOutResult{}, fmt.Errorf("complete drained job: %w", err)
		}
		p.logger.Info("no unprocessed items for job", zap.String("job_id", jobID))
		p.emit(progress.Event{JobID: jobID, Stage: progress.StageJobDone, Note: "no items to process"})
		return FanOutResult{JobID: jobID, Status: "no_items_to_process"}, nil
	}

	for _, item := range items {
		if _, err := p.broker.Enqueue(ctx, catalog.Task{
			Queue: catalog.QueueDetail,
			Name:  catalog.TaskDetail,
			Args:  []string{jobID, item.ID},
		}); err != nil {
			return FanOutResult{}, fmt.Errorf("enqueue detail for %s: %w", item.ID, err)
		}
	}

	p.logger.Info("fan-out dispatched", zap.String("job_id", jobID), zap.Int("items", len(items)))
	return FanOutResult{JobID: jobID, ItemsToProcess: len(items), Status: "processing_started"}, nil
}

// Detail fetches one item's detail page, persists the processed record,
// marks the raw item processed, and completes the job when it was the
// last one. Safe to re-deliver: a missing raw item returns early and a
// second completion observation re-sets the same terminal fields.
func (p *Pipeline) Detail(ctx context.Context, jobID, rawID string) (DetailResult, error) {
	raw, err := p.store.GetRawItem(ctx, rawID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			p.logger.Warn("raw item not found", zap.String("raw_id", rawID))
			return DetailResult{JobID: jobID, RawItemID: rawID, Status: "raw_item_not_found"}, nil
		}
		return DetailResult{}, fmt.Errorf("get raw item: %w", err)
	}

	doc, fetchErr := p.fetcher.Fetch(ctx, raw.ItemURL)
	if fetchErr == nil {
		detail := extractor.Detail(doc, raw.ItemURL)
		item := buildProcessedItem(jobID, raw, detail)
		if _, err := p.store.SaveProcessedItem(ctx, item); err != nil {
			return DetailResult{}, fmt.Errorf("save processed item: %w", err)
		}
		p.emit(progress.Event{JobID: jobID, Stage: progress.StageItemDone, URL: raw.ItemURL})
		p.logger.Info("item processed", zap.String("raw_id", rawID), zap.String("title", item.Title))
	} else {
		// A permanently unextractable item must not block job
		// completion; it is still marked processed below.
		p.emit(progress.Event{JobID: jobID, Stage: progress.StageItemError, URL: raw.ItemURL, Note: fetchErr.Error()})
		p.logger.Warn("detail fetch failed, marking processed without details",
			zap.String("raw_id", rawID),
			zap.String("url", raw.ItemURL),
			zap.Error(fetchErr),
		)
	}

	if err := p.store.MarkRawProcessed(ctx, rawID); err != nil {
		return DetailResult{}, fmt.Errorf("mark raw processed: %w", err)
	}

	remaining, err := p.store.CountUnprocessed(ctx, jobID)
	if err != nil {
		return DetailResult{}, fmt.Errorf("count unprocessed: %w", err)
	}
	if remaining == 0 {
		if err := p.finalizeJob(ctx, jobID); err != nil {
			return DetailResult{}, err
		}
	}

	p.delay()
	return DetailResult{JobID: jobID, RawItemID: rawID, Status: "processed", Remaining: remaining}, nil
}

// finalizeJob completes the job and recomputes the processed-item
// metrics. Duplicate invocations from racing detail tasks re-set the
// same values.
func (p *Pipeline) finalizeJob(ctx context.Context, jobID string) error {
	now := p.clock.Now()
	if err := p.store.SetJobStatus(ctx, jobID, catalog.JobStatusCompleted, "", &now); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	processed, err := p.store.CountProcessed(ctx, jobID)
	if err != nil {
		return fmt.Errorf("count processed: %w", err)
	}
	m, err := p.store.GetMetrics(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get metrics: %w", err)
	}
	duration := now.Sub(m.StartTime).Seconds()
	if err := p.store.UpdateMetrics(ctx, jobID, catalog.MetricsPatch{
		TotalProcessedItems: &processed,
		EndTime:             &now,
		DurationSeconds:     &duration,
	}); err != nil {
		return fmt.Errorf("finalize metrics: %w", err)
	}

	p.emit(progress.Event{JobID: jobID, Stage: progress.StageJobDone, Dur: now.Sub(m.StartTime)})
	p.logger.Info("job completed",
		zap.String("job_id", jobID),
		zap.Int("processed_items", processed),
		zap.Float64("duration_seconds", duration),
	)
	return nil
}

// buildProcessedItem merges detail fields over the raw item's listing
// fields; the listing values win only where the detail page had
// nothing.
func buildProcessedItem(jobID string, raw catalog.RawItem, d catalog.ItemDetail) catalog.ProcessedItem {
	item := catalog.ProcessedItem{
		JobID:              jobID,
		RawItemID:          raw.ID,
		Title:              d.Title,
		ImageURL:           d.ImageURL,
		PriceExclTax:       d.PriceExclTax,
		PriceInclTax:       d.PriceInclTax,
		StockStatus:        d.StockStatus,
		StarCount:          d.StarCount,
		Description:        d.Description,
		ProductType:        d.ProductType,
		Availability:       d.Availability,
		UPC:                d.UPC,
		Tax:                d.Tax,
		ReviewCount:        d.ReviewCount,
		PriceColorFallback: d.PriceColorFallback,
	}
	if item.Title == "" {
		item.Title = raw.Title
	}
	if item.ImageURL == "" {
		item.ImageURL = raw.ImageURL
	}
	if item.StockStatus == "" {
		item.StockStatus = raw.StockStatus
	}
	return item
}

func (p *Pipeline) delay() {
	if p.cfg.RequestDelay > 0 {
		time.Sleep(p.cfg.RequestDelay)
	}
}
