// Package catalog defines the core types and interfaces shared by the
// crawl pipeline: jobs, raw and processed item records, per-job metrics,
// and the contracts for the store, the task broker, and the fetcher.
package catalog

import "time"

// JobStatus represents the lifecycle state of a per-page crawl job.
type JobStatus string

// Job status values persisted in the store. A job leaves InProgress
// exactly once and never transitions again.
const (
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the metadata persisted for each page visited by the crawl
// stage. One job is created per page, not per crawl run.
type Job struct {
	ID           string     `json:"id"`
	SourceURL    string     `json:"source_url"`
	Status       JobStatus  `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	PagesScraped int        `json:"pages_scraped"`
	ItemsFound   int        `json:"items_found"`
}

// RawItem is a listing-page entry captured by the crawl stage. It is
// written once in a batch and mutated only by the processed flip.
type RawItem struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	PageURL     string     `json:"page_url"`
	Title       string     `json:"title"`
	ItemURL     string     `json:"item_url"`
	ImageURL    string     `json:"image_url"`
	Price       string     `json:"price"`
	StockStatus string     `json:"stock_status"`
	Rating      string     `json:"rating"`
	IsProcessed bool       `json:"is_processed"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// ProcessedItem is the enriched record produced by the detail stage.
// Immutable after creation.
type ProcessedItem struct {
	ID                 string    `json:"id"`
	JobID              string    `json:"job_id"`
	RawItemID          string    `json:"raw_item_id"`
	Title              string    `json:"title"`
	ImageURL           string    `json:"image_url"`
	PriceExclTax       string    `json:"price_excl_tax,omitempty"`
	PriceInclTax       string    `json:"price_incl_tax,omitempty"`
	StockStatus        string    `json:"stock_status"`
	StarCount          int       `json:"star_count"`
	Description        string    `json:"description,omitempty"`
	ProductType        string    `json:"product_type,omitempty"`
	Availability       string    `json:"availability,omitempty"`
	UPC                string    `json:"upc,omitempty"`
	Tax                string    `json:"tax,omitempty"`
	ReviewCount        string    `json:"review_count,omitempty"`
	PriceColorFallback string    `json:"price_color_fallback,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Metrics tracks crawl statistics for a single job (1:1 with Job).
// Incremented by the crawl stage and finalized by the detail stage when
// the job completes.
type Metrics struct {
	ID                  string     `json:"id"`
	JobID               string     `json:"job_id"`
	TotalPages          int        `json:"total_pages"`
	SuccessfulPages     int        `json:"successful_pages"`
	FailedPages         int        `json:"failed_pages"`
	TotalRawItems       int        `json:"total_raw_items"`
	TotalProcessedItems int        `json:"total_processed_items"`
	StartTime           time.Time  `json:"start_time"`
	EndTime             *time.Time `json:"end_time,omitempty"`
	DurationSeconds     *float64   `json:"duration_seconds,omitempty"`
}

// MetricsPatch enumerates the updatable Metrics fields explicitly.
// Nil fields are left untouched by UpdateMetrics.
type MetricsPatch struct {
	TotalPages          *int       `json:"total_pages,omitempty"`
	SuccessfulPages     *int       `json:"successful_pages,omitempty"`
	FailedPages         *int       `json:"failed_pages,omitempty"`
	TotalRawItems       *int       `json:"total_raw_items,omitempty"`
	TotalProcessedItems *int       `json:"total_processed_items,omitempty"`
	EndTime             *time.Time `json:"end_time,omitempty"`
	DurationSeconds     *float64   `json:"duration_seconds,omitempty"`
}

// Empty reports whether the patch carries no updates.
func (p MetricsPatch) Empty() bool {
	return p.TotalPages == nil && p.SuccessfulPages == nil &&
		p.FailedPages == nil && p.TotalRawItems == nil &&
		p.TotalProcessedItems == nil && p.EndTime == nil &&
		p.DurationSeconds == nil
}

// ItemSummary is a normalized listing-page item produced by the
// extractor. PageURL is the listing page the item was found on.
type ItemSummary struct {
	Title       string
	ItemURL     string
	ImageURL    string
	Price       string
	StockStatus string
	Rating      string
	PageURL     string
}

// ItemDetail carries the detail-page fields. Every field other than
// Title is optional; an empty string means the field was not present.
type ItemDetail struct {
	Title              string
	ImageURL           string
	PriceExclTax       string
	PriceInclTax       string
	StockStatus        string
	StarCount          int
	Description        string
	ProductType        string
	Availability       string
	UPC                string
	Tax                string
	ReviewCount        string
	PriceColorFallback string
}

// Task is the wire envelope carried by the broker between stages. Args
// is a flat ordered list of string-encoded values, matching the enqueue
// contract.
type Task struct {
	ID      string   `json:"id"`
	Queue   string   `json:"queue"`
	Name    string   `json:"name"`
	Args    []string `json:"args"`
	Attempt int      `json:"attempt"`
}

// Task names dispatched by the worker.
const (
	TaskCrawl  = "crawl_catalog"
	TaskFanOut = "fan_out_items"
	TaskDetail = "fetch_item_detail"
)

// Queue names, one per pipeline stage.
const (
	QueueCrawl  = "crawl"
	QueueFanOut = "fanout"
	QueueDetail = "detail"
)

// Queues lists the consumer queues in dispatch order.
var Queues = []string{QueueCrawl, QueueFanOut, QueueDetail}
