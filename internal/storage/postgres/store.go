// Package postgres provides the Postgres-backed catalog.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crawlkit/catalog-crawler/internal/catalog"
)

// DB is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Store implements catalog.Store on Postgres. See schema.sql for the
// expected tables. Row timestamps come from the injected Clock and ids
// from the injected IDGenerator, the same sources the pipeline uses.
type Store struct {
	db    DB
	pool  *pgxpool.Pool
	clock catalog.Clock
	ids   catalog.IDGenerator
}

// NewStore connects a pool for the DSN and pings it.
func NewStore(ctx context.Context, dsn string, clock catalog.Clock, ids catalog.IDGenerator) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: pool, pool: pool, clock: clock, ids: ids}, nil
}

// NewStoreWithDB wraps an existing connection, mainly for tests.
func NewStoreWithDB(db DB, clock catalog.Clock, ids catalog.IDGenerator) *Store {
	return &Store{db: db, clock: clock, ids: ids}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies connectivity, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// CreateJob inserts a new in-progress job row and returns its id.
func (s *Store) CreateJob(ctx context.Context, url string) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	query := `
		INSERT INTO jobs (id, source_url, status, created_at)
		VALUES ($1, $2, $3, $4);
	`
	if _, err := s.db.Exec(ctx, query, id, url, catalog.JobStatusInProgress, s.clock.Now().UTC()); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	return id, nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (catalog.Job, error) {
	query := `
		SELECT id, source_url, status, created_at, completed_at, error_message, pages_scraped, items_found
		FROM jobs
		WHERE id = $1;
	`
	var (
		job    catalog.Job
		errMsg *string
	)
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.SourceURL,
		&job.Status,
		&job.CreatedAt,
		&job.CompletedAt,
		&errMsg,
		&job.PagesScraped,
		&job.ItemsFound,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Job{}, fmt.Errorf("job %s: %w", jobID, catalog.ErrNotFound)
		}
		return catalog.Job{}, fmt.Errorf("get job: %w", err)
	}
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	return job, nil
}

// SetJobStatus updates the status fields matched on id only, so a
// duplicate call on an already-terminal job re-sets the same fields
// without error.
func (s *Store) SetJobStatus(
	ctx context.Context,
	jobID string,
	status catalog.JobStatus,
	errMsg string,
	completedAt *time.Time,
) error {
	query := `
		UPDATE jobs
		SET status = $2,
		    error_message = COALESCE(NULLIF($3, ''), error_message),
		    completed_at = COALESCE($4, completed_at)
		WHERE id = $1;
	`
	if _, err := s.db.Exec(ctx, query, jobID, status, errMsg, completedAt); err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return nil
}

// UpdateJobMetrics records the per-page counters on the job row.
func (s *Store) UpdateJobMetrics(ctx context.Context, jobID string, pages, itemsFound int) error {
	query := `
		UPDATE jobs
		SET pages_scraped = $2, items_found = $3
		WHERE id = $1;
	`
	if _, err := s.db.Exec(ctx, query, jobID, pages, itemsFound); err != nil {
		return fmt.Errorf("update job metrics: %w", err)
	}
	return nil
}

// CreateMetrics inserts the metrics row paired 1:1 with the job.
func (s *Store) CreateMetrics(ctx context.Context, jobID string) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate metrics id: %w", err)
	}
	query := `
		INSERT INTO job_metrics (id, job_id, start_time)
		VALUES ($1, $2, $3);
	`
	if _, err := s.db.Exec(ctx, query, id, jobID, s.clock.Now().UTC()); err != nil {
		return "", fmt.Errorf("create metrics: %w", err)
	}
	return id, nil
}

// GetMetrics retrieves the metrics row for a job.
func (s *Store) GetMetrics(ctx context.Context, jobID string) (catalog.Metrics, error) {
	query := `
		SELECT id, job_id, total_pages, successful_pages, failed_pages,
		       total_raw_items, total_processed_items, start_time, end_time, duration_seconds
		FROM job_metrics
		WHERE job_id = $1;
	`
	var m catalog.Metrics
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&m.ID,
		&m.JobID,
		&m.TotalPages,
		&m.SuccessfulPages,
		&m.FailedPages,
		&m.TotalRawItems,
		&m.TotalProcessedItems,
		&m.StartTime,
		&m.EndTime,
		&m.DurationSeconds,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Metrics{}, fmt.Errorf("metrics for job %s: %w", jobID, catalog.ErrNotFound)
		}
		return catalog.Metrics{}, fmt.Errorf("get metrics: %w", err)
	}
	return m, nil
}

// UpdateMetrics applies the non-nil patch fields. Each updatable column
// is enumerated explicitly; an empty patch is a no-op.
func (s *Store) UpdateMetrics(ctx context.Context, jobID string, patch catalog.MetricsPatch) error {
	if patch.Empty() {
		return nil
	}

	sets := make([]string, 0, 7)
	args := []any{jobID}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.TotalPages != nil {
		add("total_pages", *patch.TotalPages)
	}
	if patch.SuccessfulPages != nil {
		add("successful_pages", *patch.SuccessfulPages)
	}
	if patch.FailedPages != nil {
		add("failed_pages", *patch.FailedPages)
	}
	if patch.TotalRawItems != nil {
		add("total_raw_items", *patch.TotalRawItems)
	}
	if patch.TotalProcessedItems != nil {
		add("total_processed_items", *patch.TotalProcessedItems)
	}
	if patch.EndTime != nil {
		add("end_time", *patch.EndTime)
	}
	if patch.DurationSeconds != nil {
		add("duration_seconds", *patch.DurationSeconds)
	}

	query := fmt.Sprintf("UPDATE job_metrics SET %s WHERE job_id = $1;", strings.Join(sets, ", "))
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update metrics: %w", err)
	}
	return nil
}

// SaveRawItems inserts the batch inside one transaction so the page's
// items land all-or-nothing. Returns the assigned ids in input order.
func (s *Store) SaveRawItems(ctx context.Context, jobID string, items []catalog.ItemSummary) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin raw item batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO raw_items (id, job_id, page_url, title, item_url, image_url, price, stock_status, rating, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`
	now := s.clock.Now().UTC()
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, err := s.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate raw item id: %w", err)
		}
		if _, err := tx.Exec(ctx, query,
			id,
			jobID,
			item.PageURL,
			item.Title,
			item.ItemURL,
			item.ImageURL,
			item.Price,
			item.StockStatus,
			item.Rating,
			now,
		); err != nil {
			return nil, fmt.Errorf("insert raw item: %w", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit raw item batch: %w", err)
	}
	return ids, nil
}

// GetRawItem fetches one raw item by id.
func (s *Store) GetRawItem(ctx context.Context, rawID string) (catalog.RawItem, error) {
	query := rawItemSelect + " WHERE id = $1;"
	item, err := scanRawItem(s.db.QueryRow(ctx, query, rawID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.RawItem{}, fmt.Errorf("raw item %s: %w", rawID, catalog.ErrNotFound)
		}
		return catalog.RawItem{}, fmt.Errorf("get raw item: %w", err)
	}
	return item, nil
}

// UnprocessedRawItems lists the job's raw items awaiting detail
// processing, oldest first.
func (s *Store) UnprocessedRawItems(ctx context.Context, jobID string) ([]catalog.RawItem, error) {
	query := rawItemSelect + " WHERE job_id = $1 AND NOT is_processed ORDER BY created_at;"
	rows, err := s.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed raw items: %w", err)
	}
	defer rows.Close()

	var items []catalog.RawItem
	for rows.Next() {
		item, err := scanRawItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan raw item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw items: %w", err)
	}
	return items, nil
}

// CountUnprocessed counts raw items not yet processed for the job.
func (s *Store) CountUnprocessed(ctx context.Context, jobID string) (int, error) {
	query := `SELECT count(*) FROM raw_items WHERE job_id = $1 AND NOT is_processed;`
	var count int
	if err := s.db.QueryRow(ctx, query, jobID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unprocessed: %w", err)
	}
	return count, nil
}

// MarkRawProcessed flips the processed flag. The COALESCE keeps the
// original processed_at on redelivery, so the flip stays monotonic.
func (s *Store) MarkRawProcessed(ctx context.Context, rawID string) error {
	query := `
		UPDATE raw_items
		SET is_processed = TRUE, processed_at = COALESCE(processed_at, $2)
		WHERE id = $1;
	`
	if _, err := s.db.Exec(ctx, query, rawID, s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("mark raw processed: %w", err)
	}
	return nil
}

// SaveProcessedItem inserts the processed record and returns its id.
func (s *Store) SaveProcessedItem(ctx context.Context, item catalog.ProcessedItem) (string, error) {
	id := item.ID
	if id == "" {
		var err error
		if id, err = s.ids.NewID(); err != nil {
			return "", fmt.Errorf("generate processed item id: %w", err)
		}
	}
	query := `
		INSERT INTO processed_items (
			id, job_id, raw_item_id, title, image_url, price_excl_tax, price_incl_tax,
			stock_status, star_count, description, product_type, availability, upc, tax,
			review_count, price_color_fallback, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17);
	`
	if _, err := s.db.Exec(ctx, query,
		id,
		item.JobID,
		item.RawItemID,
		item.Title,
		item.ImageURL,
		item.PriceExclTax,
		item.PriceInclTax,
		item.StockStatus,
		item.StarCount,
		item.Description,
		item.ProductType,
		item.Availability,
		item.UPC,
		item.Tax,
		item.ReviewCount,
		item.PriceColorFallback,
		s.clock.Now().UTC(),
	); err != nil {
		return "", fmt.Errorf("save processed item: %w", err)
	}
	return id, nil
}

// CountProcessed counts processed items for the job.
func (s *Store) CountProcessed(ctx context.Context, jobID string) (int, error) {
	query := `SELECT count(*) FROM processed_items WHERE job_id = $1;`
	var count int
	if err := s.db.QueryRow(ctx, query, jobID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count processed: %w", err)
	}
	return count, nil
}

const rawItemSelect = `
	SELECT id, job_id, page_url, title, item_url, image_url, price, stock_status, rating,
	       is_processed, created_at, processed_at
	FROM raw_items`

func scanRawItem(row pgx.Row) (catalog.RawItem, error) {
	var item catalog.RawItem
	err := row.Scan(
		&item.ID,
		&item.JobID,
		&item.PageURL,
		&item.Title,
		&item.ItemURL,
		&item.ImageURL,
		&item.Price,
		&item.StockStatus,
		&item.Rating,
		&item.IsProcessed,
		&item.CreatedAt,
		&item.ProcessedAt,
	)
	return item, err
}
