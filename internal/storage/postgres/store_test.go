package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/crawlkit/catalog-crawler/internal/catalog"
	uuidgen "github.com/crawlkit/catalog-crawler/internal/id/uuid"
)

var storeNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubClock struct{}

func (stubClock) Now() time.Time { return storeNow }

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStoreWithDB(mock, stubClock{}, uuidgen.New()), mock
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(pgxmock.AnyArg(), "https://shop.test/page-1.html", catalog.JobStatusInProgress, storeNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := store.CreateJob(context.Background(), "https://shop.test/page-1.html")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetJobStatusMatchesOnIDOnly(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", catalog.JobStatusCompleted, "", &now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.SetJobStatus(context.Background(), "job-1", catalog.JobStatusCompleted, "", &now)
	require.NoError(t, err)

	// A second identical call issues the same update; zero affected
	// rows or re-set fields are both acceptable outcomes.
	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", catalog.JobStatusCompleted, "", &now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.SetJobStatus(context.Background(), "job-1", catalog.JobStatusCompleted, "", &now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, source_url").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestSaveRawItemsIsTransactional(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	items := []catalog.ItemSummary{
		{PageURL: "https://shop.test/p1", Title: "A", ItemURL: "https://shop.test/a", ImageURL: "https://shop.test/a.jpg", Rating: "Three"},
		{PageURL: "https://shop.test/p1", Title: "B", ItemURL: "https://shop.test/b", ImageURL: "https://shop.test/b.jpg", Rating: "Unknown"},
	}

	mock.ExpectBegin()
	for _, item := range items {
		mock.ExpectExec("INSERT INTO raw_items").
			WithArgs(
				pgxmock.AnyArg(),
				"job-1",
				item.PageURL,
				item.Title,
				item.ItemURL,
				item.ImageURL,
				item.Price,
				item.StockStatus,
				item.Rating,
				storeNow,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	ids, err := store.SaveRawItems(context.Background(), "job-1", items)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.NotEqual(t, ids[0], ids[1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRawItemsRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO raw_items").
		WithArgs(
			pgxmock.AnyArg(), "job-1", "", "A", "https://shop.test/a", "https://shop.test/a.jpg", "", "", "", storeNow,
		).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.SaveRawItems(context.Background(), "job-1", []catalog.ItemSummary{
		{Title: "A", ItemURL: "https://shop.test/a", ImageURL: "https://shop.test/a.jpg"},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRawProcessedKeepsOriginalTimestamp(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE raw_items").
		WithArgs("raw-1", storeNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkRawProcessed(context.Background(), "raw-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountUnprocessed(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT count").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.CountUnprocessed(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestUpdateMetricsBuildsExplicitPatch(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	one := 1
	five := 5
	mock.ExpectExec("UPDATE job_metrics SET total_pages = \\$2, successful_pages = \\$3, total_raw_items = \\$4").
		WithArgs("job-1", one, one, five).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateMetrics(context.Background(), "job-1", catalog.MetricsPatch{
		TotalPages:      &one,
		SuccessfulPages: &one,
		TotalRawItems:   &five,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMetricsEmptyPatchIsNoOp(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	err := store.UpdateMetrics(context.Background(), "job-1", catalog.MetricsPatch{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveProcessedItem(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	item := catalog.ProcessedItem{
		JobID:       "job-1",
		RawItemID:   "raw-1",
		Title:       "A Light in the Attic",
		ImageURL:    "https://shop.test/a.jpg",
		StockStatus: "In stock",
		StarCount:   4,
		UPC:         "a897fe39b1053632",
	}

	mock.ExpectExec("INSERT INTO processed_items").
		WithArgs(
			pgxmock.AnyArg(),
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
			storeNow,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := store.SaveProcessedItem(context.Background(), item)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}
