package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/shopspider/shopspider/internal/crawler"
)

func TestUpsertPendingBatchesValues(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTaskStoreWithPool(mock)
	require.NoError(t, err)

	tasks := []crawler.Task{
		{ID: "t1", StartURL: "https://a.example"},
		{ID: "t2", StartURL: "https://b.example"},
	}

	mock.ExpectExec("INSERT INTO crawl_tasks").
		WithArgs("t1", "https://a.example", "t2", "https://b.example").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, store.UpsertPending(context.Background(), tasks))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPendingEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTaskStoreWithPool(mock)
	require.NoError(t, err)

	require.NoError(t, store.UpsertPending(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunning(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTaskStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE crawl_tasks SET status = 'running'").
		WithArgs("t1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkRunning(context.Background(), "t1", "https://a.example", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningInsertsWhenRowMissing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTaskStoreWithPool(mock)
	require.NoError(t, err)

	// The engine can pick a task up before the ingestion sweep has
	// written its row; a zero-row update must fall back to an insert.
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE crawl_tasks SET status = 'running'").
		WithArgs("t1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("INSERT INTO crawl_tasks").
		WithArgs("t1", "https://a.example", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.MarkRunning(context.Background(), "t1", "https://a.example", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFinishedStoresErrorMessage(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTaskStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE crawl_tasks SET status =").
		WithArgs("t1", "failed", now, "boom").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkFinished(context.Background(), "t1", crawler.TaskStatusFailed, now, "boom"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFinishedInsertsWhenRowMissing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTaskStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE crawl_tasks SET status =").
		WithArgs("t1", "completed", now, "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("INSERT INTO crawl_tasks").
		WithArgs("t1", "completed", now, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.MarkFinished(context.Background(), "t1", crawler.TaskStatusCompleted, now, ""))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTask(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTaskStoreWithPool(mock)
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"task_id", "start_url", "status", "start_time", "end_time", "coalesce"}).
		AddRow("t1", "https://a.example", crawler.TaskStatusRunning, &started, (*time.Time)(nil), "")

	mock.ExpectQuery("SELECT task_id, start_url, status").
		WithArgs("t1").
		WillReturnRows(rows)

	task, err := store.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "t1", task.ID)
	require.Equal(t, crawler.TaskStatusRunning, task.Status)
	require.Equal(t, &started, task.StartTime)
	require.Nil(t, task.EndTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTaskStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT task_id, start_url, status").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetTask(context.Background(), "missing")
	require.True(t, errors.Is(err, crawler.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
