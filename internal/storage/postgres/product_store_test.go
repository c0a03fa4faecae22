package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopspider/shopspider/internal/crawler"
)

func newProductStore(t *testing.T) (*ProductStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewProductStoreWithPool(mock, zap.NewNop())
	require.NoError(t, err)
	return store, mock
}

func TestPersistUpsertsOnProductURL(t *testing.T) {
	t.Parallel()

	store, mock := newProductStore(t)
	now := time.Unix(1700000000, 0).UTC()

	products := []crawler.Product{
		{Title: "Widget", Price: 9.99, Description: "d", ImageURL: "i", ProductURL: "https://a.example/w", CrawlTime: now},
		{Title: "Gadget", Price: 19.99, Description: "", ImageURL: "", ProductURL: "https://a.example/g", CrawlTime: now},
	}

	mock.ExpectExec("INSERT INTO products").
		WithArgs(
			"Widget", 9.99, "d", "i", "https://a.example/w", now,
			"Gadget", 19.99, "", "", "https://a.example/g", now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, store.Persist(context.Background(), products))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistReturnsFirstChunkError(t *testing.T) {
	t.Parallel()

	store, mock := newProductStore(t)
	now := time.Unix(1700000000, 0).UTC()

	// Two full chunks plus one failing in the middle: the second chunk
	// error surfaces but the third chunk is still attempted.
	products := make([]crawler.Product, 2*maxInsertChunk+1)
	for i := range products {
		products[i] = crawler.Product{
			Title:      "P",
			Price:      1,
			ProductURL: fmt.Sprintf("https://a.example/p%d", i),
			CrawlTime:  now,
		}
	}

	anyChunkArgs := make([]any, maxInsertChunk*6)
	for i := range anyChunkArgs {
		anyChunkArgs[i] = pgxmock.AnyArg()
	}

	mock.ExpectExec("INSERT INTO products").WithArgs(anyChunkArgs...).WillReturnResult(pgxmock.NewResult("INSERT", int64(maxInsertChunk)))
	mock.ExpectExec("INSERT INTO products").WithArgs(anyChunkArgs...).WillReturnError(errors.New("deadlock"))
	mock.ExpectExec("INSERT INTO products").WithArgs(anyChunkArgs[:6]...).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Persist(context.Background(), products)
	require.ErrorContains(t, err, "deadlock")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListProducts(t *testing.T) {
	t.Parallel()

	store, mock := newProductStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{"id", "title", "price", "description", "image_url", "product_url", "crawl_time"}).
		AddRow(int64(1), "Widget", 9.99, "d", "i", "https://a.example/w", now).
		AddRow(int64(2), "Gadget", 19.99, "", "", "https://a.example/g", now)

	mock.ExpectQuery("SELECT id, title, price").
		WithArgs(100, 0).
		WillReturnRows(rows)

	products, err := store.ListProducts(context.Background(), 100, 0)
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, "Widget", products[0].Title)
	require.EqualValues(t, 2, products[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newProductStore(t)

	mock.ExpectQuery("SELECT id, title, price").
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetProduct(context.Background(), int64(42))
	require.True(t, errors.Is(err, crawler.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
