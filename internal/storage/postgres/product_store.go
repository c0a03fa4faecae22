package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/shopspider/shopspider/internal/crawler"
)

// maxInsertChunk bounds how many rows go into one multi-VALUES insert.
const maxInsertChunk = 1000

// ProductStore persists and reads product rows. It implements both
// crawler.ProductSink and crawler.ProductStore.
type ProductStore struct {
	pool querier
	log  *zap.Logger
}

// NewProductStore creates a Postgres-backed ProductStore using the provided config.
func NewProductStore(ctx context.Context, cfg Config, log *zap.Logger) (*ProductStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ProductStore{pool: pool, log: log}, nil
}

// NewProductStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProductStoreWithPool(pool querier, log *zap.Logger) (*ProductStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ProductStore{pool: pool, log: log}, nil
}

// Close releases the underlying pool resources.
func (s *ProductStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Persist upserts products in chunks, keyed on product_url. A failed
// chunk is logged and skipped so one bad batch does not sink the rest;
// the first chunk error is returned after all chunks were attempted.
func (s *ProductStore) Persist(ctx context.Context, products []crawler.Product) error {
	var firstErr error
	for start := 0; start < len(products); start += maxInsertChunk {
		end := min(start+maxInsertChunk, len(products))
		if err := s.persistChunk(ctx, products[start:end]); err != nil {
			s.log.Error("product chunk insert failed",
				zap.Int("offset", start),
				zap.Int("size", end-start),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *ProductStore) persistChunk(ctx context.Context, products []crawler.Product) error {
	if len(products) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO products (title, price, description, image_url, product_url, crawl_time) VALUES ")
	args := make([]any, 0, len(products)*6)
	for i, p := range products {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, p.Title, p.Price, p.Description, p.ImageURL, p.ProductURL, p.CrawlTime)
	}
	sb.WriteString(` ON CONFLICT (product_url) DO UPDATE SET
title = EXCLUDED.title,
price = EXCLUDED.price,
description = EXCLUDED.description,
image_url = EXCLUDED.image_url,
crawl_time = EXCLUDED.crawl_time`)

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert products: %w", err)
	}
	return nil
}

// ListProducts returns up to limit products ordered by ID, skipping offset rows.
func (s *ProductStore) ListProducts(ctx context.Context, limit, offset int) ([]crawler.Product, error) {
	query := `
SELECT id, title, price, COALESCE(description, ''), COALESCE(image_url, ''), product_url, crawl_time
FROM products
ORDER BY id
LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []crawler.Product
	for rows.Next() {
		var p crawler.Product
		if err := rows.Scan(&p.ID, &p.Title, &p.Price, &p.Description, &p.ImageURL, &p.ProductURL, &p.CrawlTime); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// GetProduct loads one product by ID. Returns crawler.ErrNotFound when
// no row exists.
func (s *ProductStore) GetProduct(ctx context.Context, id int64) (crawler.Product, error) {
	query := `
SELECT id, title, price, COALESCE(description, ''), COALESCE(image_url, ''), product_url, crawl_time
FROM products
WHERE id = $1`

	var p crawler.Product
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Title, &p.Price, &p.Description, &p.ImageURL, &p.ProductURL, &p.CrawlTime,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Product{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}
