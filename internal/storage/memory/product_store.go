package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspider/shopspider/internal/crawler"
)

// ProductStore keeps product rows in a map keyed by product URL. It
// implements both crawler.ProductSink and crawler.ProductStore.
type ProductStore struct {
	mu     sync.RWMutex
	nextID int64
	byURL  map[string]crawler.Product
}

// NewProductStore constructs an empty in-memory product store.
func NewProductStore() *ProductStore {
	return &ProductStore{byURL: make(map[string]crawler.Product)}
}

// Persist upserts products keyed on ProductURL.
func (s *ProductStore) Persist(_ context.Context, products []crawler.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		if existing, ok := s.byURL[p.ProductURL]; ok {
			p.ID = existing.ID
		} else {
			s.nextID++
			p.ID = s.nextID
		}
		s.byURL[p.ProductURL] = p
	}
	return nil
}

// ListProducts returns up to limit products ordered by ID, skipping offset rows.
func (s *ProductStore) ListProducts(_ context.Context, limit, offset int) ([]crawler.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]crawler.Product, 0, len(s.byURL))
	for _, p := range s.byURL {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// GetProduct loads one product by ID.
func (s *ProductStore) GetProduct(_ context.Context, id int64) (crawler.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byURL {
		if p.ID == id {
			return p, nil
		}
	}
	return crawler.Product{}, crawler.ErrNotFound
}
