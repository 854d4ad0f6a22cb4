package catalog

import (
	"sort"
	"sync"

	types "github.com/yungbote/pricebook-backend/internal/domain/catalog"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
)

type memKey struct {
	year int
	code string
}

type memoryStore struct {
	mu    sync.RWMutex
	items map[memKey]*types.CatalogItem
}

// NewMemoryStore is a process-local Store for tests and database-less runs.
func NewMemoryStore() Store {
	return &memoryStore{items: map[memKey]*types.CatalogItem{}}
}

func (s *memoryStore) UpsertMany(_ dbctx.Context, items []*types.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range dedupeByCode(items) {
		cp := *it
		s.items[memKey{year: it.Year, code: it.Code}] = &cp
	}
	return nil
}

func (s *memoryStore) FindByCode(_ dbctx.Context, code string, year int) (*types.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[memKey{year: year, code: code}]
	if !ok {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

func (s *memoryStore) DeleteByYear(_ dbctx.Context, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.items {
		if k.year == year {
			delete(s.items, k)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) CountByYear(_ dbctx.Context, year int) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for k := range s.items {
		if k.year == year {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) NearestNeighbors(_ dbctx.Context, vector []float32, k int, filter *types.Filter) ([]types.Match, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	year := yearOf(filter)
	s.mu.RLock()
	items := make([]*types.CatalogItem, 0, len(s.items))
	for key, it := range s.items {
		if year != 0 && key.year != year {
			continue
		}
		cp := *it
		items = append(items, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })
	return rank(items, vector, normalizeK(k)), nil
}
