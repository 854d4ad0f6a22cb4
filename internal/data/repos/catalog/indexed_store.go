package catalog

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/pricebook-backend/internal/domain/catalog"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
	"github.com/yungbote/pricebook-backend/internal/platform/qdrant"
)

type indexedStore struct {
	rows  Store
	db    *gorm.DB
	index qdrant.VectorStore
	log   *logger.Logger
}

// NewIndexedStore keeps rows in rows and vectors in a Qdrant namespace per year.
// Cross-year searches fall back to rows.
func NewIndexedStore(rows Store, db *gorm.DB, index qdrant.VectorStore, baseLog *logger.Logger) Store {
	return &indexedStore{
		rows:  rows,
		db:    db,
		index: index,
		log:   baseLog.With("repo", "IndexedCatalogStore"),
	}
}

func yearNamespace(year int) string { return fmt.Sprintf("catalog:%d", year) }

func (s *indexedStore) UpsertMany(dbc dbctx.Context, items []*types.CatalogItem) error {
	items = dedupeByCode(items)
	if err := s.rows.UpsertMany(dbc, items); err != nil {
		return err
	}
	byYear := map[int][]qdrant.Vector{}
	for _, it := range items {
		if len(it.Embedding) == 0 {
			continue
		}
		byYear[it.Year] = append(byYear[it.Year], qdrant.Vector{
			ID:       it.Code,
			Values:   it.Embedding,
			Metadata: map[string]any{"code": it.Code, "year": it.Year},
		})
	}
	for year, vecs := range byYear {
		if err := s.index.Upsert(dbc.Ctx, yearNamespace(year), vecs); err != nil {
			return fmt.Errorf("index upsert year %d: %w", year, err)
		}
	}
	return nil
}

func (s *indexedStore) FindByCode(dbc dbctx.Context, code string, year int) (*types.CatalogItem, error) {
	return s.rows.FindByCode(dbc, code, year)
}

func (s *indexedStore) CountByYear(dbc dbctx.Context, year int) (int64, error) {
	return s.rows.CountByYear(dbc, year)
}

func (s *indexedStore) DeleteByYear(dbc dbctx.Context, year int) (int64, error) {
	n, err := s.rows.DeleteByYear(dbc, year)
	if err != nil {
		return 0, err
	}
	if err := s.index.DeleteNamespace(dbc.Ctx, yearNamespace(year)); err != nil {
		return n, fmt.Errorf("index delete year %d: %w", year, err)
	}
	return n, nil
}

func (s *indexedStore) NearestNeighbors(dbc dbctx.Context, vector []float32, k int, filter *types.Filter) ([]types.Match, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	year := yearOf(filter)
	if year == 0 {
		return s.rows.NearestNeighbors(dbc, vector, k, filter)
	}
	k = normalizeK(k)
	hits, err := s.index.QueryMatches(dbc.Ctx, yearNamespace(year), vector, k)
	if err != nil {
		s.log.Warn("Vector index query failed; ranking in process", "year", year, "error", err)
		return s.rows.NearestNeighbors(dbc, vector, k, filter)
	}
	if len(hits) == 0 {
		return []types.Match{}, nil
	}
	codes := make([]string, 0, len(hits))
	for _, h := range hits {
		codes = append(codes, h.ID)
	}
	var items []*types.CatalogItem
	if err := dbc.DB(s.db).Where("year = ? AND code IN ?", year, codes).Find(&items).Error; err != nil {
		return nil, err
	}
	byCode := make(map[string]*types.CatalogItem, len(items))
	for _, it := range items {
		byCode[it.Code] = it
	}
	out := make([]types.Match, 0, len(hits))
	for _, h := range hits {
		if it, ok := byCode[h.ID]; ok {
			out = append(out, types.Match{Item: it, Score: h.Score})
		}
	}
	return out, nil
}
