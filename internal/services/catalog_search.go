package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	catalogrepo "github.com/yungbote/pricebook-backend/internal/data/repos/catalog"
	types "github.com/yungbote/pricebook-backend/internal/domain/catalog"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

// MinQueryRunes is the shortest query that reaches the embedder.
const MinQueryRunes = 2

type QueryEmbedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type CatalogSearchService interface {
	// Search embeds query and ranks catalog items. Queries shorter than
	// MinQueryRunes return an empty result without any external call.
	Search(dbc dbctx.Context, query string, k int, filter *types.Filter) ([]types.Match, error)
	FindByCode(dbc dbctx.Context, code string, year int) (*types.CatalogItem, error)
	DeleteYear(dbc dbctx.Context, year int) (int64, error)
}

type catalogSearchService struct {
	log      *logger.Logger
	store    catalogrepo.Store
	embedder QueryEmbedder
	cache    *lru.Cache[string, []float32]
}

func NewCatalogSearchService(baseLog *logger.Logger, store catalogrepo.Store, embedder QueryEmbedder, cacheSize int) (CatalogSearchService, error) {
	s := &catalogSearchService{
		log:      baseLog.With("service", "CatalogSearchService"),
		store:    store,
		embedder: embedder,
	}
	if cacheSize > 0 {
		c, err := lru.New[string, []float32](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("query embedding cache: %w", err)
		}
		s.cache = c
	}
	return s, nil
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func (s *catalogSearchService) Search(dbc dbctx.Context, query string, k int, filter *types.Filter) ([]types.Match, error) {
	q := normalizeQuery(query)
	if utf8.RuneCountInString(q) < MinQueryRunes {
		return []types.Match{}, nil
	}
	vec, err := s.embedQuery(dbc.Ctx, q)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = catalogrepo.DefaultK
	}
	return s.store.NearestNeighbors(dbc, vec, k, filter)
}

func (s *catalogSearchService) embedQuery(ctx context.Context, q string) ([]float32, error) {
	key := strings.ToLower(q)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v, nil
		}
	}
	vecs, err := s.embedder.Embed(ctx, []string{q})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	if s.cache != nil {
		s.cache.Add(key, vecs[0])
	}
	return vecs[0], nil
}

func (s *catalogSearchService) FindByCode(dbc dbctx.Context, code string, year int) (*types.CatalogItem, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	return s.store.FindByCode(dbc, code, year)
}

func (s *catalogSearchService) DeleteYear(dbc dbctx.Context, year int) (int64, error) {
	n, err := s.store.DeleteByYear(dbc, year)
	if err != nil {
		return 0, err
	}
	s.log.Info("Catalog year deleted", "year", year, "rows", n)
	return n, nil
}
