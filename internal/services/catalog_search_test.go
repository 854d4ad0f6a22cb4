package services

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	catalogrepo "github.com/yungbote/pricebook-backend/internal/data/repos/catalog"
	types "github.com/yungbote/pricebook-backend/internal/domain/catalog"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	vecs  map[string][]float32
}

func (e *countingEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	out := make([][]float32, 0, len(inputs))
	for _, in := range inputs {
		v, ok := e.vecs[in]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out = append(out, v)
	}
	return out, nil
}

func seededStore(t *testing.T) catalogrepo.Store {
	t.Helper()
	store := catalogrepo.NewMemoryStore()
	err := store.UpsertMany(dbctx.From(context.Background()), []*types.CatalogItem{
		{Code: "P0101", Year: 2024, Description: "Pintura plástica paredes", Unit: "m2", UnitPrice: decimal.RequireFromString("7.40"), Embedding: []float32{1, 0, 0}},
		{Code: "S0202", Year: 2024, Description: "Solado cerámico", Unit: "m2", UnitPrice: decimal.RequireFromString("31.20"), Embedding: []float32{0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func TestSearchShortQueryMakesNoCall(t *testing.T) {
	emb := &countingEmbedder{}
	svc, err := NewCatalogSearchService(logger.Nop(), seededStore(t), emb, 16)
	if err != nil {
		t.Fatalf("NewCatalogSearchService: %v", err)
	}
	for _, q := range []string{"", " ", "a", " ñ "} {
		got, err := svc.Search(dbctx.From(context.Background()), q, 5, nil)
		if err != nil || len(got) != 0 {
			t.Fatalf("Search(%q): want empty, got %v %v", q, got, err)
		}
	}
	if emb.calls != 0 {
		t.Fatalf("short queries reached the embedder %d times", emb.calls)
	}
}

func TestSearchRanksAndCaches(t *testing.T) {
	emb := &countingEmbedder{vecs: map[string][]float32{"pintura paredes": {0.9, 0.1, 0}}}
	svc, err := NewCatalogSearchService(logger.Nop(), seededStore(t), emb, 16)
	if err != nil {
		t.Fatalf("NewCatalogSearchService: %v", err)
	}
	dbc := dbctx.From(context.Background())
	got, err := svc.Search(dbc, "pintura   paredes", 5, &types.Filter{Year: 2024})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 || got[0].Item.Code != "P0101" || got[0].Score <= got[1].Score {
		t.Fatalf("unexpected ranking %+v", got)
	}
	if _, err := svc.Search(dbc, "Pintura paredes", 5, &types.Filter{Year: 2024}); err != nil {
		t.Fatalf("Search again: %v", err)
	}
	if emb.calls != 1 {
		t.Fatalf("repeated query should hit the cache, embedder calls=%d", emb.calls)
	}
}
