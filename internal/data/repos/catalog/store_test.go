package catalog

import (
	"context"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yungbote/pricebook-backend/internal/data/repos/testutil"
	types "github.com/yungbote/pricebook-backend/internal/domain/catalog"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/platform/qdrant"
)

func item(code string, year int, vec ...float32) *types.CatalogItem {
	return &types.CatalogItem{
		Code:        code,
		Year:        year,
		Description: "desc " + code,
		Unit:        "m2",
		UnitPrice:   decimal.RequireFromString("10.50"),
		Embedding:   vec,
	}
}

func storesUnderTest(t *testing.T) map[string]Store {
	log := testutil.Logger(t)
	indexedDB := testutil.DB(t)
	return map[string]Store{
		"memory":  NewMemoryStore(),
		"gorm":    NewGormStore(testutil.DB(t), log, time.Minute),
		"indexed": NewIndexedStore(NewGormStore(indexedDB, log, time.Minute), indexedDB, newFakeIndex(), log),
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			dbc := dbctx.From(context.Background())
			items := []*types.CatalogItem{
				item("A001", 2024, 1, 0, 0),
				item("A002", 2024, 0, 1, 0),
				item("A003", 2024, 0.9, 0.1, 0),
				item("A001", 2023, 1, 0, 0),
			}
			if err := s.UpsertMany(dbc, items); err != nil {
				t.Fatalf("UpsertMany: %v", err)
			}

			got, err := s.FindByCode(dbc, "A002", 2024)
			if err != nil || got == nil {
				t.Fatalf("FindByCode: %v %v", got, err)
			}
			if !got.UnitPrice.Equal(decimal.RequireFromString("10.5")) || got.Unit != "m2" {
				t.Fatalf("unexpected row %+v", got)
			}
			missing, err := s.FindByCode(dbc, "ZZ999", 2024)
			if err != nil || missing != nil {
				t.Fatalf("absent code should be (nil, nil), got %v %v", missing, err)
			}

			// Every stored vector is its own nearest neighbour.
			for _, it := range items[:3] {
				matches, err := s.NearestNeighbors(dbc, it.Embedding, 1, &types.Filter{Year: 2024})
				if err != nil {
					t.Fatalf("NearestNeighbors: %v", err)
				}
				if len(matches) != 1 || matches[0].Item.Code != it.Code {
					t.Fatalf("reflexivity failed for %s: %+v", it.Code, matches)
				}
				if math.Abs(matches[0].Score-1) > 1e-6 {
					t.Fatalf("self score should be ~1, got %v", matches[0].Score)
				}
			}

			// Year filter isolates.
			matches, err := s.NearestNeighbors(dbc, []float32{1, 0, 0}, 10, &types.Filter{Year: 2023})
			if err != nil {
				t.Fatalf("NearestNeighbors 2023: %v", err)
			}
			if len(matches) != 1 || matches[0].Item.Year != 2023 {
				t.Fatalf("year filter leaked: %+v", matches)
			}

			n, err := s.DeleteByYear(dbc, 2024)
			if err != nil || n != 3 {
				t.Fatalf("DeleteByYear: n=%d err=%v", n, err)
			}
			if c, _ := s.CountByYear(dbc, 2024); c != 0 {
				t.Fatalf("year not empty after delete: %d", c)
			}
			if c, _ := s.CountByYear(dbc, 2023); c != 1 {
				t.Fatalf("other year touched: %d", c)
			}
			matches, err = s.NearestNeighbors(dbc, []float32{1, 0, 0}, 5, &types.Filter{Year: 2024})
			if err != nil || len(matches) != 0 {
				t.Fatalf("deleted year still searchable: %+v %v", matches, err)
			}
		})
	}
}

func TestNearestNeighborsTieBreaksByCode(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			dbc := dbctx.From(context.Background())
			if err := s.UpsertMany(dbc, []*types.CatalogItem{
				item("C100", 2025, 1, 0),
				item("B100", 2025, 1, 0),
				item("D100", 2025, 0, 1),
			}); err != nil {
				t.Fatalf("UpsertMany: %v", err)
			}
			matches, err := s.NearestNeighbors(dbc, []float32{1, 0}, 2, &types.Filter{Year: 2025})
			if err != nil {
				t.Fatalf("NearestNeighbors: %v", err)
			}
			if len(matches) != 2 || matches[0].Item.Code != "B100" || matches[1].Item.Code != "C100" {
				t.Fatalf("tie not broken by lower code: %+v", matches)
			}
		})
	}
}

func TestUpsertReplacesSameCode(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			dbc := dbctx.From(context.Background())
			first := item("E001", 2022, 1, 0)
			second := item("E001", 2022, 0, 1)
			second.UnitPrice = decimal.RequireFromString("99.99")
			if err := s.UpsertMany(dbc, []*types.CatalogItem{first}); err != nil {
				t.Fatalf("UpsertMany first: %v", err)
			}
			if err := s.UpsertMany(dbc, []*types.CatalogItem{second}); err != nil {
				t.Fatalf("UpsertMany second: %v", err)
			}
			got, _ := s.FindByCode(dbc, "E001", 2022)
			if got == nil || !got.UnitPrice.Equal(decimal.RequireFromString("99.99")) {
				t.Fatalf("upsert did not replace: %+v", got)
			}
			if c, _ := s.CountByYear(dbc, 2022); c != 1 {
				t.Fatalf("duplicate rows for one code: %d", c)
			}
		})
	}
}

func TestNearestNeighborsRejectsEmptyVector(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.NearestNeighbors(dbctx.From(context.Background()), nil, 5, nil); err == nil {
		t.Fatalf("expected error for empty vector")
	}
}

func TestSnapshotLoadedBeforeWriteIsNotCached(t *testing.T) {
	s := NewGormStore(testutil.DB(t), testutil.Logger(t), time.Hour).(*gormStore)
	dbc := dbctx.From(context.Background())
	if err := s.UpsertMany(dbc, []*types.CatalogItem{item("F001", 2024, 1, 0), item("F002", 2024, 0, 1)}); err != nil {
		t.Fatalf("UpsertMany: %v", err)
	}

	deleted := false
	s.loaded = func(year int) {
		if deleted {
			return
		}
		deleted = true
		if _, err := s.DeleteByYear(dbc, year); err != nil {
			t.Fatalf("DeleteByYear: %v", err)
		}
	}
	// This search raced the delete and may see the old rows.
	if _, err := s.NearestNeighbors(dbc, []float32{1, 0}, 5, &types.Filter{Year: 2024}); err != nil {
		t.Fatalf("NearestNeighbors: %v", err)
	}

	matches, err := s.NearestNeighbors(dbc, []float32{1, 0}, 5, &types.Filter{Year: 2024})
	if err != nil {
		t.Fatalf("NearestNeighbors after delete: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("stale snapshot served after delete: %+v", matches)
	}
}

// fakeIndex is an in-memory qdrant.VectorStore.
type fakeIndex struct {
	mu   sync.Mutex
	data map[string]map[string][]float32
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{data: map[string]map[string][]float32{}}
}

func (f *fakeIndex) Upsert(_ context.Context, ns string, vectors []qdrant.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[ns] == nil {
		f.data[ns] = map[string][]float32{}
	}
	for _, v := range vectors {
		f.data[ns][v.ID] = v.Values
	}
	return nil
}

func (f *fakeIndex) QueryMatches(_ context.Context, ns string, q []float32, topK int) ([]qdrant.VectorMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []qdrant.VectorMatch
	for id, v := range f.data[ns] {
		items := rank([]*types.CatalogItem{{Code: id, Embedding: v}}, q, 1)
		out = append(out, qdrant.VectorMatch{ID: id, Score: items[0].Score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeIndex) DeleteNamespace(_ context.Context, ns string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, ns)
	return nil
}
