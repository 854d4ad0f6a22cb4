package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	types "github.com/yungbote/pricebook-backend/internal/domain/catalog"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/pricebook-backend/internal/pkg/errors"
	"github.com/yungbote/pricebook-backend/internal/pkg/vecmath"
)

// Store is the year-scoped catalog. Absent rows are reported as (nil, nil).
type Store interface {
	UpsertMany(dbc dbctx.Context, items []*types.CatalogItem) error
	FindByCode(dbc dbctx.Context, code string, year int) (*types.CatalogItem, error)
	DeleteByYear(dbc dbctx.Context, year int) (int64, error)
	NearestNeighbors(dbc dbctx.Context, vector []float32, k int, filter *types.Filter) ([]types.Match, error)
	CountByYear(dbc dbctx.Context, year int) (int64, error)
}

const DefaultK = 5

var ErrEmptyVector = fmt.Errorf("%w: query vector is empty", pkgerrors.ErrInvalidArgument)

// rank scores every item against q and keeps the best k.
func rank(items []*types.CatalogItem, q []float32, k int) []types.Match {
	scored := make([]vecmath.Scored, 0, len(items))
	for i, it := range items {
		if len(it.Embedding) == 0 {
			continue
		}
		scored = append(scored, vecmath.Scored{
			Key:   it.Code,
			Index: i,
			Score: vecmath.Cosine(q, it.Embedding),
		})
	}
	top := vecmath.TopK(scored, k)
	out := make([]types.Match, 0, len(top))
	for _, s := range top {
		out = append(out, types.Match{Item: items[s.Index], Score: s.Score})
	}
	return out
}

func normalizeK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	return k
}

func yearOf(filter *types.Filter) int {
	if filter == nil {
		return 0
	}
	return filter.Year
}

// dedupeByCode keeps the last item for each (code, year).
func dedupeByCode(items []*types.CatalogItem) []*types.CatalogItem {
	idx := make(map[string]int, len(items))
	out := make([]*types.CatalogItem, 0, len(items))
	for _, it := range items {
		if it == nil || strings.TrimSpace(it.Code) == "" {
			continue
		}
		key := fmt.Sprintf("%d|%s", it.Year, it.Code)
		if i, ok := idx[key]; ok {
			out[i] = it
			continue
		}
		idx[key] = len(out)
		out = append(out, it)
	}
	return out
}

// classify maps driver errors onto package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "21000":
			return fmt.Errorf("%w: %s", pkgerrors.ErrConflict, pgErr.Message)
		}
	}
	return err
}
