package catalog

import (
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/pricebook-backend/internal/domain/catalog"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

const upsertBatchSize = 200

type yearSnapshot struct {
	loadedAt time.Time
	items    []*types.CatalogItem
}

type gormStore struct {
	db  *gorm.DB
	log *logger.Logger
	ttl time.Duration

	mu        sync.RWMutex
	snapshots map[int]*yearSnapshot
	// generations counts invalidations per year, including 0 for all years.
	// A load started before an invalidation is not cached.
	generations map[int]uint64
	// loaded runs between the query and the cache store; tests use it.
	loaded func(year int)
}

// NewGormStore keeps rows in the database and ranks neighbours in process
// over a per-year snapshot. Writes through this store drop the snapshot for
// the year they touch; ttl bounds staleness from writers elsewhere.
func NewGormStore(db *gorm.DB, baseLog *logger.Logger, ttl time.Duration) Store {
	return &gormStore{
		db:        db,
		log:       baseLog.With("repo", "CatalogStore"),
		ttl:       ttl,
		snapshots:   map[int]*yearSnapshot{},
		generations: map[int]uint64{},
	}
}

func (r *gormStore) UpsertMany(dbc dbctx.Context, items []*types.CatalogItem) error {
	items = dedupeByCode(items)
	if len(items) == 0 {
		return nil
	}
	err := dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "code"}, {Name: "year"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"description", "unit", "unit_price", "price_flagged", "embedding", "source_job_id",
			}),
		}).
		CreateInBatches(items, upsertBatchSize).Error
	if err != nil {
		return classify(err)
	}
	years := map[int]struct{}{}
	for _, it := range items {
		years[it.Year] = struct{}{}
	}
	for y := range years {
		r.invalidate(y)
	}
	return nil
}

func (r *gormStore) FindByCode(dbc dbctx.Context, code string, year int) (*types.CatalogItem, error) {
	var item types.CatalogItem
	err := dbc.DB(r.db).
		Where("code = ? AND year = ?", code, year).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.Code == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *gormStore) DeleteByYear(dbc dbctx.Context, year int) (int64, error) {
	res := dbc.DB(r.db).Where("year = ?", year).Delete(&types.CatalogItem{})
	if res.Error != nil {
		return 0, res.Error
	}
	r.invalidate(year)
	r.log.Info("Catalog year deleted", "year", year, "rows", res.RowsAffected)
	return res.RowsAffected, nil
}

func (r *gormStore) CountByYear(dbc dbctx.Context, year int) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.CatalogItem{}).Where("year = ?", year).Count(&n).Error
	return n, err
}

func (r *gormStore) NearestNeighbors(dbc dbctx.Context, vector []float32, k int, filter *types.Filter) ([]types.Match, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	items, err := r.snapshot(dbc, yearOf(filter))
	if err != nil {
		return nil, err
	}
	return rank(items, vector, normalizeK(k)), nil
}

func (r *gormStore) snapshot(dbc dbctx.Context, year int) ([]*types.CatalogItem, error) {
	r.mu.RLock()
	snap, ok := r.snapshots[year]
	gen := r.generations[year]
	r.mu.RUnlock()
	if ok && (r.ttl <= 0 || time.Since(snap.loadedAt) < r.ttl) {
		return snap.items, nil
	}

	q := dbc.DB(r.db).Model(&types.CatalogItem{})
	if year != 0 {
		q = q.Where("year = ?", year)
	}
	var items []*types.CatalogItem
	if err := q.Order("code ASC").Find(&items).Error; err != nil {
		return nil, err
	}

	if r.loaded != nil {
		r.loaded(year)
	}

	// Snapshots are never cached inside a caller's transaction.
	if dbc.Tx == nil {
		r.mu.Lock()
		if r.generations[year] == gen {
			r.snapshots[year] = &yearSnapshot{loadedAt: time.Now(), items: items}
		}
		r.mu.Unlock()
	}
	return items, nil
}

// invalidate drops the snapshot for year and the all-years snapshot.
func (r *gormStore) invalidate(year int) {
	r.mu.Lock()
	delete(r.snapshots, year)
	delete(r.snapshots, 0)
	r.generations[year]++
	if year != 0 {
		r.generations[0]++
	}
	r.mu.Unlock()
}
