package events

import (
	"sort"
	"sync"

	"gorm.io/gorm"

	types "github.com/yungbote/pricebook-backend/internal/domain/events"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

// GenerationEventRepo is the durable event log used for SSE replay.
type GenerationEventRepo interface {
	Append(dbc dbctx.Context, ev *types.GenerationEvent) error
	ListByScope(dbc dbctx.Context, scopeID string, afterSeq int64, limit int) ([]*types.GenerationEvent, error)
	LastSeq(dbc dbctx.Context, scopeID string) (int64, error)
}

const defaultListLimit = 500

type generationEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationEventRepo(db *gorm.DB, baseLog *logger.Logger) GenerationEventRepo {
	return &generationEventRepo{
		db:  db,
		log: baseLog.With("repo", "GenerationEventRepo"),
	}
}

func (r *generationEventRepo) Append(dbc dbctx.Context, ev *types.GenerationEvent) error {
	if ev == nil {
		return nil
	}
	return dbc.DB(r.db).Create(ev).Error
}

func (r *generationEventRepo) ListByScope(dbc dbctx.Context, scopeID string, afterSeq int64, limit int) ([]*types.GenerationEvent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []*types.GenerationEvent
	err := dbc.DB(r.db).
		Where("scope_id = ? AND seq > ?", scopeID, afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *generationEventRepo) LastSeq(dbc dbctx.Context, scopeID string) (int64, error) {
	var seq *int64
	err := dbc.DB(r.db).
		Model(&types.GenerationEvent{}).
		Where("scope_id = ?", scopeID).
		Select("MAX(seq)").
		Scan(&seq).Error
	if err != nil || seq == nil {
		return 0, err
	}
	return *seq, nil
}

type memoryGenerationEventRepo struct {
	mu     sync.RWMutex
	scopes map[string][]*types.GenerationEvent
}

func NewMemoryGenerationEventRepo() GenerationEventRepo {
	return &memoryGenerationEventRepo{scopes: map[string][]*types.GenerationEvent{}}
}

func (r *memoryGenerationEventRepo) Append(_ dbctx.Context, ev *types.GenerationEvent) error {
	if ev == nil {
		return nil
	}
	cp := *ev
	r.mu.Lock()
	r.scopes[ev.ScopeID] = append(r.scopes[ev.ScopeID], &cp)
	r.mu.Unlock()
	return nil
}

func (r *memoryGenerationEventRepo) ListByScope(_ dbctx.Context, scopeID string, afterSeq int64, limit int) ([]*types.GenerationEvent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	r.mu.RLock()
	all := r.scopes[scopeID]
	out := make([]*types.GenerationEvent, 0, len(all))
	for _, ev := range all {
		if ev.Seq > afterSeq {
			cp := *ev
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryGenerationEventRepo) LastSeq(_ dbctx.Context, scopeID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var max int64
	for _, ev := range r.scopes[scopeID] {
		if ev.Seq > max {
			max = ev.Seq
		}
	}
	return max, nil
}
