package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/pricebook-backend/internal/domain/jobs"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

// IngestionJobRepo persists ingestion jobs. Get returns (nil, nil) for unknown ids.
type IngestionJobRepo interface {
	Create(dbc dbctx.Context, job *types.IngestionJob) error
	Get(dbc dbctx.Context, id uuid.UUID) (*types.IngestionJob, error)
	Save(dbc dbctx.Context, job *types.IngestionJob) error
	ListRecent(dbc dbctx.Context, limit int) ([]*types.IngestionJob, error)
	FailStale(dbc dbctx.Context, reason string) (int64, error)
}

var activeStatuses = []string{
	types.StatusQueued,
	types.StatusExtracting,
	types.StatusEmbedding,
	types.StatusPersisting,
}

type ingestionJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIngestionJobRepo(db *gorm.DB, baseLog *logger.Logger) IngestionJobRepo {
	return &ingestionJobRepo{
		db:  db,
		log: baseLog.With("repo", "IngestionJobRepo"),
	}
}

func (r *ingestionJobRepo) Create(dbc dbctx.Context, job *types.IngestionJob) error {
	if job == nil {
		return nil
	}
	return dbc.DB(r.db).Create(job).Error
}

func (r *ingestionJobRepo) Get(dbc dbctx.Context, id uuid.UUID) (*types.IngestionJob, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.IngestionJob
	err := dbc.DB(r.db).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *ingestionJobRepo) Save(dbc dbctx.Context, job *types.IngestionJob) error {
	if job == nil || job.ID == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).Save(job).Error
}

func (r *ingestionJobRepo) ListRecent(dbc dbctx.Context, limit int) ([]*types.IngestionJob, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []*types.IngestionJob
	err := dbc.DB(r.db).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// FailStale marks every non-terminal job failed. Used at boot, when no
// pipeline from a previous process can still be running.
func (r *ingestionJobRepo) FailStale(dbc dbctx.Context, reason string) (int64, error) {
	now := time.Now().UTC()
	res := dbc.DB(r.db).
		Model(&types.IngestionJob{}).
		Where("status IN ?", activeStatuses).
		Updates(map[string]interface{}{
			"status":      types.StatusFailed,
			"error":       reason,
			"finished_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Warn("Marked stale ingestion jobs as failed", "count", res.RowsAffected, "reason", reason)
	}
	return res.RowsAffected, nil
}

type memoryIngestionJobRepo struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*types.IngestionJob
}

// NewMemoryIngestionJobRepo keeps jobs in process memory.
func NewMemoryIngestionJobRepo() IngestionJobRepo {
	return &memoryIngestionJobRepo{jobs: map[uuid.UUID]*types.IngestionJob{}}
}

func (r *memoryIngestionJobRepo) Create(_ dbctx.Context, job *types.IngestionJob) error {
	if job == nil {
		return nil
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	r.mu.Lock()
	r.jobs[job.ID] = job.Clone()
	r.mu.Unlock()
	return nil
}

func (r *memoryIngestionJobRepo) Get(_ dbctx.Context, id uuid.UUID) (*types.IngestionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id].Clone(), nil
}

func (r *memoryIngestionJobRepo) Save(_ dbctx.Context, job *types.IngestionJob) error {
	if job == nil || job.ID == uuid.Nil {
		return nil
	}
	job.UpdatedAt = time.Now().UTC()
	r.mu.Lock()
	r.jobs[job.ID] = job.Clone()
	r.mu.Unlock()
	return nil
}

func (r *memoryIngestionJobRepo) ListRecent(_ dbctx.Context, limit int) ([]*types.IngestionJob, error) {
	if limit <= 0 {
		limit = 20
	}
	r.mu.RLock()
	out := make([]*types.IngestionJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Clone())
	}
	r.mu.RUnlock()
	sortByCreatedDesc(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryIngestionJobRepo) FailStale(_ dbctx.Context, reason string) (int64, error) {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, j := range r.jobs {
		if types.IsTerminal(j.Status) {
			continue
		}
		j.Status = types.StatusFailed
		j.Error = reason
		j.FinishedAt = &now
		j.UpdatedAt = now
		n++
	}
	return n, nil
}
