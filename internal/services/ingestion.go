package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"

	jobsrepo "github.com/yungbote/pricebook-backend/internal/data/repos/jobs"
	types "github.com/yungbote/pricebook-backend/internal/domain/jobs"
	"github.com/yungbote/pricebook-backend/internal/ingestion/pipeline"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/pricebook-backend/internal/pkg/errors"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

const (
	minCatalogYear = 1900
	maxCatalogYear = 2200
	maxDocBytes    = 256 << 20
)

type IngestionRequest struct {
	Document    []byte
	Year        int
	Concurrency int
}

type IngestionService interface {
	// Ingest records a queued job and runs it in the background.
	Ingest(dbc dbctx.Context, req IngestionRequest) (*types.IngestionJob, error)
	// GetJobStatus returns (nil, nil) for unknown ids.
	GetJobStatus(dbc dbctx.Context, id uuid.UUID) (*types.IngestionJob, error)
	FailInterrupted(dbc dbctx.Context) (int64, error)
	// Wait blocks until every background job has finished.
	Wait()
	Shutdown()
}

type ingestionService struct {
	log      *logger.Logger
	jobs     jobsrepo.IngestionJobRepo
	pipeline *pipeline.Pipeline

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestionService(baseLog *logger.Logger, jobs jobsrepo.IngestionJobRepo, p *pipeline.Pipeline) IngestionService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ingestionService{
		log:      baseLog.With("service", "IngestionService"),
		jobs:     jobs,
		pipeline: p,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *ingestionService) Ingest(dbc dbctx.Context, req IngestionRequest) (*types.IngestionJob, error) {
	if len(req.Document) == 0 {
		return nil, fmt.Errorf("%w: document is empty", pkgerrors.ErrInvalidArgument)
	}
	if len(req.Document) > maxDocBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", pkgerrors.ErrInvalidArgument, maxDocBytes)
	}
	if req.Year < minCatalogYear || req.Year > maxCatalogYear {
		return nil, fmt.Errorf("%w: year %d out of range", pkgerrors.ErrInvalidArgument, req.Year)
	}
	if req.Concurrency < 0 {
		return nil, fmt.Errorf("%w: concurrency must not be negative", pkgerrors.ErrInvalidArgument)
	}

	sum := sha256.Sum256(req.Document)
	job := &types.IngestionJob{
		Status:         types.StatusQueued,
		Year:           req.Year,
		Concurrency:    req.Concurrency,
		DocumentSHA256: hex.EncodeToString(sum[:]),
	}
	if err := s.jobs.Create(dbc, job); err != nil {
		return nil, fmt.Errorf("create ingestion job: %w", err)
	}
	s.log.Info("Ingestion job queued", "job_id", job.ID, "year", job.Year, "bytes", len(req.Document))

	runJob := job.Clone()
	doc := req.Document
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("Ingestion job panicked", "job_id", runJob.ID, "panic", r)
			}
		}()
		_, _ = s.pipeline.Run(s.ctx, runJob, doc)
	}()
	return job, nil
}

func (s *ingestionService) GetJobStatus(dbc dbctx.Context, id uuid.UUID) (*types.IngestionJob, error) {
	return s.jobs.Get(dbc, id)
}

func (s *ingestionService) FailInterrupted(dbc dbctx.Context) (int64, error) {
	return s.jobs.FailStale(dbc, "interrupted: the server restarted while the job was running")
}

func (s *ingestionService) Wait() { s.wg.Wait() }

// Shutdown cancels running jobs and waits for them to record their failure.
func (s *ingestionService) Shutdown() {
	s.cancel()
	s.wg.Wait()
}
