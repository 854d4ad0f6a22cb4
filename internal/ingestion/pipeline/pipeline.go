package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	catalogrepo "github.com/yungbote/pricebook-backend/internal/data/repos/catalog"
	jobsrepo "github.com/yungbote/pricebook-backend/internal/data/repos/jobs"
	catalog "github.com/yungbote/pricebook-backend/internal/domain/catalog"
	"github.com/yungbote/pricebook-backend/internal/domain/events"
	types "github.com/yungbote/pricebook-backend/internal/domain/jobs"
	"github.com/yungbote/pricebook-backend/internal/ingestion/extractor"
	"github.com/yungbote/pricebook-backend/internal/ingestion/source"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
	"github.com/yungbote/pricebook-backend/internal/realtime"
)

var tracer = otel.Tracer("pricebook/ingestion")

type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// YearLocker serializes the delete-and-reinsert of one catalog year.
type YearLocker interface {
	LockYear(ctx context.Context, year int) (unlock func(), err error)
}

type Result struct {
	TotalItems int
}

type Pipeline struct {
	log       *logger.Logger
	cfg       Config
	store     catalogrepo.Store
	jobs      jobsrepo.IngestionJobRepo
	embedder  Embedder
	bus       *realtime.EventBus
	locker    YearLocker
	segmenter extractor.Segmenter
	detect    func([]byte) (source.TokenSource, error)
	sleep     func(ctx context.Context, d time.Duration) error
}

type Option func(*Pipeline)

func WithSegmenter(s extractor.Segmenter) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.segmenter = s
		}
	}
}

func WithLocker(l YearLocker) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.locker = l
		}
	}
}

func WithSourceDetector(detect func([]byte) (source.TokenSource, error)) Option {
	return func(p *Pipeline) {
		if detect != nil {
			p.detect = detect
		}
	}
}

func New(
	log *logger.Logger,
	cfg Config,
	store catalogrepo.Store,
	jobs jobsrepo.IngestionJobRepo,
	embedder Embedder,
	bus *realtime.EventBus,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		log:       log.With("service", "IngestionPipeline"),
		cfg:       cfg,
		store:     store,
		jobs:      jobs,
		embedder:  embedder,
		bus:       bus,
		locker:    NewLocalLocker(),
		segmenter: extractor.NewCodeGrammar(),
		detect:    source.Detect,
		sleep:     sleepCtx,
	}
	if p.cfg.BatchSize <= 0 {
		p.cfg.BatchSize = DefaultConfig().BatchSize
	}
	if p.cfg.MaxBatchRetries < 0 {
		p.cfg.MaxBatchRetries = 0
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run holds the mutable state of one job execution. Batch goroutines only
// touch the job under mu.
type run struct {
	p     *Pipeline
	ctx   context.Context
	mu    sync.Mutex
	job   *types.IngestionJob
	scope *realtime.Scope
}

// Run drives job through every stage and leaves it terminal. The returned
// error is the one recorded on the job.
func (p *Pipeline) Run(ctx context.Context, job *types.IngestionJob, document []byte) (Result, error) {
	ctx, span := tracer.Start(ctx, "ingestion.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", job.ID.String()),
		attribute.Int("year", job.Year),
	)

	r := &run{p: p, ctx: ctx, job: job}
	if p.bus != nil {
		r.scope = p.bus.Scope(JobScope(job.ID.String()))
	}

	total, err := r.execute(document)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.fail(err)
		return Result{}, err
	}
	r.complete(total)
	return Result{TotalItems: total}, nil
}

// JobScope is the event scope of an ingestion job.
func JobScope(jobID string) string { return "job:" + jobID }

func (r *run) execute(document []byte) (int, error) {
	p := r.p
	concurrency := p.cfg.concurrency(r.job.Concurrency)
	r.update(func(j *types.IngestionJob) {
		j.Concurrency = concurrency
		j.Status = types.StatusExtracting
		appendLog(j, types.LevelInfo, "extracting records for year %d", j.Year)
	})

	records, err := r.extract(document)
	if err != nil {
		return 0, err
	}

	r.update(func(j *types.IngestionJob) {
		j.Status = types.StatusEmbedding
		j.TotalItems = len(records)
		appendLog(j, types.LevelInfo, "embedding %d records in batches of %d (concurrency %d)", len(records), p.cfg.BatchSize, concurrency)
	})
	embedded, err := r.embed(records, concurrency)
	if err != nil {
		return 0, err
	}

	r.update(func(j *types.IngestionJob) {
		j.Status = types.StatusPersisting
		appendLog(j, types.LevelInfo, "replacing catalog year %d", j.Year)
	})
	return r.persist(embedded)
}

func (r *run) extract(document []byte) ([]*extractor.Record, error) {
	_, span := tracer.Start(r.ctx, "ingestion.extract")
	defer span.End()

	src, err := r.p.detect(document)
	if err != nil {
		return nil, fmt.Errorf("document cannot be read: %w", err)
	}
	tokens, err := src.Tokens(document)
	if err != nil {
		return nil, fmt.Errorf("document cannot be parsed: %w", err)
	}
	lines := extractor.GroupLines(tokens, src.GroupOptions())
	seg := r.p.segmenter.Segment(lines)
	span.SetAttributes(
		attribute.String("source", src.Kind()),
		attribute.Int("lines", len(lines)),
		attribute.Int("candidates", len(seg.Records)),
	)

	records := make([]*extractor.Record, 0, len(seg.Records))
	seen := make(map[string]int, len(seg.Records))
	r.update(func(j *types.IngestionJob) {
		for _, pe := range seg.Errors {
			j.SkippedItems++
			appendLog(j, types.LevelWarn, "skipped line: %s", pe.Error())
		}
		for _, raw := range seg.Records {
			rec, err := extractor.ParseRecord(raw)
			if err != nil {
				j.SkippedItems++
				appendLog(j, types.LevelWarn, "skipped record: %s", err.Error())
				continue
			}
			if rec.Flagged {
				j.FlaggedItems++
				appendLog(j, types.LevelWarn, "price of %s is ambiguous (%s); flagged for review", rec.Code, extractor.FormatPrice(rec.UnitPrice))
			}
			if i, dup := seen[rec.Code]; dup {
				appendLog(j, types.LevelWarn, "duplicate code %s; keeping the later record", rec.Code)
				records[i] = rec
				continue
			}
			seen[rec.Code] = len(records)
			records = append(records, rec)
		}
	})

	if len(records) == 0 {
		if len(lines) == 0 {
			return nil, errors.New("document contains no text")
		}
		return nil, errors.New("document contains no valid catalog records")
	}
	return records, nil
}

type embeddedBatch struct {
	index int
	items []*catalog.CatalogItem
}

func (r *run) embed(records []*extractor.Record, concurrency int) ([]*embeddedBatch, error) {
	ctx, span := tracer.Start(r.ctx, "ingestion.embed")
	defer span.End()

	size := r.p.cfg.BatchSize
	var batches [][]*extractor.Record
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, records[start:end])
	}
	span.SetAttributes(attribute.Int("batches", len(batches)))

	slots := make([]*embeddedBatch, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			items, attempts, err := r.embedBatch(gctx, batch)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.update(func(j *types.IngestionJob) {
					j.DroppedItems += len(batch)
					appendLog(j, types.LevelError, "batch %d dropped after %d attempts: %v", i+1, attempts, err)
				})
				return nil
			}
			slots[i] = &embeddedBatch{index: i, items: items}
			r.update(func(j *types.IngestionJob) {
				appendLog(j, types.LevelInfo, "batch %d embedded (%d records)", i+1, len(items))
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("embedding interrupted: %w", err)
	}

	out := make([]*embeddedBatch, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("all %d embedding batches failed", len(batches))
	}
	return out, nil
}

func (r *run) embedBatch(ctx context.Context, batch []*extractor.Record) ([]*catalog.CatalogItem, int, error) {
	texts := make([]string, 0, len(batch))
	for _, rec := range batch {
		texts = append(texts, EmbeddingText(rec))
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= r.p.cfg.MaxBatchRetries; attempt++ {
		if attempt > 0 {
			if err := r.p.sleep(ctx, r.p.cfg.RetryDelay*time.Duration(attempt)); err != nil {
				return nil, attempts, err
			}
		}
		attempts++
		vecs, err := r.p.embedder.Embed(ctx, texts)
		if err == nil {
			err = r.checkVectors(vecs, len(batch))
		}
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, attempts, ctx.Err()
			}
			continue
		}

		items := make([]*catalog.CatalogItem, 0, len(batch))
		for k, rec := range batch {
			items = append(items, &catalog.CatalogItem{
				Code:         rec.Code,
				Year:         r.job.Year,
				Description:  rec.Description,
				Unit:         rec.Unit,
				UnitPrice:    rec.UnitPrice,
				PriceFlagged: rec.Flagged,
				Embedding:    vecs[k],
				SourceJobID:  r.job.ID,
			})
		}
		return items, attempts, nil
	}
	return nil, attempts, lastErr
}

func (r *run) checkVectors(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("embedding count mismatch (got %d want %d)", len(vecs), want)
	}
	dim := r.p.cfg.EmbedDim
	if dim <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return nil
}

// EmbeddingText is the text a catalog row is embedded from. Search queries
// are embedded as plain descriptions, so the description leads.
func EmbeddingText(rec *extractor.Record) string {
	return rec.Description + " (" + rec.Unit + ")"
}

func (r *run) persist(batches []*embeddedBatch) (int, error) {
	ctx, span := tracer.Start(r.ctx, "ingestion.persist")
	defer span.End()

	year := r.job.Year
	unlock, err := r.p.locker.LockYear(ctx, year)
	if err != nil {
		return 0, fmt.Errorf("lock catalog year %d: %w", year, err)
	}
	defer unlock()

	dbc := dbctx.From(ctx)
	removed, err := r.p.store.DeleteByYear(dbc, year)
	if err != nil {
		return 0, fmt.Errorf("delete catalog year %d: %w", year, err)
	}
	r.update(func(j *types.IngestionJob) {
		appendLog(j, types.LevelInfo, "removed %d existing items for year %d", removed, year)
	})

	persisted := 0
	for _, b := range batches {
		attempts, err := r.persistBatch(dbc, b)
		if err != nil {
			if ctx.Err() != nil {
				return persisted, fmt.Errorf("persisting interrupted: %w", ctx.Err())
			}
			r.update(func(j *types.IngestionJob) {
				j.DroppedItems += len(b.items)
				appendLog(j, types.LevelError, "batch %d not persisted after %d attempts: %v", b.index+1, attempts, err)
			})
			continue
		}
		persisted += len(b.items)
		r.update(func(j *types.IngestionJob) {
			j.ProcessedItems = persisted
			appendLog(j, types.LevelInfo, "batch %d persisted (%d items)", b.index+1, len(b.items))
		})
	}
	span.SetAttributes(attribute.Int("persisted", persisted))
	if persisted == 0 {
		return 0, fmt.Errorf("no batch could be persisted for year %d", year)
	}
	return persisted, nil
}

// persistBatch writes one batch with the same retry bound as embedding.
func (r *run) persistBatch(dbc dbctx.Context, b *embeddedBatch) (int, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= r.p.cfg.MaxBatchRetries; attempt++ {
		if attempt > 0 {
			if err := r.p.sleep(dbc.Ctx, r.p.cfg.RetryDelay*time.Duration(attempt)); err != nil {
				return attempts, err
			}
		}
		attempts++
		if lastErr = r.p.store.UpsertMany(dbc, b.items); lastErr == nil {
			return attempts, nil
		}
		if dbc.Ctx.Err() != nil {
			return attempts, dbc.Ctx.Err()
		}
	}
	return attempts, lastErr
}

func (r *run) complete(total int) {
	now := time.Now().UTC()
	r.update(func(j *types.IngestionJob) {
		j.Status = types.StatusCompleted
		j.TotalItems = total
		j.FinishedAt = &now
		appendLog(j, types.LevelInfo, "completed: %d items persisted, %d skipped, %d dropped", total, j.SkippedItems, j.DroppedItems)
	})
	r.emit(events.JobCompleted)
	r.p.log.Info("Ingestion job completed", "job_id", r.job.ID, "year", r.job.Year, "total_items", total)
}

func (r *run) fail(cause error) {
	now := time.Now().UTC()
	r.update(func(j *types.IngestionJob) {
		j.Status = types.StatusFailed
		j.Error = cause.Error()
		j.FinishedAt = &now
		appendLog(j, types.LevelError, "failed: %s", cause.Error())
	})
	r.emit(events.JobFailed)
	r.p.log.Warn("Ingestion job failed", "job_id", r.job.ID, "year", r.job.Year, "error", cause)
}

// update mutates the job under lock, saves it and reports progress.
func (r *run) update(fn func(j *types.IngestionJob)) {
	r.mu.Lock()
	fn(r.job)
	snapshot := r.job.Clone()
	err := r.p.jobs.Save(dbctx.From(context.WithoutCancel(r.ctx)), snapshot)
	r.mu.Unlock()
	if err != nil {
		r.p.log.Warn("Failed to save ingestion job", "job_id", snapshot.ID, "error", err)
	}
	if !types.IsTerminal(snapshot.Status) {
		r.emitSnapshot(events.JobProgress, snapshot)
	}
}

func appendLog(j *types.IngestionJob, level, format string, args ...any) {
	j.Logs = append(j.Logs, types.JobLog{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
	})
}

func (r *run) emit(typ events.Type) {
	r.mu.Lock()
	snapshot := r.job.Clone()
	r.mu.Unlock()
	r.emitSnapshot(typ, snapshot)
}

func (r *run) emitSnapshot(typ events.Type, j *types.IngestionJob) {
	if r.scope == nil {
		return
	}
	r.scope.Emit(context.WithoutCancel(r.ctx), typ, map[string]any{
		"job_id":          j.ID,
		"status":          j.Status,
		"total_items":     j.TotalItems,
		"processed_items": j.ProcessedItems,
		"skipped_items":   j.SkippedItems,
		"dropped_items":   j.DroppedItems,
		"flagged_items":   j.FlaggedItems,
		"error":           j.Error,
	})
}
