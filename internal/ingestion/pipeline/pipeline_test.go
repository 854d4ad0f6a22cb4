package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	catalogrepo "github.com/yungbote/pricebook-backend/internal/data/repos/catalog"
	jobsrepo "github.com/yungbote/pricebook-backend/internal/data/repos/jobs"
	catalog "github.com/yungbote/pricebook-backend/internal/domain/catalog"
	"github.com/yungbote/pricebook-backend/internal/domain/events"
	types "github.com/yungbote/pricebook-backend/internal/domain/jobs"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
	"github.com/yungbote/pricebook-backend/internal/realtime"
)

const threeRecordDoc = "BASE DE PRECIOS 2024\n" +
	"B0001.0030 h Oficial 1a construcción 28,59\n" +
	"B0001.0070 u Ladrillo macizo 23,01\n" +
	"B00X1 línea rota 1,00\n"

type fakeEmbedder struct {
	mu    sync.Mutex
	calls map[string]int
	// failFor returns an error for a text on a given attempt (1-based).
	failFor func(text string, attempt int) error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{calls: map[string]int{}}
}

func (f *fakeEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]float32, 0, len(inputs))
	for _, in := range inputs {
		f.calls[in]++
	}
	for _, in := range inputs {
		if f.failFor != nil {
			if err := f.failFor(in, f.calls[in]); err != nil {
				return nil, err
			}
		}
		out = append(out, []float32{float32(len(in)), 1, 0, 0})
	}
	return out, nil
}

type harness struct {
	pipe  *Pipeline
	store catalogrepo.Store
	jobs  jobsrepo.IngestionJobRepo
	emb   *fakeEmbedder
	sink  *realtime.MemorySink
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store: catalogrepo.NewMemoryStore(),
		jobs:  jobsrepo.NewMemoryIngestionJobRepo(),
		emb:   newFakeEmbedder(),
		sink:  realtime.NewMemorySink(),
	}
	bus := realtime.NewEventBus(logger.Nop(), h.sink)
	h.pipe = New(logger.Nop(), cfg, h.store, h.jobs, h.emb, bus)
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 0
	cfg.EmbedDim = 4
	return cfg
}

func (h *harness) ingest(t *testing.T, doc string, year int) (*types.IngestionJob, Result, error) {
	t.Helper()
	dbc := dbctx.From(context.Background())
	job := &types.IngestionJob{Status: types.StatusQueued, Year: year, Concurrency: 2}
	if err := h.jobs.Create(dbc, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	res, err := h.pipe.Run(context.Background(), job, []byte(doc))
	saved, getErr := h.jobs.Get(dbc, job.ID)
	if getErr != nil || saved == nil {
		t.Fatalf("reload job: %v %v", saved, getErr)
	}
	return saved, res, err
}

func TestThreeRecordDocument(t *testing.T) {
	h := newHarness(t, testConfig())
	job, res, err := h.ingest(t, threeRecordDoc, 2024)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TotalItems != 2 || job.TotalItems != 2 || job.ProcessedItems != 2 {
		t.Fatalf("want 2 items, got result=%d job=%+v", res.TotalItems, job)
	}
	if job.Status != types.StatusCompleted || job.FinishedAt == nil {
		t.Fatalf("job not completed: %+v", job)
	}
	skipped := 0
	for _, l := range job.Logs {
		if l.Level == types.LevelWarn && strings.HasPrefix(l.Message, "skipped") {
			skipped++
		}
	}
	if skipped != 1 || job.SkippedItems != 1 {
		t.Fatalf("want one skipped log entry, got %d (counter %d): %+v", skipped, job.SkippedItems, job.Logs)
	}

	item, err := h.store.FindByCode(dbctx.From(context.Background()), "B0001.0030", 2024)
	if err != nil || item == nil {
		t.Fatalf("FindByCode: %v %v", item, err)
	}
	if item.Unit != "h" || !item.UnitPrice.Equal(decimal.RequireFromString("28.59")) || item.SourceJobID != job.ID {
		t.Fatalf("unexpected item %+v", item)
	}

	seen := h.sink.Types(JobScope(job.ID.String()))
	if len(seen) == 0 || seen[len(seen)-1] != events.JobCompleted {
		t.Fatalf("want job_completed last, got %v", seen)
	}
}

func TestReingestIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	first, _, err := h.ingest(t, threeRecordDoc, 2024)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, _, err := h.ingest(t, threeRecordDoc, 2024)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.TotalItems != second.TotalItems {
		t.Fatalf("totals differ: %d vs %d", first.TotalItems, second.TotalItems)
	}
	if n, _ := h.store.CountByYear(dbctx.From(context.Background()), 2024); n != 2 {
		t.Fatalf("catalog has %d rows after re-ingest", n)
	}
}

func TestReingestReplacesYearOnly(t *testing.T) {
	h := newHarness(t, testConfig())
	if _, _, err := h.ingest(t, threeRecordDoc, 2023); err != nil {
		t.Fatalf("2023: %v", err)
	}
	if _, _, err := h.ingest(t, threeRecordDoc, 2024); err != nil {
		t.Fatalf("2024: %v", err)
	}
	if _, _, err := h.ingest(t, "E0001 m2 Solado cerámico 31,20\n", 2024); err != nil {
		t.Fatalf("2024 again: %v", err)
	}
	dbc := dbctx.From(context.Background())
	if n, _ := h.store.CountByYear(dbc, 2024); n != 1 {
		t.Fatalf("stale rows survived re-ingest: %d", n)
	}
	if n, _ := h.store.CountByYear(dbc, 2023); n != 2 {
		t.Fatalf("other year touched: %d", n)
	}
}

func TestUnreadableDocumentFailsJob(t *testing.T) {
	h := newHarness(t, testConfig())
	job, _, err := h.ingest(t, "\x00\x01\x02garbage", 2024)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if job.Status != types.StatusFailed || job.Error == "" {
		t.Fatalf("job not failed: %+v", job)
	}
	seen := h.sink.Types(JobScope(job.ID.String()))
	if len(seen) == 0 || seen[len(seen)-1] != events.JobFailed {
		t.Fatalf("want job_failed last, got %v", seen)
	}
}

func TestNoValidRecordsFailsJob(t *testing.T) {
	h := newHarness(t, testConfig())
	job, _, err := h.ingest(t, "just a title\nB01 nope\n", 2024)
	if err == nil || job.Status != types.StatusFailed {
		t.Fatalf("want failed job, got %+v err=%v", job, err)
	}
}

func TestTransientBatchFailureIsRetried(t *testing.T) {
	h := newHarness(t, testConfig())
	h.emb.failFor = func(_ string, attempt int) error {
		if attempt <= 2 {
			return errors.New("upstream 503")
		}
		return nil
	}
	job, _, err := h.ingest(t, threeRecordDoc, 2024)
	if err != nil || job.TotalItems != 2 || job.DroppedItems != 0 {
		t.Fatalf("retries should recover: %+v err=%v", job, err)
	}
}

func TestPersistentBatchFailureDropsBatch(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 1
	h := newHarness(t, cfg)
	h.emb.failFor = func(text string, _ int) error {
		if strings.Contains(text, "Ladrillo") {
			return errors.New("upstream 500")
		}
		return nil
	}
	job, _, err := h.ingest(t, threeRecordDoc, 2024)
	if err != nil {
		t.Fatalf("partial failure must not fail the job: %v", err)
	}
	if job.TotalItems != 1 || job.DroppedItems != 1 {
		t.Fatalf("want 1 persisted and 1 dropped, got %+v", job)
	}
	for text, n := range h.emb.calls {
		if strings.Contains(text, "Ladrillo") && n != 1+cfg.MaxBatchRetries {
			t.Fatalf("want %d attempts for failing batch, got %d", 1+cfg.MaxBatchRetries, n)
		}
	}
}

// flakyStore fails UpsertMany for batches containing failCode, failures times.
type flakyStore struct {
	catalogrepo.Store
	mu       sync.Mutex
	failCode string
	failures int
	calls    int
}

func (s *flakyStore) UpsertMany(dbc dbctx.Context, items []*catalog.CatalogItem) error {
	s.mu.Lock()
	for _, it := range items {
		if it.Code == s.failCode {
			s.calls++
			if s.failures != 0 {
				if s.failures > 0 {
					s.failures--
				}
				s.mu.Unlock()
				return errors.New("transient db error")
			}
		}
	}
	s.mu.Unlock()
	return s.Store.UpsertMany(dbc, items)
}

func TestTransientPersistFailureIsRetried(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 1
	h := newHarness(t, cfg)
	if _, _, err := h.ingest(t, threeRecordDoc, 2024); err != nil {
		t.Fatalf("first run: %v", err)
	}
	flaky := &flakyStore{Store: h.store, failCode: "B0001.0070", failures: 1}
	h.pipe.store = flaky

	job, _, err := h.ingest(t, threeRecordDoc, 2024)
	if err != nil || job.Status != types.StatusCompleted {
		t.Fatalf("transient persist error should be retried: %+v err=%v", job, err)
	}
	if n, _ := h.store.CountByYear(dbctx.From(context.Background()), 2024); n != 2 {
		t.Fatalf("year half replaced: %d rows", n)
	}
	if flaky.calls != 2 || job.DroppedItems != 0 {
		t.Fatalf("want 2 upsert attempts and no drops, got calls=%d job=%+v", flaky.calls, job)
	}
}

func TestPersistentPersistFailureDropsBatch(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 1
	h := newHarness(t, cfg)
	flaky := &flakyStore{Store: h.store, failCode: "B0001.0070", failures: -1}
	h.pipe.store = flaky

	job, _, err := h.ingest(t, threeRecordDoc, 2024)
	if err != nil || job.Status != types.StatusCompleted {
		t.Fatalf("one failing batch must not fail the job: %+v err=%v", job, err)
	}
	if job.TotalItems != 1 || job.DroppedItems != 1 {
		t.Fatalf("want 1 persisted and 1 dropped, got %+v", job)
	}
	if flaky.calls != 1+cfg.MaxBatchRetries {
		t.Fatalf("want %d upsert attempts, got %d", 1+cfg.MaxBatchRetries, flaky.calls)
	}
}

func TestWrongDimensionIsRejected(t *testing.T) {
	cfg := testConfig()
	cfg.EmbedDim = 8
	h := newHarness(t, cfg)
	job, _, err := h.ingest(t, threeRecordDoc, 2024)
	if err == nil || job.Status != types.StatusFailed {
		t.Fatalf("dimension mismatch should drop every batch and fail: %+v", job)
	}
}
