package resolver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	budget "github.com/yungbote/pricebook-backend/internal/domain/budget"
	catalog "github.com/yungbote/pricebook-backend/internal/domain/catalog"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
	"github.com/yungbote/pricebook-backend/internal/platform/websearch"
)

var tracer = otel.Tracer("pricebook/resolver")

type CatalogSearcher interface {
	Search(dbc dbctx.Context, query string, k int, filter *catalog.Filter) ([]catalog.Match, error)
}

type Completer interface {
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
}

// Task is one line of work to price. Year 0 searches every catalog year.
type Task struct {
	Description string
	Quantity    decimal.Decimal
	Unit        string
	Year        int
}

type Resolver struct {
	log       *logger.Logger
	cfg       Config
	catalog   CatalogSearcher
	estimator websearch.Searcher
	completer Completer
}

// New builds a resolver. Any collaborator may be nil; its branch is then skipped.
func New(baseLog *logger.Logger, cfg Config, catalog CatalogSearcher, estimator websearch.Searcher, completer Completer) *Resolver {
	return &Resolver{
		log:       baseLog.With("service", "Resolver"),
		cfg:       cfg,
		catalog:   catalog,
		estimator: estimator,
		completer: completer,
	}
}

func (r *Resolver) Config() Config { return r.cfg }

// nodeBudget caps how many sub-tasks one root task may spawn in total.
type nodeBudget struct{ remaining int }

func (b *nodeBudget) take(n int) int {
	if n > b.remaining {
		n = b.remaining
	}
	b.remaining -= n
	return n
}

// Resolve always returns a line item; failures degrade to an estimate or a placeholder.
func (r *Resolver) Resolve(ctx context.Context, task Task) budget.LineItem {
	task = normalizeTask(task)
	return r.resolve(ctx, task, 0, &nodeBudget{remaining: r.cfg.MaxNodes})
}

func normalizeTask(t Task) Task {
	t.Description = strings.Join(strings.Fields(t.Description), " ")
	t.Unit = strings.TrimSpace(t.Unit)
	if t.Unit == "" {
		t.Unit = "u"
	}
	if !t.Quantity.IsPositive() {
		t.Quantity = decimal.NewFromInt(1)
	}
	return t
}

func (r *Resolver) resolve(ctx context.Context, task Task, depth int, nodes *nodeBudget) budget.LineItem {
	ctx, span := tracer.Start(ctx, "resolver.resolve")
	defer span.End()
	span.SetAttributes(attribute.Int("depth", depth), attribute.String("description", task.Description))

	if task.Description == "" {
		span.SetAttributes(attribute.String("source", string(budget.SourcePlaceholder)))
		return placeholder(task)
	}

	rt := heuristicRoute(task.Description)
	if depth == 0 {
		rt = r.triage(ctx, task)
	}

	var weak *websearch.Estimate
	for _, st := range rt.stages() {
		switch st {
		case stageSearch:
			if item, ok := r.searchCatalog(ctx, task); ok {
				span.SetAttributes(attribute.String("source", string(budget.SourceCatalog)))
				return item
			}
		case stageEstimate:
			est := r.estimate(ctx, task)
			if est == nil {
				continue
			}
			if est.Confidence >= r.cfg.EstimateThreshold {
				span.SetAttributes(attribute.String("source", string(budget.SourceWebEstimate)))
				return estimateItem(task, est, false)
			}
			weak = est
		}
	}

	if depth < r.cfg.MaxDepth {
		if item, ok := r.decompose(ctx, task, depth, nodes); ok {
			span.SetAttributes(attribute.String("source", "assembly"))
			return item
		}
	}

	if weak != nil {
		r.log.Warn("Using low-confidence estimate", "description", task.Description, "confidence", weak.Confidence)
		span.SetAttributes(attribute.String("source", string(budget.SourceWebEstimate)), attribute.Bool("needs_review", true))
		return estimateItem(task, weak, true)
	}
	r.log.Warn("No price found; emitting placeholder", "description", task.Description, "depth", depth)
	span.SetAttributes(attribute.String("source", string(budget.SourcePlaceholder)))
	return placeholder(task)
}

func (r *Resolver) searchCatalog(ctx context.Context, task Task) (budget.LineItem, bool) {
	if r.catalog == nil {
		return budget.LineItem{}, false
	}
	ctx, span := tracer.Start(ctx, "resolver.catalog_search")
	defer span.End()

	var filter *catalog.Filter
	if task.Year != 0 {
		filter = &catalog.Filter{Year: task.Year}
	}
	k := r.cfg.SearchK
	if k < MinSearchK {
		k = MinSearchK
	}
	var matches []catalog.Match
	err := r.retry(ctx, "catalog_search", func(ctx context.Context) error {
		var err error
		matches, err = r.catalog.Search(dbctx.From(ctx), task.Description, k, filter)
		return err
	})
	if err != nil {
		r.log.Warn("Catalog search failed; falling through", "description", task.Description, "error", err)
		return budget.LineItem{}, false
	}
	span.SetAttributes(attribute.Int("candidates", len(matches)))
	for _, m := range matches {
		if m.Item == nil || m.Score <= r.cfg.MatchThreshold {
			break
		}
		if Overlap(task.Description, m.Item.Description) < r.cfg.MinKeywordOverlap {
			continue
		}
		span.SetAttributes(attribute.String("code", m.Item.Code), attribute.Float64("score", m.Score))
		return budget.NewMaterial(budget.MaterialMatch{
			Code:            m.Item.Code,
			Description:     m.Item.Description,
			Unit:            m.Item.Unit,
			UnitPrice:       m.Item.UnitPrice,
			Quantity:        task.Quantity,
			MatchConfidence: m.Score,
			Source:          budget.SourceCatalog,
		}), true
	}
	return budget.LineItem{}, false
}

func (r *Resolver) estimate(ctx context.Context, task Task) *websearch.Estimate {
	if r.estimator == nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "resolver.estimate")
	defer span.End()

	var est *websearch.Estimate
	err := r.retry(ctx, "estimate", func(ctx context.Context) error {
		var err error
		est, err = r.estimator.EstimatePrice(ctx, task.Description, task.Unit)
		return err
	})
	if err != nil {
		r.log.Warn("Price estimate failed; falling through", "description", task.Description, "error", err)
		return nil
	}
	if est == nil || !est.Price.IsPositive() {
		return nil
	}
	span.SetAttributes(attribute.Float64("confidence", est.Confidence))
	return est
}

// retry runs fn once plus the configured number of local retries.
func (r *Resolver) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= r.cfg.LocalRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return err
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt < r.cfg.LocalRetries {
			r.log.Debug("Retrying call", "op", op, "attempt", attempt+1, "error", err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func estimateItem(task Task, est *websearch.Estimate, review bool) budget.LineItem {
	return budget.NewMaterial(budget.MaterialMatch{
		Code:            SyntheticCode(budget.EstimateCodePrefix, task.Description),
		Description:     task.Description,
		Unit:            task.Unit,
		UnitPrice:       est.Price,
		Quantity:        task.Quantity,
		MatchConfidence: est.Confidence,
		Source:          budget.SourceWebEstimate,
		SourceURL:       est.SourceURL,
		IsEstimate:      true,
		NeedsReview:     review,
	})
}

func placeholder(task Task) budget.LineItem {
	return budget.NewMaterial(budget.MaterialMatch{
		Description: task.Description,
		Unit:        task.Unit,
		UnitPrice:   decimal.Zero,
		Quantity:    task.Quantity,
		Source:      budget.SourcePlaceholder,
		IsEstimate:  true,
		NeedsReview: true,
	})
}

// SyntheticCode is prefix plus the first 8 hex digits of SHA-1 over the folded description.
func SyntheticCode(prefix, description string) string {
	sum := sha1.Sum([]byte(Fold(strings.TrimSpace(description))))
	return prefix + hex.EncodeToString(sum[:])[:8]
}
