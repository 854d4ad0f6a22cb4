package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	budget "github.com/yungbote/pricebook-backend/internal/domain/budget"
	"github.com/yungbote/pricebook-backend/internal/domain/events"
	"github.com/yungbote/pricebook-backend/internal/modules/budget/resolver"
	pkgerrors "github.com/yungbote/pricebook-backend/internal/pkg/errors"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
	"github.com/yungbote/pricebook-backend/internal/realtime"
)

var tracer = otel.Tracer("pricebook/orchestrator")

// ErrNoTasks means the structuring step produced nothing to price.
var ErrNoTasks = errors.New("no tasks could be extracted from the description")

type Completer interface {
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
}

type ItemResolver interface {
	Resolve(ctx context.Context, task resolver.Task) budget.LineItem
}

type Request struct {
	Description string        `json:"description" validate:"required,min=3,max=20000"`
	TotalArea   *float64      `json:"total_area,omitempty" validate:"omitempty,gt=0"`
	Context     string        `json:"context,omitempty" validate:"max=5000"`
	Year        int           `json:"year,omitempty" validate:"omitempty,min=1900,max=2200"`
	Rates       *budget.Rates `json:"rates,omitempty"`
}

type Orchestrator struct {
	log       *logger.Logger
	cfg       Config
	completer Completer
	resolver  ItemResolver
	bus       *realtime.EventBus
	validate  *validator.Validate
}

func New(baseLog *logger.Logger, cfg Config, completer Completer, res ItemResolver, bus *realtime.EventBus) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Orchestrator{
		log:       baseLog.With("service", "BudgetOrchestrator"),
		cfg:       cfg,
		completer: completer,
		resolver:  res,
		bus:       bus,
		validate:  validator.New(),
	}
}

// Validate checks a request before any work is scheduled.
func (o *Orchestrator) Validate(req Request) error {
	if err := o.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidArgument, err)
	}
	if req.Rates != nil {
		if err := req.Rates.Validate(); err != nil {
			return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidArgument, err)
		}
	}
	return nil
}

// Generate builds a budget for req and reports progress on scopeID.
// When ctx ends, resolutions already running finish, nothing new starts, and ctx.Err() is returned.
func (o *Orchestrator) Generate(ctx context.Context, scopeID string, req Request) (*budget.Budget, error) {
	if err := o.Validate(req); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "orchestrator.generate")
	defer span.End()
	span.SetAttributes(attribute.String("scope_id", scopeID))

	scope := o.bus.Scope(scopeID)
	emitCtx := context.WithoutCancel(ctx)
	log := o.log.With("scope_id", scopeID)

	scope.Emit(emitCtx, events.DecompositionStart, map[string]any{"description": req.Description})
	plan, err := o.structure(ctx, req)
	if err == nil && plan.taskCount() == 0 {
		err = ErrNoTasks
	}
	if err != nil {
		log.Error("Budget structuring failed", "error", err)
		scope.Emit(emitCtx, events.Error, map[string]any{"message": err.Error(), "stage": "structure"})
		return nil, err
	}
	log.Info("Budget structured", "chapters", len(plan.Chapters), "tasks", plan.taskCount())

	chapters := make([]budget.Chapter, 0, len(plan.Chapters))
	for ci, pc := range plan.Chapters {
		if err := ctx.Err(); err != nil {
			return nil, o.cancelled(emitCtx, scope, err)
		}
		scope.Emit(emitCtx, events.ChapterStart, map[string]any{"index": ci, "name": pc.Name, "tasks": len(pc.Tasks)})
		items, err := o.resolveChapter(ctx, scope, ci, pc, req.Year)
		if err != nil {
			return nil, o.cancelled(emitCtx, scope, err)
		}
		chapters = append(chapters, budget.NewChapter(pc.Name, items))
	}

	scope.Emit(emitCtx, events.ValidationStart, nil)
	rates := o.cfg.Rates
	if req.Rates != nil {
		rates = *req.Rates
	}
	breakdown := budget.ComputeBreakdown(chapters, rates)
	b := &budget.Budget{Chapters: chapters, CostBreakdown: breakdown, TotalEstimated: breakdown.Total}
	if err := b.Validate(); err != nil {
		log.Error("Budget failed validation", "error", err)
		scope.Emit(emitCtx, events.Error, map[string]any{"message": err.Error(), "stage": "validation"})
		return nil, fmt.Errorf("validate budget: %w", err)
	}

	scope.Emit(emitCtx, events.Complete, map[string]any{"budget": b})
	log.Info("Budget complete", "total", b.TotalEstimated.String())
	return b, nil
}

// resolveChapter fills one slot per task; each slot has a single writer.
func (o *Orchestrator) resolveChapter(ctx context.Context, scope *realtime.Scope, ci int, pc plannedChapter, year int) ([]budget.LineItem, error) {
	workCtx := context.WithoutCancel(ctx)
	slots := make([]budget.LineItem, len(pc.Tasks))

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, t := range pc.Tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			scope.Emit(workCtx, events.ItemResolving, map[string]any{"chapter": ci, "index": i, "description": t.Description})
			li := o.resolver.Resolve(workCtx, resolver.Task{
				Description: t.Description,
				Quantity:    decimal.NewFromFloat(t.Quantity),
				Unit:        t.Unit,
				Year:        year,
			})
			slots[i] = li
			scope.Emit(workCtx, events.ItemResolved, map[string]any{"chapter": ci, "index": i, "item": li})
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

func (o *Orchestrator) cancelled(ctx context.Context, scope *realtime.Scope, err error) error {
	o.log.Warn("Budget generation cancelled", "scope_id", scope.ID(), "error", err)
	scope.Emit(ctx, events.Error, map[string]any{"message": err.Error(), "stage": "cancelled"})
	return err
}

// ResolveItem prices a single task outside a budget run.
func (o *Orchestrator) ResolveItem(ctx context.Context, description string, quantity decimal.Decimal, unit string) budget.LineItem {
	return o.resolver.Resolve(ctx, resolver.Task{Description: description, Quantity: quantity, Unit: unit})
}
