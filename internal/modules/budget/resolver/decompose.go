package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	budget "github.com/yungbote/pricebook-backend/internal/domain/budget"
	"github.com/yungbote/pricebook-backend/internal/ingestion/extractor"
)

type subtask struct {
	Description     string  `json:"description"`
	Unit            string  `json:"unit"`
	QuantityPerUnit float64 `json:"quantity_per_unit"`
}

type decomposition struct {
	Note     string    `json:"note"`
	Subtasks []subtask `json:"subtasks"`
}

func (r *Resolver) decompose(ctx context.Context, task Task, depth int, nodes *nodeBudget) (budget.LineItem, bool) {
	if r.completer == nil || nodes.remaining <= 0 {
		return budget.LineItem{}, false
	}
	ctx, span := tracer.Start(ctx, "resolver.decompose")
	defer span.End()
	span.SetAttributes(attribute.Int("depth", depth))

	system := fmt.Sprintf(decomposeSystem, r.cfg.MaxSubtasks)
	user := fmt.Sprintf("Task: %s\nUnit: %s", task.Description, task.Unit)
	var plan decomposition
	err := r.retry(ctx, "decompose", func(ctx context.Context) error {
		out, err := r.completer.GenerateJSON(ctx, system, user, "task_decomposition", decomposeSchema())
		if err != nil {
			return err
		}
		return decodeInto(out, &plan)
	})
	if err != nil {
		r.log.Warn("Decomposition failed; falling through", "description", task.Description, "error", err)
		return budget.LineItem{}, false
	}

	subs := r.cleanSubtasks(task, plan.Subtasks)
	n := nodes.take(len(subs))
	if n == 0 {
		return budget.LineItem{}, false
	}
	if n < len(subs) {
		r.log.Warn("Sub-task list truncated", "description", task.Description, "requested", len(subs), "kept", n)
	}
	subs = subs[:n]
	span.SetAttributes(attribute.Int("subtasks", n))

	components := make([]budget.LineItem, 0, n)
	for _, s := range subs {
		child := Task{
			Description: s.Description,
			Unit:        s.Unit,
			Quantity:    decimal.NewFromFloat(s.QuantityPerUnit).Mul(task.Quantity),
			Year:        task.Year,
		}
		components = append(components, r.resolve(ctx, child, depth+1, nodes))
	}
	return budget.NewAssembly(budget.Assembly{
		SyntheticCode: SyntheticCode(budget.AssemblyCodePrefix, task.Description),
		Description:   task.Description,
		Note:          strings.TrimSpace(plan.Note),
		Unit:          task.Unit,
		Quantity:      task.Quantity,
		Components:    components,
	}), true
}

// cleanSubtasks drops blanks and self references and enforces the per-level cap.
func (r *Resolver) cleanSubtasks(parent Task, in []subtask) []subtask {
	parentKey := Fold(parent.Description)
	out := make([]subtask, 0, len(in))
	for _, s := range in {
		s.Description = strings.Join(strings.Fields(s.Description), " ")
		if s.Description == "" || Fold(s.Description) == parentKey {
			continue
		}
		if u, ok := extractor.NormalizeUnit(s.Unit); ok {
			s.Unit = u
		} else if s.Unit = strings.TrimSpace(s.Unit); s.Unit == "" {
			s.Unit = "u"
		}
		if s.QuantityPerUnit <= 0 {
			s.QuantityPerUnit = 1
		}
		out = append(out, s)
		if len(out) == r.cfg.MaxSubtasks {
			break
		}
	}
	return out
}

func decodeInto(m map[string]any, out any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
