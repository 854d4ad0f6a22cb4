package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const structureSystem = `You prepare construction budgets for Spanish renovation projects.
Split the project into chapters (for example Demoliciones, Albañilería, Fontanería, Electricidad, Pintura)
and list, per chapter and in execution order, the atomic tasks to price.
Each task needs a short description in Spanish, a measurement unit and a quantity for the whole project.
Use the total area when given to size quantities. Do not add tasks that the description does not imply.`

func structureSchema() map[string]any {
	task := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{"type": "string"},
			"unit":        map[string]any{"type": "string"},
			"quantity":    map[string]any{"type": "number"},
		},
		"required":             []string{"description", "unit", "quantity"},
		"additionalProperties": false,
	}
	chapter := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":  map[string]any{"type": "string"},
			"tasks": map[string]any{"type": "array", "items": task},
		},
		"required":             []string{"name", "tasks"},
		"additionalProperties": false,
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"chapters": map[string]any{"type": "array", "items": chapter},
		},
		"required":             []string{"chapters"},
		"additionalProperties": false,
	}
}

type plannedTask struct {
	Description string  `json:"description"`
	Unit        string  `json:"unit"`
	Quantity    float64 `json:"quantity"`
}

type plannedChapter struct {
	Name  string        `json:"name"`
	Tasks []plannedTask `json:"tasks"`
}

type structure struct {
	Chapters []plannedChapter `json:"chapters"`
}

func (s structure) taskCount() int {
	n := 0
	for _, ch := range s.Chapters {
		n += len(ch.Tasks)
	}
	return n
}

func structureUser(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", strings.TrimSpace(req.Description))
	if req.TotalArea != nil {
		fmt.Fprintf(&b, "Total area: %s m2\n", decimal.NewFromFloat(*req.TotalArea).String())
	}
	if c := strings.TrimSpace(req.Context); c != "" {
		fmt.Fprintf(&b, "Context: %s\n", c)
	}
	return b.String()
}

func (o *Orchestrator) structure(ctx context.Context, req Request) (structure, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.structure")
	defer span.End()

	user := structureUser(req)
	var lastErr error
	for attempt := 0; attempt <= o.cfg.StructureRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return structure{}, err
		}
		out, err := o.completer.GenerateJSON(ctx, structureSystem, user, "budget_structure", structureSchema())
		if err != nil {
			lastErr = err
			o.log.Warn("Structuring call failed", "attempt", attempt+1, "error", err)
			continue
		}
		var s structure
		if err := decodeInto(out, &s); err != nil {
			lastErr = err
			continue
		}
		return clean(s), nil
	}
	return structure{}, fmt.Errorf("structure budget: %w", lastErr)
}

// clean drops blank tasks and chapters left without tasks.
func clean(s structure) structure {
	out := structure{Chapters: make([]plannedChapter, 0, len(s.Chapters))}
	for i, ch := range s.Chapters {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			name = fmt.Sprintf("Capítulo %d", i+1)
		}
		tasks := make([]plannedTask, 0, len(ch.Tasks))
		for _, t := range ch.Tasks {
			t.Description = strings.Join(strings.Fields(t.Description), " ")
			if t.Description == "" {
				continue
			}
			t.Unit = strings.TrimSpace(t.Unit)
			tasks = append(tasks, t)
		}
		if len(tasks) > 0 {
			out.Chapters = append(out.Chapters, plannedChapter{Name: name, Tasks: tasks})
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
