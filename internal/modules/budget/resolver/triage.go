package resolver

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

type route string

const (
	routeCatalog route = "catalog"
	routeCustom  route = "custom"
)

type stage int

const (
	stageSearch stage = iota
	stageEstimate
)

// stages is the branch order before decomposition.
func (r route) stages() []stage {
	if r == routeCustom {
		return []stage{stageEstimate, stageSearch}
	}
	return []stage{stageSearch, stageEstimate}
}

var customMarkers = []string{
	"artistic", "mural", "mosaic", "escultur", "diseno", "personaliz", "a medida", "decorativ",
	"ornament", "vitral", "vidriera", "artesan", "bespoke", "custom", "replica",
}

// heuristicRoute flags descriptions that read as bespoke work.
func heuristicRoute(description string) route {
	folded := Fold(description)
	for _, m := range customMarkers {
		if strings.Contains(folded, m) {
			return routeCustom
		}
	}
	return routeCatalog
}

func (r *Resolver) triage(ctx context.Context, task Task) route {
	ctx, span := tracer.Start(ctx, "resolver.triage")
	defer span.End()

	if r.completer == nil {
		return heuristicRoute(task.Description)
	}
	user := fmt.Sprintf("Task: %s\nUnit: %s", task.Description, task.Unit)
	var out map[string]any
	err := r.retry(ctx, "triage", func(ctx context.Context) error {
		var err error
		out, err = r.completer.GenerateJSON(ctx, triageSystem, user, "task_triage", triageSchema())
		return err
	})
	if err != nil {
		rt := heuristicRoute(task.Description)
		r.log.Warn("Triage call failed; using keyword heuristic", "description", task.Description, "route", rt, "error", err)
		span.SetAttributes(attribute.Bool("fallback", true), attribute.String("route", string(rt)))
		return rt
	}
	rt := route(strings.ToLower(strings.TrimSpace(fmt.Sprint(out["category"]))))
	if rt != routeCatalog && rt != routeCustom {
		rt = heuristicRoute(task.Description)
	}
	span.SetAttributes(attribute.String("route", string(rt)))
	return rt
}
