package resolver

const triageSystem = `Classify a construction budget task.
"catalog" means a standard unit of work that a Spanish construction price book would list (demolition,
masonry, plastering, painting, tiling, plumbing, electrical, carpentry).
"custom" means bespoke, artistic or highly specific work unlikely to appear as a single price book entry.`

func triageSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category": map[string]any{"type": "string", "enum": []string{string(routeCatalog), string(routeCustom)}},
			"reason":   map[string]any{"type": "string"},
		},
		"required":             []string{"category", "reason"},
		"additionalProperties": false,
	}
}

const decomposeSystem = `Break a construction task into the ordered sub-tasks needed to execute it.
Each sub-task must be a single unit of work that can be priced on its own (materials, labour, preparation).
quantity_per_unit is how much of the sub-task one unit of the parent task needs, in the sub-task's unit.
Return at most %d sub-tasks. Do not repeat the parent task as a sub-task.`

func decomposeSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"note": map[string]any{"type": "string"},
			"subtasks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"description":       map[string]any{"type": "string"},
						"unit":              map[string]any{"type": "string"},
						"quantity_per_unit": map[string]any{"type": "number"},
					},
					"required":             []string{"description", "unit", "quantity_per_unit"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"note", "subtasks"},
		"additionalProperties": false,
	}
}
