package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"deepsearch/backend/internal/llm"
)

const (
	minPlannedQueries = 3
	maxPlannedQueries = 5
)

var queryPlanSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"plan": {"type": "string"},
		"queries": {"type": "array", "items": {"type": "string"}, "minItems": 3, "maxItems": 5}
	},
	"required": ["plan", "queries"],
	"additionalProperties": false
}`)

// Rewriter turns the conversation plus accumulated feedback into the next
// batch of search queries.
type Rewriter struct {
	gen        ObjectGenerator
	maxQueries int
}

func NewRewriter(gen ObjectGenerator, maxQueries int) Rewriter {
	if maxQueries < minPlannedQueries {
		maxQueries = minPlannedQueries
	}
	if maxQueries > maxPlannedQueries {
		maxQueries = maxPlannedQueries
	}
	return Rewriter{gen: gen, maxQueries: maxQueries}
}

func (r Rewriter) Plan(ctx context.Context, rc *ResearchContext) (QueryPlan, llm.Usage, error) {
	var plan QueryPlan
	usage, err := r.gen.GenerateObject(ctx, llm.ObjectRequest{
		System:     "You are the query planning stage of a web research agent.",
		Prompt:     buildQueryPlanPrompt(rc, r.maxQueries),
		SchemaName: "query_plan",
		Schema:     queryPlanSchema,
	}, &plan)
	if err != nil {
		return QueryPlan{}, usage, fmt.Errorf("plan queries: %w", err)
	}

	plan.Plan = strings.TrimSpace(plan.Plan)
	plan.Queries = normalizeQueries(plan.Queries, r.maxQueries)
	if len(plan.Queries) == 0 {
		plan.Queries = fallbackQueries(rc.Question(), r.maxQueries)
	}
	if len(plan.Queries) == 0 {
		return QueryPlan{}, usage, fmt.Errorf("query planner produced no usable queries")
	}
	return plan, usage, nil
}

// normalizeQueries trims, drops blanks and duplicates, and caps the batch
// size while preserving plan order.
func normalizeQueries(queries []string, maxQueries int) []string {
	seen := make(map[string]bool, len(queries))
	cleaned := make([]string, 0, len(queries))
	for _, query := range queries {
		trimmed := strings.TrimSpace(query)
		if trimmed == "" {
			continue
		}
		lowered := strings.ToLower(trimmed)
		if seen[lowered] {
			continue
		}
		seen[lowered] = true
		cleaned = append(cleaned, trimmed)
		if len(cleaned) == maxQueries {
			break
		}
	}
	return cleaned
}

// fallbackQueries derives searches directly from the question when the model
// returns an empty batch.
func fallbackQueries(question string, maxQueries int) []string {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return nil
	}
	candidates := []string{
		trimmed,
		trimmed + " explained",
		trimmed + " latest",
		trimmed + " overview",
		trimmed + " facts",
	}
	return normalizeQueries(candidates, maxQueries)
}
