package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"deepsearch/backend/internal/llm"
)

var decisionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["continue", "answer"]},
		"reasoning": {"type": "string"},
		"feedback": {"type": "string"}
	},
	"required": ["action", "reasoning"],
	"additionalProperties": false
}`)

// Planner decides after each research step whether to keep searching or to
// answer.
type Planner struct {
	gen      ObjectGenerator
	maxSteps int
}

func NewPlanner(gen ObjectGenerator, maxSteps int) Planner {
	return Planner{gen: gen, maxSteps: maxSteps}
}

// Decide returns the next action. Generation failures propagate: a broken
// planner makes the whole run unreliable, unlike a failed crawl.
func (p Planner) Decide(ctx context.Context, rc *ResearchContext) (Decision, llm.Usage, error) {
	var decision Decision
	usage, err := p.gen.GenerateObject(ctx, llm.ObjectRequest{
		System:     "You are the decision stage of a web research agent.",
		Prompt:     buildDecisionPrompt(rc, p.maxSteps),
		SchemaName: "research_decision",
		Schema:     decisionSchema,
	}, &decision)
	if err != nil {
		return Decision{}, usage, fmt.Errorf("plan next action: %w", err)
	}
	if err := validateDecision(&decision); err != nil {
		return Decision{}, usage, err
	}
	return decision, usage, nil
}

func validateDecision(decision *Decision) error {
	decision.Action = strings.ToLower(strings.TrimSpace(decision.Action))
	decision.Reasoning = strings.TrimSpace(decision.Reasoning)
	decision.Feedback = strings.TrimSpace(decision.Feedback)

	switch decision.Action {
	case ActionContinue:
		if decision.Feedback == "" {
			decision.Feedback = "The research so far does not fully answer the question; gather more specific sources."
		}
	case ActionAnswer:
	default:
		return fmt.Errorf("planner returned unknown action %q", decision.Action)
	}
	if decision.Reasoning == "" {
		return fmt.Errorf("planner returned empty reasoning")
	}
	return nil
}
