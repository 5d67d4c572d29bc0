package agent

import (
	"context"
	"strings"
	"testing"

	"deepsearch/backend/internal/llm"
)

func TestValidateDecision(t *testing.T) {
	cases := []struct {
		name     string
		decision Decision
		wantErr  bool
		wantFeed bool
	}{
		{name: "answer", decision: Decision{Action: "answer", Reasoning: "done"}},
		{name: "continue with feedback", decision: Decision{Action: "continue", Reasoning: "gaps", Feedback: "need dates"}},
		{name: "continue without feedback gets default", decision: Decision{Action: "continue", Reasoning: "gaps"}, wantFeed: true},
		{name: "case and whitespace normalized", decision: Decision{Action: " Answer ", Reasoning: " ok "}},
		{name: "unknown action", decision: Decision{Action: "reflect", Reasoning: "hm"}, wantErr: true},
		{name: "empty reasoning", decision: Decision{Action: "answer"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := tc.decision
			err := validateDecision(&decision)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if decision.Action != ActionAnswer && decision.Action != ActionContinue {
				t.Fatalf("action not normalized: %q", decision.Action)
			}
			if tc.wantFeed && decision.Feedback == "" {
				t.Fatal("continue decision should get default feedback")
			}
		})
	}
}

func TestPlannerDecidePropagatesGenerationErrors(t *testing.T) {
	objects := newObjectByName()
	planner := NewPlanner(objects, 10)
	rc := NewResearchContext([]Message{{Role: RoleUser, Content: "question"}})
	if _, _, err := planner.Decide(context.Background(), rc); err == nil {
		t.Fatal("expected error when generation fails")
	}
}

func TestNormalizeQueries(t *testing.T) {
	queries := normalizeQueries([]string{" alpha ", "", "Alpha", "beta", "gamma", "delta", "epsilon", "zeta"}, 5)
	want := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	if len(queries) != len(want) {
		t.Fatalf("expected %d queries, got %v", len(want), queries)
	}
	for i, q := range queries {
		if !strings.EqualFold(q, want[i]) {
			t.Fatalf("query %d = %q, want %q", i, q, want[i])
		}
	}
}

func TestRewriterFallsBackToQuestionQueries(t *testing.T) {
	objects := newObjectByName()
	objects.responses["query_plan"] = fixedResponse(`{"plan": "no ideas", "queries": []}`)
	rewriter := NewRewriter(objects, 4)
	rc := NewResearchContext([]Message{{Role: RoleUser, Content: "history of the metric system"}})

	plan, _, err := rewriter.Plan(context.Background(), rc)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(plan.Queries) == 0 {
		t.Fatal("fallback should produce queries")
	}
	if plan.Queries[0] != "history of the metric system" {
		t.Fatalf("first fallback query should be the question, got %q", plan.Queries[0])
	}
	if len(plan.Queries) > 4 {
		t.Fatalf("fallback exceeded max queries: %v", plan.Queries)
	}
}

func TestGuardrailDisabledAllowsEverything(t *testing.T) {
	guardrail := NewGuardrail(nil, false)
	rc := NewResearchContext([]Message{{Role: RoleUser, Content: "anything"}})
	verdict, usage := guardrail.Check(context.Background(), rc)
	if !verdict.Allow {
		t.Fatal("disabled guardrail must allow")
	}
	if usage != (llm.Usage{}) {
		t.Fatalf("disabled guardrail should report zero usage, got %+v", usage)
	}
}

func TestGuardrailFailsOpenOnGenerationError(t *testing.T) {
	guardrail := NewGuardrail(newObjectByName(), true)
	rc := NewResearchContext([]Message{{Role: RoleUser, Content: "anything"}})
	verdict, _ := guardrail.Check(context.Background(), rc)
	if !verdict.Allow {
		t.Fatal("guardrail must fail open when classification errors")
	}
}
