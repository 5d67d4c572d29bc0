package agent

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"deepsearch/backend/internal/llm"
)

// RefusalMessage is streamed verbatim when the guardrail refuses a request.
const RefusalMessage = "I can't help with this request. If you have a different question, I'm happy to research it for you."

var verdictSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"allow": {"type": "boolean"},
		"reason": {"type": "string"}
	},
	"required": ["allow"],
	"additionalProperties": false
}`)

// Guardrail classifies the conversation before any research happens. It
// fails open: a broken classifier must not take the product down.
type Guardrail struct {
	gen     ObjectGenerator
	enabled bool
}

func NewGuardrail(gen ObjectGenerator, enabled bool) Guardrail {
	return Guardrail{gen: gen, enabled: enabled}
}

func (g Guardrail) Check(ctx context.Context, rc *ResearchContext) (Verdict, llm.Usage) {
	if !g.enabled {
		return Verdict{Allow: true}, llm.Usage{}
	}

	var verdict Verdict
	usage, err := g.gen.GenerateObject(ctx, llm.ObjectRequest{
		System:     "You are a safety classifier for a web research agent.",
		Prompt:     buildGuardrailPrompt(rc),
		SchemaName: "safety_verdict",
		Schema:     verdictSchema,
	}, &verdict)
	if err != nil {
		log.Printf("guardrail check failed, allowing request: error=%v", err)
		return Verdict{Allow: true}, usage
	}
	verdict.Reason = strings.TrimSpace(verdict.Reason)
	return verdict, usage
}
