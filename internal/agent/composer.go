package agent

import (
	"context"
	"fmt"
	"strings"

	"deepsearch/backend/internal/llm"
)

// Composer streams the final cited answer from the accumulated research.
type Composer struct {
	gen StreamGenerator
}

func NewComposer(gen StreamGenerator) Composer {
	return Composer{gen: gen}
}

// Compose streams the answer through onDelta and returns the full text.
// isFinalAttempt marks a run whose step budget ran out before the planner
// chose to answer.
func (c Composer) Compose(ctx context.Context, rc *ResearchContext, isFinalAttempt bool, onDelta func(string) error) (string, llm.Usage, error) {
	messages := []llm.Message{
		{Role: "system", Content: buildAnswerSystemPrompt(isFinalAttempt)},
		{Role: "user", Content: buildAnswerPrompt(rc)},
	}

	var answer strings.Builder
	usage, err := c.gen.Stream(ctx, llm.StreamRequest{Messages: messages}, func(delta string) error {
		answer.WriteString(delta)
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	})
	if err != nil {
		return "", usage, fmt.Errorf("compose answer: %w", err)
	}

	text := strings.TrimSpace(answer.String())
	if text == "" {
		return "", usage, fmt.Errorf("compose answer: empty response")
	}
	return text, usage, nil
}
