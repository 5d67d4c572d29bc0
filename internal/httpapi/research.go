package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"deepsearch/backend/internal/agent"
	"deepsearch/backend/internal/llm"
	"deepsearch/backend/internal/store"
)

const maxTitleRunes = 80

type researchRequest struct {
	Messages []agent.Message `json:"messages"`
}

func (req researchRequest) validate() string {
	if len(req.Messages) == 0 {
		return "messages must not be empty"
	}
	hasUser := false
	for _, msg := range req.Messages {
		if msg.Role != agent.RoleUser && msg.Role != agent.RoleAssistant {
			return "message role must be user or assistant"
		}
		if strings.TrimSpace(msg.Content) == "" {
			return "message content must not be empty"
		}
		if msg.Role == agent.RoleUser {
			hasUser = true
		}
	}
	if !hasUser {
		return "messages must include a user message"
	}
	return ""
}

// Research runs the agent loop and streams the answer over SSE. Event types:
// metadata, action, sources, usage, token, error, done.
func (h Handler) Research(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := readJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if reason := req.validate(); reason != "" {
		respondError(w, http.StatusBadRequest, "invalid_request", reason)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	timeoutSeconds := h.cfg.ResearchTimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 180
	}
	runCtx, cancel := context.WithTimeout(r.Context(), time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	startedAt := time.Now()
	question := latestQuestion(req.Messages)
	log.Printf(
		"research start: messages=%d question_chars=%d max_steps=%d timeout_seconds=%d",
		len(req.Messages),
		len([]rune(question)),
		h.cfg.ResearchMaxSteps,
		timeoutSeconds,
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_ = writeSSEEvent(w, map[string]any{
		"type":     "metadata",
		"model":    h.cfg.OpenRouterModel,
		"maxSteps": h.cfg.ResearchMaxSteps,
	})
	flusher.Flush()

	onDelta := func(delta string) error {
		if err := writeSSEEvent(w, map[string]any{"type": "token", "delta": delta}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	onEvent := func(event agent.Event) {
		_ = writeSSEEvent(w, event)
		flusher.Flush()
	}

	result, err := h.researcher.Run(runCtx, req.Messages, onDelta, onEvent)
	if err != nil {
		log.Printf("research failed: elapsed=%s error=%v", time.Since(startedAt).Round(time.Millisecond), err)
		_ = writeSSEEvent(w, map[string]any{"type": "error", "message": "internal error"})
		flusher.Flush()
		return
	}

	title := h.generateTitle(r.Context(), question)
	runID := h.persistRun(r.Context(), req.Messages, question, title, result)

	totalTokens := 0
	for _, usage := range result.Usage {
		totalTokens += usage.TotalTokens
	}

	done := map[string]any{
		"type":        "done",
		"title":       title,
		"sources":     result.Sources,
		"steps":       result.Steps,
		"totalTokens": totalTokens,
	}
	if result.Refused {
		done["refused"] = true
	}
	if runID != "" {
		done["runId"] = runID
	}
	_ = writeSSEEvent(w, done)
	flusher.Flush()

	log.Printf(
		"research done: elapsed=%s steps=%d sources=%d total_tokens=%d refused=%t run_id=%s",
		time.Since(startedAt).Round(time.Millisecond),
		result.Steps,
		len(result.Sources),
		totalTokens,
		result.Refused,
		runID,
	)
}

func latestQuestion(messages []agent.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == agent.RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

// generateTitle is best-effort: a failed generation falls back to the
// truncated question.
func (h Handler) generateTitle(ctx context.Context, question string) string {
	fallback := truncateTitle(question)
	if h.titler == nil {
		return fallback
	}

	titleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	title, _, err := h.titler.Complete(titleCtx, llm.CompletionRequest{
		System: "You write short titles for research conversations.",
		Prompt: "Write a title of at most eight words for this research question. Reply with the title only, no quotes.\n\nQuestion: " + question,
	})
	if err != nil {
		log.Printf("title generation failed: error=%v", err)
		return fallback
	}
	title = strings.Trim(strings.TrimSpace(title), `"`)
	if title == "" {
		return fallback
	}
	return truncateTitle(title)
}

func truncateTitle(input string) string {
	trimmed := strings.TrimSpace(input)
	runes := []rune(trimmed)
	if len(runes) <= maxTitleRunes {
		return trimmed
	}
	return string(runes[:maxTitleRunes-1]) + "…"
}

// persistRun saves the finished conversation when a store is configured.
// Persistence failures are logged, never surfaced to the client.
func (h Handler) persistRun(ctx context.Context, messages []agent.Message, question, title string, result agent.RunResult) string {
	if h.runs == nil || result.Refused {
		return ""
	}

	finalMessages := append(append([]agent.Message(nil), messages...), agent.Message{
		Role:    agent.RoleAssistant,
		Content: result.Answer,
	})
	encodedMessages, err := json.Marshal(finalMessages)
	if err != nil {
		log.Printf("encode run messages failed: error=%v", err)
		return ""
	}
	encodedSources, err := json.Marshal(result.Sources)
	if err != nil {
		log.Printf("encode run sources failed: error=%v", err)
		return ""
	}

	saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	run, err := h.runs.SaveRun(saveCtx, store.Run{
		Title:    title,
		Question: question,
		Answer:   result.Answer,
		Messages: encodedMessages,
		Sources:  encodedSources,
	})
	if err != nil {
		log.Printf("persist run failed: error=%v", err)
		return ""
	}
	return run.ID
}
