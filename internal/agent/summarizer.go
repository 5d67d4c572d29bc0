package agent

import (
	"context"
	"strings"
	"time"

	"deepsearch/backend/internal/cache"
	"deepsearch/backend/internal/llm"
)

const maxSummaryContentRunes = 12_000

type summaryArgs struct {
	Query        string `json:"query"`
	URL          string `json:"url"`
	Content      string `json:"content"`
	Conversation string `json:"conversation"`
}

type summaryValue struct {
	Text  string    `json:"text"`
	Usage llm.Usage `json:"usage"`
}

// Summarizer condenses crawled pages into query-focused notes. Results are
// memoized so re-researching the same sources within the TTL does not pay
// for the same generation twice.
type Summarizer struct {
	gen  TextGenerator
	memo *cache.Memoized[summaryArgs, summaryValue]
}

func NewSummarizer(gen TextGenerator, store cache.Store, ttl time.Duration) *Summarizer {
	s := &Summarizer{gen: gen}
	if store != nil {
		s.memo = cache.NewMemoized("agent.summarize", store, ttl, s.generate)
	}
	return s
}

// Summarize returns the note and the token usage of the underlying call.
// Usage is zero when the note came from the cache.
func (s *Summarizer) Summarize(ctx context.Context, query, url, content, conversation string) (string, llm.Usage, error) {
	args := summaryArgs{
		Query:        strings.TrimSpace(query),
		URL:          url,
		Content:      trimRunes(content, maxSummaryContentRunes),
		Conversation: conversation,
	}
	if s.memo == nil {
		value, err := s.generate(ctx, args)
		return value.Text, value.Usage, err
	}

	value, cached, err := s.memo.Call(ctx, args)
	if err != nil {
		return "", llm.Usage{}, err
	}
	if cached {
		return value.Text, llm.Usage{}, nil
	}
	return value.Text, value.Usage, nil
}

func (s *Summarizer) generate(ctx context.Context, args summaryArgs) (summaryValue, error) {
	text, usage, err := s.gen.Complete(ctx, llm.CompletionRequest{
		System: "You are the summarization stage of a web research agent.",
		Prompt: buildSummaryPrompt(args.Query, args.Content, args.Conversation),
	})
	if err != nil {
		return summaryValue{}, err
	}
	return summaryValue{Text: strings.TrimSpace(text), Usage: usage}, nil
}

func trimRunes(input string, maxRunes int) string {
	runes := []rune(input)
	if len(runes) <= maxRunes {
		return input
	}
	return string(runes[:maxRunes])
}
