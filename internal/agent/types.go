// Package agent implements the bounded research loop: plan queries, search,
// crawl, summarize, and decide when enough has been gathered to answer.
package agent

import (
	"context"

	"deepsearch/backend/internal/crawler"
	"deepsearch/backend/internal/llm"
	"deepsearch/backend/internal/serper"
)

// Message is one turn of the inbound conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SearchResult is one organic hit enriched with the crawled page summary.
// Summary carries a placeholder explanation when the crawl or the
// summarization failed.
type SearchResult struct {
	Date    string `json:"date,omitempty"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Summary string `json:"summary,omitempty"`
}

// SearchEntry groups the results attributed to one planned query.
type SearchEntry struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// Decision is the planner's verdict after a research step.
type Decision struct {
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
	Feedback  string `json:"feedback,omitempty"`
}

const (
	ActionContinue = "continue"
	ActionAnswer   = "answer"
)

// QueryPlan is the rewriter's output consumed before each batch of searches.
type QueryPlan struct {
	Plan    string   `json:"plan"`
	Queries []string `json:"queries"`
}

// Verdict is the guardrail's classification of the inbound conversation.
type Verdict struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// RunResult is what a completed research run hands back to the transport
// layer.
type RunResult struct {
	Answer  string      `json:"answer"`
	Refused bool        `json:"refused"`
	Sources []string    `json:"sources"`
	Steps   int         `json:"steps"`
	Usage   []llm.Usage `json:"usage"`
}

// Searcher is the slice of the search client the loop needs.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]serper.Result, error)
}

// BatchCrawler is the slice of the page crawler the loop needs.
type BatchCrawler interface {
	CrawlBatch(ctx context.Context, urls []string) crawler.BatchResult
}

// TextGenerator produces free text from a system+prompt pair.
type TextGenerator interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, llm.Usage, error)
}

// ObjectGenerator produces a schema-constrained JSON object.
type ObjectGenerator interface {
	GenerateObject(ctx context.Context, req llm.ObjectRequest, target any) (llm.Usage, error)
}

// StreamGenerator streams text deltas from a message list.
type StreamGenerator interface {
	Stream(ctx context.Context, req llm.StreamRequest, onDelta func(string) error) (llm.Usage, error)
}
