package agent

import (
	"fmt"
	"strings"

	"deepsearch/backend/internal/llm"
)

// ResearchContext is the mutable state of one research run. It is owned by
// the loop goroutine: concurrent workers hand results back through their own
// slots and only the loop mutates the context after a batch resolves.
type ResearchContext struct {
	Conversation  []Message
	Step          int
	SearchHistory []SearchEntry
	LastFeedback  string
	UsageLedger   []llm.Usage
}

func NewResearchContext(conversation []Message) *ResearchContext {
	return &ResearchContext{Conversation: conversation}
}

// Question returns the most recent user turn, which anchors every prompt the
// loop builds.
func (rc *ResearchContext) Question() string {
	for i := len(rc.Conversation) - 1; i >= 0; i-- {
		if rc.Conversation[i].Role == RoleUser {
			return strings.TrimSpace(rc.Conversation[i].Content)
		}
	}
	return ""
}

func (rc *ResearchContext) AppendSearch(entry SearchEntry) {
	rc.SearchHistory = append(rc.SearchHistory, entry)
}

func (rc *ResearchContext) SetFeedback(feedback string) {
	rc.LastFeedback = strings.TrimSpace(feedback)
}

func (rc *ResearchContext) RecordUsage(descriptor string, usage llm.Usage) {
	if usage.TotalTokens == 0 && usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		return
	}
	usage.Descriptor = descriptor
	rc.UsageLedger = append(rc.UsageLedger, usage)
}

func (rc *ResearchContext) TotalTokens() int {
	total := 0
	for _, usage := range rc.UsageLedger {
		total += usage.TotalTokens
	}
	return total
}

// PlannedQueries lists every query issued so far, in plan order.
func (rc *ResearchContext) PlannedQueries() []string {
	queries := make([]string, 0, len(rc.SearchHistory))
	for _, entry := range rc.SearchHistory {
		queries = append(queries, entry.Query)
	}
	return queries
}

// Sources lists every distinct result URL in the order it was first
// recorded.
func (rc *ResearchContext) Sources() []string {
	seen := make(map[string]bool, len(rc.SearchHistory)*4)
	sources := make([]string, 0, len(rc.SearchHistory)*4)
	for _, entry := range rc.SearchHistory {
		for _, result := range entry.Results {
			if result.URL == "" || seen[result.URL] {
				continue
			}
			seen[result.URL] = true
			sources = append(sources, result.URL)
		}
	}
	return sources
}

// ConversationText renders the inbound conversation for prompt assembly.
func (rc *ResearchContext) ConversationText() string {
	var b strings.Builder
	for _, msg := range rc.Conversation {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// SearchHistoryText serializes the accumulated research for prompts. Entries
// keep plan order; each result carries its summary when one was produced.
func (rc *ResearchContext) SearchHistoryText() string {
	if len(rc.SearchHistory) == 0 {
		return "No research has been collected yet."
	}
	var b strings.Builder
	for i, entry := range rc.SearchHistory {
		fmt.Fprintf(&b, "Query %d: %s\n", i+1, entry.Query)
		for _, result := range entry.Results {
			b.WriteString("- ")
			b.WriteString(result.Title)
			if result.Date != "" {
				b.WriteString(" (")
				b.WriteString(result.Date)
				b.WriteString(")")
			}
			b.WriteString("\n  URL: ")
			b.WriteString(result.URL)
			b.WriteString("\n  Snippet: ")
			b.WriteString(result.Snippet)
			if result.Summary != "" {
				b.WriteString("\n  Summary: ")
				b.WriteString(result.Summary)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
