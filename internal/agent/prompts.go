package agent

import (
	"fmt"
	"strings"
)

func buildGuardrailPrompt(rc *ResearchContext) string {
	var b strings.Builder
	b.WriteString("Classify whether this research request is safe to process.\n")
	b.WriteString("Refuse requests seeking instructions for weapons, malware, serious harm to people, or clearly illegal activity.\n")
	b.WriteString("Everyday questions, controversial topics, and current events are all allowed.\n")
	b.WriteString("\nConversation:\n")
	b.WriteString(rc.ConversationText())
	return strings.TrimSpace(b.String())
}

func buildQueryPlanPrompt(rc *ResearchContext, maxQueries int) string {
	var b strings.Builder
	b.WriteString("You plan web searches for a research assistant.\n")
	fmt.Fprintf(&b, "Produce a short plan and %d to %d specific search queries that together cover the question.\n", 3, maxQueries)
	b.WriteString("Queries must be concrete enough to paste into a search engine. Avoid near-duplicates.\n")
	b.WriteString("\nConversation:\n")
	b.WriteString(rc.ConversationText())
	if rc.LastFeedback != "" {
		b.WriteString("\n\nFeedback on the research so far (steer the next queries with this):\n")
		b.WriteString(rc.LastFeedback)
	}
	if queries := rc.PlannedQueries(); len(queries) > 0 {
		b.WriteString("\n\nQueries already issued (do not repeat them):\n")
		for _, q := range queries {
			b.WriteString("- ")
			b.WriteString(q)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func buildDecisionPrompt(rc *ResearchContext, maxSteps int) string {
	var b strings.Builder
	b.WriteString("You judge whether enough information has been gathered to answer the user.\n")
	b.WriteString("Choose \"answer\" when the research covers the question; choose \"continue\" when key facts are still missing.\n")
	b.WriteString("When continuing, feedback is required: state precisely which information is still missing.\n")
	fmt.Fprintf(&b, "\nResearch step %d of at most %d.\n", rc.Step+1, maxSteps)
	b.WriteString("\nConversation:\n")
	b.WriteString(rc.ConversationText())
	b.WriteString("\n\nResearch gathered so far:\n")
	b.WriteString(rc.SearchHistoryText())
	return strings.TrimSpace(b.String())
}

func buildSummaryPrompt(query, content, conversation string) string {
	var b strings.Builder
	b.WriteString("Condense the page content below into a focused research note for the query.\n")
	b.WriteString("Keep concrete specifics: dates, names, quantities, direct claims.\n")
	b.WriteString("If the page does not contain information relevant to the query, say exactly that instead of inventing it.\n")
	b.WriteString("\nQuery: ")
	b.WriteString(query)
	if conversation != "" {
		b.WriteString("\n\nConversation context:\n")
		b.WriteString(conversation)
	}
	b.WriteString("\n\nPage content:\n")
	b.WriteString(content)
	return strings.TrimSpace(b.String())
}

func buildAnswerSystemPrompt(isFinalAttempt bool) string {
	var b strings.Builder
	b.WriteString("You are a research assistant answering from the collected research below.\n")
	b.WriteString("Write the answer in markdown and cite sources inline as [title](url) links.\n")
	b.WriteString("Only use information present in the research; do not invent sources.\n")
	if isFinalAttempt {
		b.WriteString("The research budget is exhausted: give your best possible answer from what is available, noting any gaps, rather than declining.\n")
	}
	return strings.TrimSpace(b.String())
}

func buildAnswerPrompt(rc *ResearchContext) string {
	var b strings.Builder
	b.WriteString("Conversation:\n")
	b.WriteString(rc.ConversationText())
	b.WriteString("\n\nCollected research:\n")
	b.WriteString(rc.SearchHistoryText())
	return strings.TrimSpace(b.String())
}
